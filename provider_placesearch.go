package rvg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const ProviderTypePlaceSearch = "place_search"

const PlaceSearchParamKeyKeyword = "keyword"
const PlaceSearchParamKeyDisplay = "display"

const PlaceSearchUrl = "https://api.place.naver.com/graphql"
const PlaceSearchDefaultKeyword = "코로나백신위탁의료기관"
const PlaceSearchDefaultDisplay = 100
const PlaceSearchOperation = "vaccineList"

const PlaceSearchQueryText = `query vaccineList($input: RestsInput, $businessesInput: RestsBusinessesInput, $isNmap: Boolean!, $isBounds: Boolean!) {
  rests(input: $input) {
    businesses(input: $businessesInput) {
      total
      vaccineLastSave
      isUpdateDelayed
      items {
        id
        name
        phone
        roadAddress
        address
        x
        y
        vaccineQuantity {
          totalQuantity
          totalQuantityStatus
          startTime
          endTime
          vaccineOrganizationCode
          list {
            quantity
            quantityStatus
            vaccineType
            __typename
          }
          __typename
        }
        __typename
      }
      optionsForMap @include(if: $isBounds) {
        center
        __typename
      }
      __typename
    }
    __typename
  }
}
`

// PlaceSearchProvider runs the map search GraphQL query; each item already
// carries its per-vaccine breakdown.
type PlaceSearchProvider struct {
	ProviderName string
	Endpoint     *Endpoint
	Keyword      string
	Display      int
	HttpClient   *http.Client
}

type PlaceSearchProviderFactory struct {
}

func (pf *PlaceSearchProviderFactory) Type() string {
	return ProviderTypePlaceSearch
}

func (pf *PlaceSearchProviderFactory) CreateProvider(name string, client *http.Client) Provider {
	provider := new(PlaceSearchProvider)
	provider.ProviderName = name
	provider.HttpClient = client
	provider.Keyword = PlaceSearchDefaultKeyword
	provider.Display = PlaceSearchDefaultDisplay
	provider.Endpoint = &Endpoint{
		Url:     PlaceSearchUrl,
		Method:  http.MethodPost,
		Headers: withBrowserHeaders("https://m.place.naver.com", "https://m.place.naver.com/rest/vaccine?vaccineFilter=used"),
	}

	return provider
}

func (p *PlaceSearchProvider) Type() string {
	return ProviderTypePlaceSearch
}

func (p *PlaceSearchProvider) Name() string {
	return p.ProviderName
}

func (p *PlaceSearchProvider) Configure(params map[string]interface{}) error {
	endpoint, err := getEndpointOptional(params, ParamKeyEndpoint)
	if err != nil {
		return err
	}
	if endpoint != nil {
		endpoint.Method = http.MethodPost
		p.Endpoint = endpoint
	}

	if keyword, exists := getStringOptional(params, PlaceSearchParamKeyKeyword); exists && len(keyword) > 0 {
		p.Keyword = keyword
	}

	if display, exists := getIntOptionalWithDefault(params, PlaceSearchParamKeyDisplay, PlaceSearchDefaultDisplay); exists {
		if display < 1 {
			return fmt.Errorf("%s must be positive, got %d", PlaceSearchParamKeyDisplay, display)
		}
		p.Display = display
	}

	if timeout, exists := getFloatOptional(params, EndpointTimeout); exists && timeout > 0 {
		p.Endpoint.Timeout = secondsToDuration(timeout)
	}

	return nil
}

type PlaceSearchInput struct {
	OperationName string               `json:"operationName"`
	Variables     PlaceSearchVariables `json:"variables"`
	Query         string               `json:"query"`
}

type PlaceSearchVariables struct {
	Input           PlaceSearchRestsInput      `json:"input"`
	BusinessesInput PlaceSearchBusinessesInput `json:"businessesInput"`
	IsNmap          bool                       `json:"isNmap"`
	IsBounds        bool                       `json:"isBounds"`
}

type PlaceSearchRestsInput struct {
	Keyword string `json:"keyword"`
	X       string `json:"x"`
	Y       string `json:"y"`
}

type PlaceSearchBusinessesInput struct {
	Bounds       string `json:"bounds"`
	Start        int    `json:"start"`
	Display      int    `json:"display"`
	DeviceType   string `json:"deviceType"`
	X            string `json:"x"`
	Y            string `json:"y"`
	SortingOrder string `json:"sortingOrder"`
}

type PlaceSearchResult struct {
	Data struct {
		Rests struct {
			Businesses struct {
				Total int                   `json:"total"`
				Items []PlaceSearchBusiness `json:"items"`
			} `json:"businesses"`
		} `json:"rests"`
	} `json:"data"`
}

type PlaceSearchBusiness struct {
	Id              string                     `json:"id"`
	Name            string                     `json:"name"`
	RoadAddress     string                     `json:"roadAddress"`
	Address         string                     `json:"address"`
	VaccineQuantity PlaceSearchVaccineQuantity `json:"vaccineQuantity"`
}

type PlaceSearchVaccineQuantity struct {
	TotalQuantity           int                      `json:"totalQuantity"`
	TotalQuantityStatus     string                   `json:"totalQuantityStatus"`
	VaccineOrganizationCode string                   `json:"vaccineOrganizationCode"`
	List                    []PlaceSearchVaccineInfo `json:"list"`
}

type PlaceSearchVaccineInfo struct {
	Quantity       int    `json:"quantity"`
	QuantityStatus string `json:"quantityStatus"`
	VaccineType    string `json:"vaccineType"`
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewPlaceSearchInput builds the one-element GraphQL batch for a region.
func NewPlaceSearchInput(region GeoRectangle, keyword string, display int) []PlaceSearchInput {
	min := region.Min()
	max := region.Max()
	center := region.Center()
	centerX := formatCoord(center.Lng)
	centerY := formatCoord(center.Lat)

	return []PlaceSearchInput{{
		OperationName: PlaceSearchOperation,
		Variables: PlaceSearchVariables{
			Input: PlaceSearchRestsInput{
				Keyword: keyword,
				X:       centerX,
				Y:       centerY,
			},
			BusinessesInput: PlaceSearchBusinessesInput{
				Bounds:       fmt.Sprintf("%s;%s;%s;%s", formatCoord(min.Lng), formatCoord(min.Lat), formatCoord(max.Lng), formatCoord(max.Lat)),
				Start:        0,
				Display:      display,
				DeviceType:   "mobile",
				X:            centerX,
				Y:            centerY,
				SortingOrder: "distance",
			},
			IsNmap:   false,
			IsBounds: false,
		},
		Query: PlaceSearchQueryText,
	}}
}

func (p *PlaceSearchProvider) Query(ctx context.Context, region GeoRectangle) ([]AvailabilityRecord, error) {
	reqBody, err := json.Marshal(NewPlaceSearchInput(region, p.Keyword, p.Display))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindFatal, Err: err}
	}

	endpoint := p.Endpoint.Clone()
	endpoint.Body = string(reqBody)

	body, _, err := endpoint.Fetch(ctx, p.HttpClient, p.Name())
	if err != nil {
		return nil, classifyFetchError(p.Name(), endpoint, body, err)
	}

	var results []PlaceSearchResult
	if err = json.Unmarshal(body, &results); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindSchema, Url: endpoint.Url, Body: body, Err: err}
	}

	if len(results) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindSchema, Url: endpoint.Url, Body: body, Err: fmt.Errorf("empty result batch")}
	}

	items := results[0].Data.Rests.Businesses.Items
	Log.Debugf("%s: %d organizations in %v", p.Name(), len(items), region)

	records := make([]AvailabilityRecord, 0, len(items))
	for _, item := range items {
		quantity := item.VaccineQuantity

		// reservations only take the vaccine organization code
		orgCode := quantity.VaccineOrganizationCode
		if len(orgCode) == 0 {
			if quantity.TotalQuantity > 0 {
				Log.Warnf("%s: %s (%s) has %d left but no organization code, skipping", p.Name(), item.Name, item.Id, quantity.TotalQuantity)
			}
			continue
		}

		address := item.RoadAddress
		if len(address) == 0 {
			address = item.Address
		}

		breakdown := make([]VaccineQuantity, 0, len(quantity.List))
		for _, info := range quantity.List {
			breakdown = append(breakdown, VaccineQuantity{Type: info.VaccineType, Quantity: info.Quantity})
		}

		records = append(records, AvailabilityRecord{
			Provider:  p.Name(),
			OrgCode:   orgCode,
			Name:      item.Name,
			Address:   address,
			Total:     quantity.TotalQuantity,
			Breakdown: breakdown,
		})
	}

	return records, nil
}

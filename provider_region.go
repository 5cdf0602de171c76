package rvg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const ProviderTypeRegionQuery = "region_query"

const RegionQueryParamKeyOnlyLeft = "only_left"
const RegionQueryParamKeyOrgEndpoint = "org_endpoint"

const RegionQueryUrl = "https://vaccine-map.kakao.com/api/v3/vaccine/left_count_by_coords"
const RegionQueryOrgUrl = "https://vaccine.kakao.com/api/v3/org/org_code/"

// RegionQueryProvider searches a lat/lng box. Its listing only has a total per
// organization; the per-vaccine breakdown comes from one follow-up call per
// organization with a nonzero total.
type RegionQueryProvider struct {
	ProviderName string
	Endpoint     *Endpoint
	OrgEndpoint  *Endpoint
	OnlyLeft     bool
	HttpClient   *http.Client
}

type RegionQueryProviderFactory struct {
}

func (pf *RegionQueryProviderFactory) Type() string {
	return ProviderTypeRegionQuery
}

func (pf *RegionQueryProviderFactory) CreateProvider(name string, client *http.Client) Provider {
	provider := new(RegionQueryProvider)
	provider.ProviderName = name
	provider.HttpClient = client
	provider.Endpoint = &Endpoint{
		Url:     RegionQueryUrl,
		Method:  http.MethodPost,
		Headers: withBrowserHeaders("https://vaccine-map.kakao.com", "https://vaccine-map.kakao.com/"),
	}
	provider.OrgEndpoint = &Endpoint{
		Url:     RegionQueryOrgUrl,
		Method:  http.MethodGet,
		Headers: withBrowserHeaders("https://vaccine-map.kakao.com", "https://vaccine-map.kakao.com/"),
	}

	return provider
}

func (p *RegionQueryProvider) Type() string {
	return ProviderTypeRegionQuery
}

func (p *RegionQueryProvider) Name() string {
	return p.ProviderName
}

func (p *RegionQueryProvider) Configure(params map[string]interface{}) error {
	endpoint, err := getEndpointOptional(params, ParamKeyEndpoint)
	if err != nil {
		return err
	}
	if endpoint != nil {
		endpoint.Method = http.MethodPost
		p.Endpoint = endpoint
	}

	orgEndpoint, err := getEndpointOptional(params, RegionQueryParamKeyOrgEndpoint)
	if err != nil {
		return err
	}
	if orgEndpoint != nil {
		p.OrgEndpoint = orgEndpoint
	}

	p.OnlyLeft = getBool(params, RegionQueryParamKeyOnlyLeft)

	if timeout, exists := getFloatOptional(params, EndpointTimeout); exists && timeout > 0 {
		p.Endpoint.Timeout = secondsToDuration(timeout)
		p.OrgEndpoint.Timeout = secondsToDuration(timeout)
	}

	return nil
}

type RegionQueryCoord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type RegionQueryRequest struct {
	BottomRight RegionQueryCoord `json:"bottomRight"`
	TopLeft     RegionQueryCoord `json:"topLeft"`
	OnlyLeft    bool             `json:"onlyLeft"`
	Order       string           `json:"order"`
}

type RegionQueryResp struct {
	Organizations []RegionQueryOrganization `json:"organizations"`
}

type RegionQueryOrganization struct {
	Status     string `json:"status"`
	LeftCounts int    `json:"leftCounts"`
	OrgName    string `json:"orgName"`
	OrgCode    string `json:"orgCode"`
	Address    string `json:"address"`
}

type RegionQueryOrgResp struct {
	Lefts []RegionQueryLeft `json:"lefts"`
}

type RegionQueryLeft struct {
	Quantity    int    `json:"quantity"`
	VaccineName string `json:"vaccineName"`
	VaccineCode string `json:"vaccineCode"`
}

// NewRegionQueryRequest builds the request body from the normalized region.
func NewRegionQueryRequest(region GeoRectangle, onlyLeft bool) RegionQueryRequest {
	topLeft := region.TopLeft()
	bottomRight := region.BottomRight()

	return RegionQueryRequest{
		BottomRight: RegionQueryCoord{X: bottomRight.Lng, Y: bottomRight.Lat},
		TopLeft:     RegionQueryCoord{X: topLeft.Lng, Y: topLeft.Lat},
		OnlyLeft:    onlyLeft,
		Order:       "latitude",
	}
}

func (p *RegionQueryProvider) Query(ctx context.Context, region GeoRectangle) ([]AvailabilityRecord, error) {
	reqBody, err := json.Marshal(NewRegionQueryRequest(region, p.OnlyLeft))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindFatal, Err: err}
	}

	endpoint := p.Endpoint.Clone()
	endpoint.Body = string(reqBody)

	body, _, err := endpoint.Fetch(ctx, p.HttpClient, p.Name())
	if err != nil {
		return nil, classifyFetchError(p.Name(), endpoint, body, err)
	}

	apiResp := new(RegionQueryResp)
	if err = json.Unmarshal(body, apiResp); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindSchema, Url: endpoint.Url, Body: body, Err: err}
	}

	Log.Debugf("%s: %d organizations in %v", p.Name(), len(apiResp.Organizations), region)

	records := make([]AvailabilityRecord, 0, len(apiResp.Organizations))
	for _, org := range apiResp.Organizations {
		record := AvailabilityRecord{
			Provider: p.Name(),
			OrgCode:  org.OrgCode,
			Name:     org.OrgName,
			Address:  org.Address,
			Total:    org.LeftCounts,
		}

		if org.LeftCounts > 0 {
			record.Breakdown, err = p.FetchBreakdown(ctx, org.OrgCode)
			if err != nil {
				if ctx.Err() != nil || !IsTransient(err) {
					return nil, err
				}
				// left nil, fetched again when the record is tried
				Log.Warnf("%v", err)
			}
		}

		records = append(records, record)
	}

	return records, nil
}

func (p *RegionQueryProvider) FetchBreakdown(ctx context.Context, orgCode string) ([]VaccineQuantity, error) {
	endpoint := p.OrgEndpoint.Clone()
	endpoint.Url = orgUrl(endpoint.Url, orgCode)

	body, _, err := endpoint.Fetch(ctx, p.HttpClient, p.Name())
	if err != nil {
		return nil, classifyFetchError(p.Name(), endpoint, body, err)
	}

	orgResp := new(RegionQueryOrgResp)
	if err = json.Unmarshal(body, orgResp); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Kind: ErrorKindSchema, Url: endpoint.Url, Body: body, Err: err}
	}

	breakdown := make([]VaccineQuantity, 0, len(orgResp.Lefts))
	for _, left := range orgResp.Lefts {
		vaccineType := left.VaccineCode
		if len(vaccineType) == 0 {
			vaccineType = left.VaccineName
		}
		breakdown = append(breakdown, VaccineQuantity{Type: vaccineType, Quantity: left.Quantity})
	}

	return breakdown, nil
}

// the org endpoint either ends with a slash or has a %s placeholder
func orgUrl(base string, orgCode string) string {
	escaped := url.PathEscape(orgCode)
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, escaped)
	}
	if !strings.HasSuffix(base, "/") {
		base = base + "/"
	}
	return base + escaped
}

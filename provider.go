package rvg

import (
	"context"
	"fmt"
	"net/http"
)

// Provider queries one third-party availability source.
type Provider interface {
	Type() string
	Name() string
	Configure(params map[string]interface{}) error
	Query(ctx context.Context, region GeoRectangle) ([]AvailabilityRecord, error)
}

// BreakdownFetcher is implemented by providers whose listing carries only totals.
type BreakdownFetcher interface {
	FetchBreakdown(ctx context.Context, orgCode string) ([]VaccineQuantity, error)
}

type ProviderFactory interface {
	Type() string
	CreateProvider(name string, client *http.Client) Provider
}

func GetProviderFactories() map[string]ProviderFactory {
	var factory ProviderFactory

	providerFactories := make(map[string]ProviderFactory)

	factory = new(RegionQueryProviderFactory)
	providerFactories[factory.Type()] = factory
	factory = new(PlaceSearchProviderFactory)
	providerFactories[factory.Type()] = factory

	return providerFactories
}

// NewProviders builds and configures the providers listed in the config, in
// the order they are listed.
func NewProviders(config *Config, client *http.Client) ([]Provider, error) {
	factories := GetProviderFactories()
	providers := make([]Provider, 0, len(config.Providers))

	for _, providerConfig := range config.Providers {
		factory, exists := factories[providerConfig.Type]
		if !exists {
			return nil, fmt.Errorf("Unknown provider type: %s", providerConfig.Type)
		}

		name := providerConfig.Name
		if len(name) == 0 {
			name = providerConfig.Type
		}

		provider := factory.CreateProvider(name, client)
		params := providerConfig.Params
		if params == nil {
			params = make(map[string]interface{})
		}
		if _, exists := params[EndpointTimeout]; !exists && config.RequestTimeout > 0 {
			params[EndpointTimeout] = config.RequestTimeout
		}

		if err := provider.Configure(params); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		Log.Infof("Registering provider: %s - type: %s", provider.Name(), provider.Type())
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("No providers configured")
	}

	return providers, nil
}

func findProvider(providers []Provider, name string) Provider {
	for _, provider := range providers {
		if provider.Name() == name {
			return provider
		}
	}
	return nil
}

func findProviderByType(providers []Provider, providerType string) Provider {
	for _, provider := range providers {
		if provider.Type() == providerType {
			return provider
		}
	}
	return nil
}

var browserHeaders = []Header{
	{Name: "Accept", Value: "application/json, text/plain, */*"},
	{Name: "Content-Type", Value: "application/json;charset=utf-8"},
	{Name: "Accept-Language", Value: "en-us"},
	{Name: "User-Agent", Value: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 KAKAOTALK 9.4.2"},
}

func withBrowserHeaders(origin string, referer string) []Header {
	headers := append([]Header(nil), browserHeaders...)
	return append(headers, Header{Name: "Origin", Value: origin}, Header{Name: "Referer", Value: referer})
}

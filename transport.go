package rvg

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const TransportIdleTimeout = 90 * time.Second

// NewHttpClient builds the client shared by providers, the eligibility check
// and reservations. Timeouts are applied per request by Endpoint.Fetch.
func NewHttpClient(config *Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     TransportIdleTimeout,
	}

	if len(config.ProxyUrl) > 0 {
		proxyUrl, err := url.Parse(config.ProxyUrl)
		if err != nil {
			return nil, fmt.Errorf("Invalid proxy_url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyUrl)
		Log.Infof("Using proxy: %s", censorUrl(proxyUrl))
	}

	if config.InsecureSkipVerify {
		Log.Warnf("TLS certificate verification is disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := new(http.Client)
	client.Transport = transport

	return client, nil
}

func censorUrl(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}

	username := u.User.Username()
	censored := *u
	censored.User = nil
	return strings.Replace(censored.String(), "://", fmt.Sprintf("://%s:<snip>@", username), 1)
}

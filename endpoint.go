package rvg

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const EndpointUrl = "url"
const EndpointMethod = "method"
const EndpointBody = "body"
const EndpointHeaders = "headers"
const EndpointAllowedStatusCodes = "allowed_status_codes"
const EndpointTimeout = "timeout"

// every provider and reservation request uses the same timeout unless configured
const EndpointDefaultTimeout = 5 * time.Second

type Endpoint struct {
	Url                string
	Method             string
	Body               string
	Headers            []Header
	AllowedStatusCodes []int
	Timeout            time.Duration
}

type Header struct {
	Name  string
	Value string
}

// NewEndpoint builds an endpoint from yaml provider params.
func NewEndpoint(params map[string]interface{}) (*Endpoint, error) {
	endpoint := new(Endpoint)

	url, err := getStringRequired(params, EndpointUrl)
	if err != nil {
		return nil, err
	}
	endpoint.Url = url

	endpoint.Method = http.MethodGet
	if method, exists := getStringOptional(params, EndpointMethod); exists {
		endpoint.Method = strings.ToUpper(method)
	}

	if endpoint.Method == http.MethodPost {
		endpoint.Body, _ = getStringOptional(params, EndpointBody)
	}

	endpoint.Headers = make([]Header, 0)
	if headers := getMapOptional(params, EndpointHeaders); headers != nil {
		for headerName, headerValue := range headers {
			value, ok := headerValue.(string)
			if !ok {
				return nil, fmt.Errorf("Expecting a string value for header %s, got '%T' instead", headerName, headerValue)
			}
			endpoint.Headers = append(endpoint.Headers, Header{Name: headerName, Value: value})
		}
	}

	if _, exists := params[EndpointAllowedStatusCodes]; exists {
		codes, err := getIntArrayRequired(params, EndpointAllowedStatusCodes)
		if err != nil {
			return nil, err
		}
		endpoint.AllowedStatusCodes = codes
	}

	if timeout, exists := getFloatOptional(params, EndpointTimeout); exists && timeout > 0 {
		endpoint.Timeout = time.Duration(timeout * float64(time.Second))
	}

	return endpoint, nil
}

// Clone returns a copy that can be given its own url/body.
func (endpoint *Endpoint) Clone() *Endpoint {
	clone := *endpoint
	clone.Headers = append([]Header(nil), endpoint.Headers...)
	clone.AllowedStatusCodes = append([]int(nil), endpoint.AllowedStatusCodes...)
	return &clone
}

func (endpoint *Endpoint) SetHeader(name string, value string) {
	for i, header := range endpoint.Headers {
		if strings.EqualFold(header.Name, name) {
			endpoint.Headers[i].Value = value
			return
		}
	}
	endpoint.Headers = append(endpoint.Headers, Header{Name: name, Value: value})
}

func (endpoint *Endpoint) allowed(statusCode int) bool {
	if statusCode >= 200 && statusCode < 300 {
		return true
	}
	for _, code := range endpoint.AllowedStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// Fetch performs one request bounded by the endpoint timeout. The body is
// returned together with the status code even when the status is rejected,
// since some APIs put their result code in error bodies.
func (endpoint *Endpoint) Fetch(ctx context.Context, client *http.Client, name string) ([]byte, int, error) {
	if client == nil {
		client = http.DefaultClient
	}

	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = EndpointDefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if endpoint.Method != http.MethodPost && endpoint.Method != http.MethodGet {
		return nil, 0, fmt.Errorf("Unknown method: %s", endpoint.Method)
	}

	var reqBody io.Reader
	if endpoint.Method == http.MethodPost {
		reqBody = strings.NewReader(endpoint.Body)
	}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.Url, reqBody)
	if err != nil {
		return nil, 0, err
	}

	for _, header := range endpoint.Headers {
		req.Header.Set(header.Name, header.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		Log.Debugf("%s: error during fetch: %v", name, err)
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		Log.Debug("Decompressing gzipped content...")

		gzReader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, resp.StatusCode, err
		}

		body, err = io.ReadAll(gzReader)
		if err != nil {
			return nil, resp.StatusCode, err
		}
	}

	Log.Debugf("%s: fetched %d bytes with status code %d from %s", name, len(body), resp.StatusCode, endpoint.Url)

	if !endpoint.allowed(resp.StatusCode) {
		Log.Warnf("%s: Status code: %d, %s", name, resp.StatusCode, truncate(body, 128))
		return body, resp.StatusCode, &HTTPStatusError{Url: endpoint.Url, StatusCode: resp.StatusCode}
	}

	return body, resp.StatusCode, nil
}

// classifyFetchError sorts a Fetch failure into the provider error taxonomy.
func classifyFetchError(provider string, endpoint *Endpoint, body []byte, err error) *ProviderError {
	perr := &ProviderError{
		Provider: provider,
		Kind:     ErrorKindFatal,
		Url:      endpoint.Url,
		Body:     body,
		Err:      err,
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		perr.StatusCode = statusErr.StatusCode
		if statusErr.StatusCode >= 500 {
			perr.Kind = ErrorKindTransient
		}
		return perr
	}

	if isNetworkError(err) {
		perr.Kind = ErrorKindTransient
	}

	return perr
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// connection refused/reset, dns failures
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func truncate(body []byte, max int) string {
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

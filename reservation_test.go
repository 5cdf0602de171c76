package rvg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted reservation server: answers each request with the next response
type reservationScript struct {
	mutex     sync.Mutex
	responses []scriptedResponse
	paths     []string
	requests  []ReservationRequest
}

type scriptedResponse struct {
	status int
	body   string
}

func (s *reservationScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	req := ReservationRequest{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.requests = append(s.requests, req)
	s.paths = append(s.paths, r.URL.Path)

	idx := len(s.paths) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	response := s.responses[idx]
	if response.status > 0 {
		w.WriteHeader(response.status)
	}
	w.Write([]byte(response.body))
}

func newTestReservationClient(t *testing.T, script *reservationScript) *ReservationClient {
	t.Helper()
	server := httptest.NewServer(script)
	t.Cleanup(server.Close)

	return NewReservationClient(server.URL+"/reservation", StaticCredentials("session=abc"), server.Client())
}

func TestReserveSuccess(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{
		{body: `{"code":"SUCCESS","organization":{"orgName":"Full Clinic","phoneNumber":"02-000-0000","address":"Seoul 2"}}`},
	}}
	client := newTestReservationClient(t, script)

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00013")
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 1, outcome.Attempts)
	require.NotNil(t, outcome.Organization)
	assert.Equal(t, "Full Clinic", outcome.Organization.OrgName)
	assert.Contains(t, outcome.Message(), "02-000-0000")

	require.Len(t, script.requests, 1)
	assert.Equal(t, ReservationRequest{From: "List", VaccineCode: "VEN00013", OrgCode: "22222"}, script.requests[0])
}

func TestReserveRequestBody(t *testing.T) {
	body, err := json.Marshal(ReservationRequest{From: "List", VaccineCode: "VEN00013", OrgCode: "22222"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"List","vaccineCode":"VEN00013","orgCode":"22222","distance":null}`, string(body))
}

func TestReserveTimeoutThenSuccess(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{
		{body: `{"code":"TIMEOUT"}`},
		{body: `{"code":"TIMEOUT"}`},
		{body: `{"code":"SUCCESS","organization":{"orgName":"Full Clinic"}}`},
	}}
	client := newTestReservationClient(t, script)

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00014")
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, []string{"/reservation", "/reservation/retry", "/reservation/retry"}, script.paths)
}

func TestReserveTimeoutBounded(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{
		{body: `{"code":"TIMEOUT"}`},
	}}
	client := newTestReservationClient(t, script)
	client.MaxRetries = 2

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00014")
	require.NoError(t, err)
	assert.Equal(t, ReservationTimeout, outcome.Kind)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, 3, outcome.Attempts)
	assert.Len(t, script.paths, 3)
}

func TestReserveNoVacancy(t *testing.T) {
	// rejected requests still carry their code
	script := &reservationScript{responses: []scriptedResponse{
		{status: http.StatusBadRequest, body: `{"code":"NO_VACANCY","desc":"gone"}`},
	}}
	client := newTestReservationClient(t, script)

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00015")
	require.NoError(t, err)
	assert.Equal(t, ReservationNoVacancy, outcome.Kind)
	assert.Len(t, script.paths, 1)
}

func TestReserveUnknownCode(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{
		{body: `{"code":"SOMETHING_NEW"}`},
	}}
	client := newTestReservationClient(t, script)

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00015")
	require.NoError(t, err)
	assert.Equal(t, ReservationUnknown, outcome.Kind)
	assert.Equal(t, "SOMETHING_NEW", outcome.Code)
}

func TestReserveUnparsableBody(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{
		{status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
	}}
	client := newTestReservationClient(t, script)

	outcome, err := client.Reserve(context.Background(), "22222", "VEN00015")
	assert.Nil(t, outcome)

	var uncertain *ReservationUncertainError
	require.ErrorAs(t, err, &uncertain)
	assert.Equal(t, "22222", uncertain.OrgCode)
	assert.Len(t, script.paths, 1, "uncertain reservations must not be resubmitted")
}

func TestReserveNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewReservationClient(url+"/reservation", StaticCredentials("session=abc"), &http.Client{})

	_, err := client.Reserve(context.Background(), "22222", "VEN00015")
	var uncertain *ReservationUncertainError
	require.ErrorAs(t, err, &uncertain)
}

func TestReserveMissingCredentials(t *testing.T) {
	script := &reservationScript{responses: []scriptedResponse{{body: `{"code":"SUCCESS"}`}}}
	client := newTestReservationClient(t, script)
	client.Credentials = StaticCredentials("")

	_, err := client.Reserve(context.Background(), "22222", "VEN00015")
	require.Error(t, err)
	assert.Empty(t, script.paths)
}

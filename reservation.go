package rvg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

const ReservationUrl = "https://vaccine.kakao.com/api/v2/reservation"
const ReservationRetrySuffix = "/retry"

type ReservationKind string

const (
	ReservationSuccess   ReservationKind = "SUCCESS"
	ReservationNoVacancy ReservationKind = "NO_VACANCY"
	ReservationTimeout   ReservationKind = "TIMEOUT"
	ReservationUnknown   ReservationKind = "UNKNOWN"
)

var errReservationTimeout = errors.New("reservation timed out on the server")

type ReservedOrganization struct {
	OrgName     string `json:"orgName"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
}

type ReservationResult struct {
	Code         string                `json:"code"`
	Organization *ReservedOrganization `json:"organization"`
}

type ReservationRequest struct {
	From        string   `json:"from"`
	VaccineCode string   `json:"vaccineCode"`
	OrgCode     string   `json:"orgCode"`
	Distance    *float64 `json:"distance"`
}

type ReservationOutcome struct {
	Kind         ReservationKind
	Code         string
	OrgCode      string
	VaccineCode  string
	Attempts     int
	Organization *ReservedOrganization
}

func (o *ReservationOutcome) Succeeded() bool {
	return o != nil && o.Kind == ReservationSuccess
}

// Message is the confirmation text sent to the user on success.
func (o *ReservationOutcome) Message() string {
	sb := strings.Builder{}
	sb.WriteString("Vaccine reservation complete!")
	if o.Organization != nil {
		sb.WriteString(fmt.Sprintf("\nOrganization: %s", o.Organization.OrgName))
		sb.WriteString(fmt.Sprintf("\nPhone: %s", o.Organization.PhoneNumber))
		sb.WriteString(fmt.Sprintf("\nAddress: %s", o.Organization.Address))
	}
	return sb.String()
}

// Reserver submits reservations. A nil error with a non-success outcome is a
// terminal failure for that candidate only; an error ends the run.
type Reserver interface {
	Reserve(ctx context.Context, orgCode string, vaccineCode string) (*ReservationOutcome, error)
}

type ReservationClient struct {
	Endpoint      *Endpoint
	RetryEndpoint *Endpoint
	Credentials   CredentialProvider
	HttpClient    *http.Client
	// 0 retries TIMEOUT results until a terminal code comes back
	MaxRetries uint
}

func NewReservationClient(url string, credentials CredentialProvider, client *http.Client) *ReservationClient {
	if len(url) == 0 {
		url = ReservationUrl
	}

	endpoint := &Endpoint{
		Url:     url,
		Method:  http.MethodPost,
		Headers: withBrowserHeaders("https://vaccine.kakao.com", "https://vaccine.kakao.com/"),
	}

	retryEndpoint := endpoint.Clone()
	retryEndpoint.Url = strings.TrimSuffix(url, "/") + ReservationRetrySuffix

	return &ReservationClient{
		Endpoint:      endpoint,
		RetryEndpoint: retryEndpoint,
		Credentials:   credentials,
		HttpClient:    client,
	}
}

// Reserve submits to the primary endpoint and keeps resubmitting to the retry
// endpoint for as long as the server answers TIMEOUT.
func (c *ReservationClient) Reserve(ctx context.Context, orgCode string, vaccineCode string) (*ReservationOutcome, error) {
	var last *ReservationOutcome
	attempts := 0

	operation := func() (*ReservationOutcome, error) {
		retry := attempts > 0
		attempts++

		result, err := c.submit(ctx, orgCode, vaccineCode, retry)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		last = classifyReservation(result, orgCode, vaccineCode)
		last.Attempts = attempts
		if last.Kind == ReservationTimeout {
			Log.Warnf("TIMEOUT, retrying reservation (attempt %d)", attempts)
			return last, errReservationTimeout
		}
		return last, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxElapsedTime(0),
	}
	if c.MaxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(c.MaxRetries+1))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	if errors.Is(err, errReservationTimeout) {
		Log.Errorf("Reservation still timing out after %d attempts, giving up on %s", attempts, orgCode)
		return last, nil
	}
	if err != nil {
		return nil, err
	}

	logOutcome(last)
	return last, nil
}

func (c *ReservationClient) submit(ctx context.Context, orgCode string, vaccineCode string, retry bool) (*ReservationResult, error) {
	uncertain := func(err error) error {
		return &ReservationUncertainError{OrgCode: orgCode, VaccineCode: vaccineCode, Err: err}
	}

	endpoint := c.Endpoint.Clone()
	if retry {
		endpoint = c.RetryEndpoint.Clone()
	}

	if err := withCookie(ctx, endpoint, c.Credentials); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(ReservationRequest{
		From:        "List",
		VaccineCode: vaccineCode,
		OrgCode:     orgCode,
	})
	if err != nil {
		return nil, err
	}
	endpoint.Body = string(reqBody)

	Log.Infof("Submitting reservation for %s at %s to %s", vaccineCode, orgCode, endpoint.Url)

	body, statusCode, err := endpoint.Fetch(ctx, c.HttpClient, "reservation")
	if err != nil && statusCode == 0 {
		return nil, uncertain(err)
	}

	// rejected requests carry their code in the error body
	result := new(ReservationResult)
	if parseErr := json.Unmarshal(body, result); parseErr != nil {
		if err != nil {
			return nil, uncertain(fmt.Errorf("%v (unparsable body: %v)", err, parseErr))
		}
		return nil, uncertain(parseErr)
	}

	return result, nil
}

func classifyReservation(result *ReservationResult, orgCode string, vaccineCode string) *ReservationOutcome {
	outcome := &ReservationOutcome{
		Code:         result.Code,
		OrgCode:      orgCode,
		VaccineCode:  vaccineCode,
		Organization: result.Organization,
	}

	switch ReservationKind(result.Code) {
	case ReservationSuccess, ReservationNoVacancy, ReservationTimeout:
		outcome.Kind = ReservationKind(result.Code)
	default:
		outcome.Kind = ReservationUnknown
	}

	return outcome
}

func logOutcome(outcome *ReservationOutcome) {
	switch outcome.Kind {
	case ReservationSuccess:
		Log.Info(outcome.Message())
	case ReservationNoVacancy:
		Log.Errorf("Leftover vaccine at %s was taken by someone else first", outcome.OrgCode)
	default:
		Log.Errorf("Unknown reservation result code: '%s'", outcome.Code)
	}
}

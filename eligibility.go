package rvg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const UserInfoUrl = "https://vaccine.kakao.com/api/v1/user"

const (
	UserStatusNormal            = "NORMAL"
	UserStatusUnknown           = "UNKNOWN"
	UserStatusRefused           = "REFUSED"
	UserStatusAlreadyReserved   = "ALREADY_RESERVED"
	UserStatusAlreadyVaccinated = "ALREADY_VACCINATED"
)

type UserEligibility struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

type UserInfoResult struct {
	User  *UserEligibility `json:"user"`
	Error string           `json:"error"`
}

// EligibilityChecker is run once before polling starts.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context) (*UserEligibility, error)
}

type EligibilityGate struct {
	Endpoint    *Endpoint
	Credentials CredentialProvider
	HttpClient  *http.Client
}

func NewEligibilityGate(url string, credentials CredentialProvider, client *http.Client) *EligibilityGate {
	if len(url) == 0 {
		url = UserInfoUrl
	}

	return &EligibilityGate{
		Endpoint: &Endpoint{
			Url:     url,
			Method:  http.MethodGet,
			Headers: withBrowserHeaders("https://vaccine.kakao.com", "https://vaccine.kakao.com/"),
		},
		Credentials: credentials,
		HttpClient:  client,
	}
}

// CheckEligibility fetches the user status. Only NORMAL users may poll; every
// other outcome is an error that ends the run.
func (g *EligibilityGate) CheckEligibility(ctx context.Context) (*UserEligibility, error) {
	endpoint := g.Endpoint.Clone()
	if err := withCookie(ctx, endpoint, g.Credentials); err != nil {
		return nil, err
	}

	body, statusCode, err := endpoint.Fetch(ctx, g.HttpClient, "eligibility")
	if err != nil && (body == nil || statusCode == 0) {
		logFailToLoadUserInfo()
		return nil, fmt.Errorf("Could not load user info: %w", err)
	}

	result := new(UserInfoResult)
	if parseErr := json.Unmarshal(body, result); parseErr != nil {
		logFailToLoadUserInfo()
		if err != nil {
			return nil, fmt.Errorf("Could not load user info: %w", err)
		}
		return nil, fmt.Errorf("Could not parse user info: %w", parseErr)
	}

	if err != nil {
		// error responses still say why
		logFailToLoadUserInfo()
		if result.User != nil {
			return result.User, checkUserStatus(result.User)
		}
		if len(result.Error) > 0 {
			return nil, &EligibilityError{Reason: result.Error}
		}
		return nil, fmt.Errorf("Could not load user info: %w", err)
	}

	if result.User == nil {
		if len(result.Error) > 0 {
			return nil, &EligibilityError{Reason: result.Error}
		}
		logFailToLoadUserInfo()
		return nil, fmt.Errorf("User info response did not contain a user")
	}

	return result.User, checkUserStatus(result.User)
}

func checkUserStatus(user *UserEligibility) error {
	var reason string

	switch user.Status {
	case UserStatusNormal:
		Log.Infof("Loaded user info, user name: %s", user.Name)
		return nil
	case UserStatusUnknown:
		reason = "User status is unknown, contact the 1339 call center or your public health center"
	case UserStatusRefused:
		reason = fmt.Sprintf("%s did not show up for a previous reservation; leftover vaccine reservations are not available", user.Name)
	case UserStatusAlreadyReserved:
		reason = fmt.Sprintf("%s already has a vaccine reservation", user.Name)
	case UserStatusAlreadyVaccinated:
		reason = fmt.Sprintf("%s is already vaccinated", user.Name)
	default:
		reason = fmt.Sprintf("Unrecognized user status code: %s", user.Status)
	}

	Log.Error(reason)
	return &EligibilityError{Status: user.Status, Name: user.Name, Reason: reason}
}

func logFailToLoadUserInfo() {
	Log.Error("Failed to load user info.")
	Log.Error("Check that the browser session the cookie came from is logged in to Kakao.")
	Log.Error("If it is, open the leftover vaccine notification in KakaoTalk once and accept the information sharing consent, then try again.")
}

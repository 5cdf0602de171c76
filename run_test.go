package rvg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEligibility struct {
	status string
	calls  int
}

func (e *fakeEligibility) CheckEligibility(_ context.Context) (*UserEligibility, error) {
	e.calls++
	user := &UserEligibility{Status: e.status, Name: "Kim"}
	return user, checkUserStatus(user)
}

func newTestSession(t *testing.T, eligibility EligibilityChecker, reserver Reserver, providers ...Provider) *Session {
	t.Helper()
	catalog := NewVaccineCatalog()
	preference, err := catalog.ParsePreference(VaccineCodeAny)
	require.NoError(t, err)

	return &Session{
		Config:      &Config{Region: testRegion, SearchTime: DefaultSearchTime},
		Catalog:     catalog,
		Preference:  preference,
		Providers:   providers,
		Eligibility: eligibility,
		Reserver:    reserver,
		Sink:        &recordingSink{},
		Started:     time.Now(),
	}
}

func TestSessionIneligibleUserNeverPolls(t *testing.T) {
	provider := &fakeProvider{name: "kakao", typ: ProviderTypeRegionQuery, queries: []fakeQuery{{records: []AvailabilityRecord{}}}}
	reserver := &fakeReserver{}
	eligibility := &fakeEligibility{status: UserStatusAlreadyVaccinated}
	session := newTestSession(t, eligibility, reserver, provider)

	outcome, err := session.Run(context.Background())
	assert.Nil(t, outcome)

	var eerr *EligibilityError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, UserStatusAlreadyVaccinated, eerr.Status)
	assert.Equal(t, 1, eligibility.calls)
	assert.Equal(t, 0, provider.calls)
	assert.Empty(t, reserver.calls)
}

func TestSessionRun(t *testing.T) {
	region := &fakeProvider{name: "kakao", typ: ProviderTypeRegionQuery, queries: []fakeQuery{
		// listing
		{records: []AvailabilityRecord{{OrgCode: "11111", Name: "Clinic", Total: 0}}},
		{records: []AvailabilityRecord{availableRecord("11111", VaccineQuantity{Type: "VEN00014", Quantity: 1})}},
	}}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{"11111": ReservationSuccess}}
	session := newTestSession(t, &fakeEligibility{status: UserStatusNormal}, reserver, region)

	outcome, err := session.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 2, region.calls)
}

func TestSessionListOrganizations(t *testing.T) {
	transient := &ProviderError{Provider: "kakao", Kind: ErrorKindTransient, Err: context.DeadlineExceeded}
	region := &fakeProvider{name: "kakao", typ: ProviderTypeRegionQuery, queries: []fakeQuery{{err: transient}}}
	session := newTestSession(t, nil, nil, region)
	assert.NoError(t, session.ListOrganizations(context.Background()), "transient listing failures are ignored")

	fatal := &ProviderError{Provider: "kakao", Kind: ErrorKindFatal, StatusCode: 401, Err: errors.New("unauthorized")}
	region = &fakeProvider{name: "kakao", typ: ProviderTypeRegionQuery, queries: []fakeQuery{{err: fatal}}}
	session = newTestSession(t, nil, nil, region)
	assert.ErrorIs(t, session.ListOrganizations(context.Background()), fatal)

	// without a region query provider there is nothing to list
	other := &fakeProvider{name: "naver", typ: ProviderTypePlaceSearch, queries: []fakeQuery{{err: fatal}}}
	session = newTestSession(t, nil, nil, other)
	assert.NoError(t, session.ListOrganizations(context.Background()))
	assert.Equal(t, 0, other.calls)
}

func TestSessionTestProvider(t *testing.T) {
	provider := &fakeProvider{name: "naver", queries: []fakeQuery{{records: []AvailabilityRecord{
		availableRecord("11111", VaccineQuantity{Type: "모더나", Quantity: 1}),
	}}}}
	session := newTestSession(t, nil, nil, provider)

	assert.NoError(t, session.TestProvider(context.Background(), "naver"))
	assert.Equal(t, 1, provider.calls)

	assert.ErrorIs(t, session.TestProvider(context.Background(), "kakao"), ErrProviderNotFound)
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	started := time.Now()

	sink := &recordingSink{}
	success := &ReservationOutcome{Kind: ReservationSuccess, Organization: &ReservedOrganization{OrgName: "Clinic"}}
	assert.Equal(t, ExitSuccess, terminate(ctx, sink, started, success, nil))
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, SeveritySuccess, sink.notifications[0].Severity)
	assert.Contains(t, sink.notifications[0].Message, "Clinic")

	sink = &recordingSink{}
	failure := fmt.Errorf("checking user: %w", &EligibilityError{Reason: "already vaccinated"})
	assert.Equal(t, ExitFailure, terminate(ctx, sink, started, nil, failure))
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, SeverityFailure, sink.notifications[0].Severity)
	assert.Contains(t, sink.notifications[0].Detail, "*rvg.EligibilityError")
	assert.NotContains(t, sink.notifications[0].Detail, "terminate")

	sink = &recordingSink{}
	assert.Equal(t, ExitConfigError, terminate(ctx, sink, started, nil, &ConfigError{Err: errors.New("no cookie")}))

	// a cancelled run still gets its notification out
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	sink = &recordingSink{err: errors.New("smtp down")}
	assert.Equal(t, ExitFailure, terminate(cancelled, sink, started, nil, context.Canceled))
	assert.Len(t, sink.notifications, 1)

	assert.Equal(t, ExitFailure, terminate(ctx, nil, started, &ReservationOutcome{Kind: ReservationTimeout}, nil))
}

func TestRunContextWithoutConfig(t *testing.T) {
	assert.Equal(t, ExitSuccess, RunContext(context.Background(), []string{"rvg", CommandVaccines}))
	assert.Equal(t, ExitSuccess, RunContext(context.Background(), []string{"rvg", "help"}))
	assert.Equal(t, ExitSuccess, RunContext(context.Background(), []string{"rvg", CommandTest}))

	t.Setenv(ConfigPathEnvName, "/nonexistent/rvg.yaml")
	assert.Equal(t, ExitConfigError, RunContext(context.Background(), []string{"rvg", CommandRun}))
}

package rvg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	records []AvailabilityRecord
	err     error
}

// fakeProvider answers each Query with the next scripted result and repeats the last one
type fakeProvider struct {
	name       string
	typ        string
	queries    []fakeQuery
	calls      int
	breakdowns map[string][]VaccineQuantity
}

func (p *fakeProvider) Type() string {
	if len(p.typ) == 0 {
		return "fake"
	}
	return p.typ
}

func (p *fakeProvider) Name() string {
	return p.name
}

func (p *fakeProvider) Configure(_ map[string]interface{}) error {
	return nil
}

func (p *fakeProvider) Query(_ context.Context, _ GeoRectangle) ([]AvailabilityRecord, error) {
	idx := p.calls
	if idx >= len(p.queries) {
		idx = len(p.queries) - 1
	}
	p.calls++
	return p.queries[idx].records, p.queries[idx].err
}

type fetchingProvider struct {
	*fakeProvider
}

func (p fetchingProvider) FetchBreakdown(_ context.Context, orgCode string) ([]VaccineQuantity, error) {
	return p.breakdowns[orgCode], nil
}

type reserveCall struct {
	orgCode     string
	vaccineCode string
}

type fakeReserver struct {
	outcomes map[string]ReservationKind
	err      error
	calls    []reserveCall
}

func (r *fakeReserver) Reserve(_ context.Context, orgCode string, vaccineCode string) (*ReservationOutcome, error) {
	r.calls = append(r.calls, reserveCall{orgCode: orgCode, vaccineCode: vaccineCode})
	if r.err != nil {
		return nil, r.err
	}
	kind, ok := r.outcomes[orgCode]
	if !ok {
		kind = ReservationNoVacancy
	}
	return &ReservationOutcome{Kind: kind, Code: string(kind), OrgCode: orgCode, VaccineCode: vaccineCode}, nil
}

// records sleeps and cancels the run after the given number of them
type sleepRecorder struct {
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	if len(s.sleeps) >= s.limit {
		s.cancel()
		return context.Canceled
	}
	return nil
}

func newTestPoller(t *testing.T, providers []Provider, reserver Reserver, preference string) *Poller {
	t.Helper()
	catalog := NewVaccineCatalog()
	pref, err := catalog.ParsePreference(preference)
	require.NoError(t, err)

	names := make([]string, 0, len(providers))
	for _, provider := range providers {
		names = append(names, provider.Name())
	}

	return &Poller{
		Providers:  providers,
		Catalog:    catalog,
		Preference: pref,
		Region:     testRegion,
		Reserver:   reserver,
		Interval:   200 * time.Millisecond,
		Tracker:    NewProviderTracker(names, 3, false, nil),
	}
}

func availableRecord(orgCode string, breakdown ...VaccineQuantity) AvailabilityRecord {
	total := 0
	for _, q := range breakdown {
		total += q.Quantity
	}
	return AvailabilityRecord{Provider: "fake", OrgCode: orgCode, Name: "Clinic " + orgCode, Total: total, Breakdown: breakdown}
}

func TestPollerEmptyCycleSleepsInterval(t *testing.T) {
	provider := &fakeProvider{name: "a", queries: []fakeQuery{{records: []AvailabilityRecord{}}}}
	reserver := &fakeReserver{}
	poller := newTestPoller(t, []Provider{provider}, reserver, VaccineCodeAny)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &sleepRecorder{limit: 3, cancel: cancel}
	poller.Sleep = recorder.Sleep

	outcome, err := poller.Run(ctx)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond}, recorder.sleeps)
	assert.Equal(t, 3, provider.calls)
	assert.Empty(t, reserver.calls)
}

func TestPollerTransientErrorSkipsSleep(t *testing.T) {
	transient := &ProviderError{Provider: "a", Kind: ErrorKindTransient, Err: context.DeadlineExceeded}
	first := &fakeProvider{name: "a", queries: []fakeQuery{
		{err: transient},
		{err: transient},
		{records: []AvailabilityRecord{}},
	}}
	second := &fakeProvider{name: "b", queries: []fakeQuery{{records: []AvailabilityRecord{}}}}
	poller := newTestPoller(t, []Provider{first, second}, &fakeReserver{}, VaccineCodeAny)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &sleepRecorder{limit: 1, cancel: cancel}
	poller.Sleep = recorder.Sleep

	_, err := poller.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// two cycles with an error and no sleep, then one clean cycle and its sleep
	assert.Len(t, recorder.sleeps, 1)
	assert.Equal(t, 3, first.calls)
	assert.Equal(t, 3, second.calls, "later providers are still queried after a transient error")
	assert.Equal(t, 0, poller.Tracker.ErrorCount("a"))
}

func TestPollerTransientErrorReachesNextProvider(t *testing.T) {
	transient := &ProviderError{Provider: "kakao", Kind: ErrorKindTransient, StatusCode: 503}
	failing := &fakeProvider{name: "kakao", queries: []fakeQuery{{err: transient}}}
	available := &fakeProvider{name: "naver", queries: []fakeQuery{{records: []AvailabilityRecord{
		availableRecord("11111", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
	}}}}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{"11111": ReservationSuccess}}
	poller := newTestPoller(t, []Provider{failing, available}, reserver, VaccineCodeAny)
	poller.Sleep = func(_ context.Context, _ time.Duration) error {
		t.Errorf("Unexpected sleep")
		return nil
	}

	outcome, err := poller.Run(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, available.calls)
	assert.Equal(t, []reserveCall{{orgCode: "11111", vaccineCode: "VEN00013"}}, reserver.calls)
	assert.Equal(t, 1, poller.Tracker.ErrorCount("kakao"))
}

func TestPollerSuccessEndsRun(t *testing.T) {
	provider := &fakeProvider{name: "a", queries: []fakeQuery{{records: []AvailabilityRecord{
		{OrgCode: "00000", Total: 0, Breakdown: []VaccineQuantity{}},
		availableRecord("11111", VaccineQuantity{Type: "VEN00015", Quantity: 2}),
		availableRecord("22222", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
		availableRecord("33333", VaccineQuantity{Type: "VEN00014", Quantity: 1}),
	}}}}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{
		"22222": ReservationSuccess,
		"33333": ReservationSuccess,
	}}
	poller := newTestPoller(t, []Provider{provider}, reserver, VaccineCodeMRNA)
	poller.Sleep = func(_ context.Context, _ time.Duration) error {
		t.Errorf("Unexpected sleep")
		return nil
	}

	outcome, err := poller.Run(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	assert.Equal(t, "22222", outcome.OrgCode)

	// AZ only clinic never matches an mRNA preference
	assert.Equal(t, []reserveCall{{orgCode: "22222", vaccineCode: "VEN00013"}}, reserver.calls)
}

func TestPollerTerminalFailureContinues(t *testing.T) {
	provider := &fakeProvider{name: "a", queries: []fakeQuery{
		{records: []AvailabilityRecord{
			availableRecord("11111", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
			availableRecord("22222", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
		}},
		{records: []AvailabilityRecord{
			availableRecord("33333", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
		}},
	}}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{
		"11111": ReservationNoVacancy,
		"22222": ReservationUnknown,
		"33333": ReservationSuccess,
	}}
	poller := newTestPoller(t, []Provider{provider}, reserver, VaccineCodeAny)

	sleeps := 0
	poller.Sleep = func(_ context.Context, _ time.Duration) error {
		sleeps++
		return nil
	}

	outcome, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "33333", outcome.OrgCode)
	assert.Len(t, reserver.calls, 3)
	assert.Equal(t, 1, sleeps, "a cycle with only failed reservations still sleeps")
}

func TestPollerFetchesMissingBreakdown(t *testing.T) {
	base := &fakeProvider{
		name: "a",
		queries: []fakeQuery{{records: []AvailabilityRecord{
			{OrgCode: "11111", Name: "Clinic", Total: 2},
		}}},
		breakdowns: map[string][]VaccineQuantity{
			"11111": {{Type: "VEN00016", Quantity: 2}},
		},
	}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{"11111": ReservationSuccess}}
	poller := newTestPoller(t, []Provider{fetchingProvider{base}}, reserver, "VEN00016")

	outcome, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, []reserveCall{{orgCode: "11111", vaccineCode: "VEN00016"}}, reserver.calls)
}

func TestPollerSkipsMissingBreakdownWithoutFetcher(t *testing.T) {
	provider := &fakeProvider{name: "a", queries: []fakeQuery{{records: []AvailabilityRecord{
		{OrgCode: "11111", Name: "Clinic", Total: 2},
	}}}}
	reserver := &fakeReserver{}
	poller := newTestPoller(t, []Provider{provider}, reserver, VaccineCodeAny)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &sleepRecorder{limit: 1, cancel: cancel}
	poller.Sleep = recorder.Sleep

	_, err := poller.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reserver.calls)
}

func TestPollerFatalErrors(t *testing.T) {
	schema := &ProviderError{Provider: "a", Kind: ErrorKindSchema, Err: errors.New("unexpected token")}
	provider := &fakeProvider{name: "a", queries: []fakeQuery{{err: schema}}}
	poller := newTestPoller(t, []Provider{provider}, &fakeReserver{}, VaccineCodeAny)

	_, err := poller.Run(context.Background())
	assert.ErrorIs(t, err, schema)
	assert.Equal(t, 1, provider.calls)

	uncertain := &ReservationUncertainError{OrgCode: "11111", VaccineCode: "VEN00013", Err: errors.New("connection reset")}
	provider = &fakeProvider{name: "a", queries: []fakeQuery{{records: []AvailabilityRecord{
		availableRecord("11111", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
		availableRecord("22222", VaccineQuantity{Type: "VEN00013", Quantity: 1}),
	}}}}
	reserver := &fakeReserver{err: uncertain}
	poller = newTestPoller(t, []Provider{provider}, reserver, VaccineCodeAny)

	_, err = poller.Run(context.Background())
	var uerr *ReservationUncertainError
	require.ErrorAs(t, err, &uerr)
	assert.Len(t, reserver.calls, 1, "nothing is attempted after an uncertain reservation")
}

func TestPollerTrackerThreshold(t *testing.T) {
	transient := &ProviderError{Provider: "a", Kind: ErrorKindTransient, Err: context.DeadlineExceeded}
	provider := &fakeProvider{name: "a", queries: []fakeQuery{
		{err: transient}, {err: transient}, {err: transient}, {err: transient},
		{records: []AvailabilityRecord{availableRecord("11111", VaccineQuantity{Type: "VEN00013", Quantity: 1})}},
	}}
	sink := &recordingSink{}
	reserver := &fakeReserver{outcomes: map[string]ReservationKind{"11111": ReservationSuccess}}
	poller := newTestPoller(t, []Provider{provider}, reserver, VaccineCodeAny)
	poller.Tracker = NewProviderTracker([]string{"a"}, 3, true, sink)

	outcome, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())

	// notified once on reaching the threshold, not again on the fourth error
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, SeverityFailure, sink.notifications[0].Severity)
}

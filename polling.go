package rvg

import (
	"context"
	"errors"
	"time"
)

const DefaultSearchInterval = 200 * time.Millisecond

type cycleResult int

const (
	cycleEmpty cycleResult = iota
	cycleTransientError
	cycleReserved
)

// Poller runs the discovery loop. It is single threaded: providers are
// queried in order and at most one reservation is in flight.
type Poller struct {
	Providers  []Provider
	Catalog    *VaccineCatalog
	Preference VaccineType
	Region     GeoRectangle
	Reserver   Reserver
	Interval   time.Duration
	Tracker    *ProviderTracker
	// Sleep waits between empty cycles; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until a reservation succeeds or a fatal error occurs.
func (p *Poller) Run(ctx context.Context) (*ReservationOutcome, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultSearchInterval
	}

	Log.Infof("Searching for %v in %v every %v...", p.Preference, p.Region, interval)

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, outcome, err := p.runCycle(ctx)
		if err != nil {
			return nil, err
		}

		switch result {
		case cycleReserved:
			return outcome, nil
		case cycleTransientError:
			// retry right away
			continue
		default:
			Log.Debugf("No leftover vaccine found (cycle %d)", cycle)
			if err := sleep(ctx, interval); err != nil {
				return nil, err
			}
		}
	}
}

// runCycle queries every provider once. A transient error only skips that
// provider; the cycle reports it so the next one starts without sleeping.
func (p *Poller) runCycle(ctx context.Context) (cycleResult, *ReservationOutcome, error) {
	result := cycleEmpty

	for _, provider := range p.Providers {
		records, err := provider.Query(ctx, p.Region)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cycleEmpty, nil, ctxErr
			}
			if IsTransient(err) {
				Log.Warnf("%v", err)
				p.Tracker.Error(provider.Name(), err)
				result = cycleTransientError
				continue
			}
			return cycleEmpty, nil, err
		}

		candidates := 0
		for _, record := range records {
			if record.Total <= 0 {
				continue
			}
			candidates++

			outcome, err := p.tryRecord(ctx, provider, record)
			if err != nil {
				return cycleEmpty, nil, err
			}
			if outcome.Succeeded() {
				return cycleReserved, outcome, nil
			}
		}

		p.Tracker.Success(provider.Name(), candidates)
	}

	return result, nil, nil
}

// tryRecord matches one record and reserves it. A nil outcome means no attempt.
func (p *Poller) tryRecord(ctx context.Context, provider Provider, record AvailabilityRecord) (*ReservationOutcome, error) {
	Log.Infof("Found %d leftover vaccine(s) at %s", record.Total, record.Name)
	Log.Infof("Address: %s", record.Address)

	if !record.HasBreakdown() {
		fetcher, ok := provider.(BreakdownFetcher)
		if !ok {
			Log.Warnf("%s: no vaccine breakdown for %s and no way to fetch it, skipping", provider.Name(), record.OrgCode)
			return nil, nil
		}

		breakdown, err := fetcher.FetchBreakdown(ctx, record.OrgCode)
		if err != nil {
			if IsTransient(err) {
				Log.Warnf("%v", err)
				return nil, nil
			}
			return nil, err
		}
		record.Breakdown = breakdown
	}

	code, ok := MatchVaccine(p.Catalog, p.Preference, record.Breakdown)
	if !ok {
		Log.Errorf("No %v vaccine at %s: %v", p.Preference, record.Name, record)
		return nil, nil
	}

	Log.Infof("Trying to reserve %s at %s", code, record.Name)

	outcome, err := p.Reserver.Reserve(ctx, record.OrgCode, code)
	if err != nil {
		var uncertain *ReservationUncertainError
		if errors.As(err, &uncertain) {
			Log.Error("Reservation failed with an unknown result. Check with the organization or the 1339 call center whether the reservation went through.")
		}
		return nil, err
	}

	return outcome, nil
}

package rvg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

const LambdaExeName = "rvg-lambda"

const CommandRun = "run"
const CommandList = "list"
const CommandVaccines = "vaccines"
const CommandTest = "test"

var ErrProviderNotFound = errors.New("Provider not found")

// Session holds everything one reservation attempt needs. Fields are
// exported so tests can swap in fakes.
type Session struct {
	Config      *Config
	Catalog     *VaccineCatalog
	Preference  VaccineType
	HttpClient  *http.Client
	Providers   []Provider
	Eligibility EligibilityChecker
	Reserver    Reserver
	Sink        NotificationSink
	Tracker     *ProviderTracker
	Dumper      *Dumper
	Sleep       func(ctx context.Context, d time.Duration) error
	Started     time.Time
}

func NewSession(config *Config) (*Session, error) {
	session := new(Session)
	session.Config = config
	session.Started = time.Now()
	session.Catalog = NewVaccineCatalog()

	preference, err := session.Catalog.ParsePreference(config.VaccineType)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("vaccine_type: %w", err)}
	}
	session.Preference = preference

	session.HttpClient, err = NewHttpClient(config)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	session.Providers, err = NewProviders(config, session.HttpClient)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	session.Sink = NewNotificationSink(config, session.HttpClient)
	session.Dumper = NewDumper(config)

	names := make([]string, 0, len(session.Providers))
	for _, provider := range session.Providers {
		names = append(names, provider.Name())
	}
	session.Tracker = NewProviderTracker(names, config.ErrorWarningThreshold, config.NotifyOnError, session.Sink)

	return session, nil
}

// withUser adds the parts that need the session cookie. Only the full run uses them.
func (s *Session) withUser() error {
	credentials, err := s.Config.Credentials()
	if err != nil {
		return err
	}

	s.Eligibility = NewEligibilityGate(s.Config.EligibilityEndpoint, credentials, s.HttpClient)

	reserver := NewReservationClient(s.Config.ReservationEndpoint, credentials, s.HttpClient)
	reserver.MaxRetries = s.Config.MaxReservationRetries
	s.Reserver = reserver

	return nil
}

// Run checks the user, lists organizations, then polls until a reservation
// succeeds or something fatal happens.
func (s *Session) Run(ctx context.Context) (*ReservationOutcome, error) {
	if _, err := s.Eligibility.CheckEligibility(ctx); err != nil {
		return nil, err
	}

	if err := s.ListOrganizations(ctx); err != nil {
		return nil, err
	}

	poller := &Poller{
		Providers:  s.Providers,
		Catalog:    s.Catalog,
		Preference: s.Preference,
		Region:     s.Config.Region,
		Reserver:   s.Reserver,
		Interval:   s.Config.SearchInterval(),
		Tracker:    s.Tracker,
		Sleep:      s.Sleep,
	}

	outcome, err := poller.Run(ctx)
	if err != nil {
		s.Dumper.DumpError(ctx, err)
		return nil, err
	}

	return outcome, nil
}

// ListOrganizations logs the organizations the region query provider knows
// about in the region. Without such a provider it does nothing.
func (s *Session) ListOrganizations(ctx context.Context) error {
	provider := findProviderByType(s.Providers, ProviderTypeRegionQuery)
	if provider == nil {
		Log.Debug("No region query provider configured, skipping organization listing")
		return nil
	}

	records, err := provider.Query(ctx, s.Config.Region)
	if err != nil {
		if ctx.Err() == nil && IsTransient(err) {
			Log.Warnf("Could not list organizations: %v", err)
			return nil
		}
		s.Dumper.DumpError(ctx, err)
		return err
	}

	Log.Infof("%d organization(s) in %v:", len(records), s.Config.Region)
	for _, record := range records {
		Log.Infof("  %s (%s) %s, %d left", record.Name, record.OrgCode, record.Address, record.Total)
	}

	return nil
}

// TestProvider runs a single query against one provider and logs what it found.
func (s *Session) TestProvider(ctx context.Context, name string) error {
	provider := findProvider(s.Providers, name)
	if provider == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	records, err := provider.Query(ctx, s.Config.Region)
	if err != nil {
		s.Dumper.DumpError(ctx, err)
		return err
	}

	Log.Infof("Provider %s returned %d record(s)", provider.Name(), len(records))
	for _, record := range records {
		code, ok := MatchVaccine(s.Catalog, s.Preference, record.Breakdown)
		if ok {
			Log.Infof("%v -> %s", record, code)
		} else {
			Log.Infof("%v", record)
		}
	}

	return nil
}

func listVaccines(catalog *VaccineCatalog) {
	for _, v := range catalog.List() {
		fmt.Printf("%-10s %s\n", v.Code, v.Name)
	}
}

// terminate is the one place a session ends: it notifies and returns the exit status.
func terminate(ctx context.Context, sink NotificationSink, started time.Time, outcome *ReservationOutcome, err error) int {
	if sink == nil {
		sink = LogSink{}
	}

	status := ExitSuccess
	var notification Notification

	switch {
	case err != nil:
		status = ExitFailure
		var configErr *ConfigError
		if errors.As(err, &configErr) {
			status = ExitConfigError
		}
		notification = Notification{
			Severity: SeverityFailure,
			Message:  fmt.Sprintf("Leftover vaccine reservation stopped: %v", err),
			Detail:   failureDetail(started, err),
		}
	case outcome.Succeeded():
		notification = Notification{Severity: SeveritySuccess, Message: outcome.Message()}
	default:
		status = ExitFailure
		notification = Notification{Severity: SeverityFailure, Message: "Leftover vaccine reservation ended without a reservation"}
	}

	// the run context may already be cancelled, notifications still go out
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if nerr := sink.Notify(notifyCtx, notification); nerr != nil {
		Log.Errorf("%+v", nerr)
	}

	return status
}

// Run is the command line entry point. It returns the process exit status.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return RunContext(ctx, args)
}

func RunContext(ctx context.Context, args []string) int {
	command := CommandRun
	if len(args) > 1 {
		command = args[1]
	}

	switch command {
	case CommandVaccines:
		listVaccines(NewVaccineCatalog())
		return ExitSuccess
	case CommandRun, CommandList, CommandTest:
	default:
		printUsage(args)
		return ExitSuccess
	}

	if command == CommandTest && len(args) < 3 {
		printUsage(args)
		return ExitSuccess
	}

	config, err := NewConfigDefaultPath()
	if err != nil {
		Log.Errorf("Can't read config: %v", err)
		return ExitConfigError
	}

	if len(args) > 0 && filepath.Base(args[0]) == LambdaExeName {
		// read-only filesystem
		config.DumpOutput = false
	}

	session, err := NewSession(config)
	if err != nil {
		return terminate(ctx, nil, time.Now(), nil, err)
	}

	switch command {
	case CommandList:
		if err := session.ListOrganizations(ctx); err != nil {
			Log.Errorf("%v", err)
			return ExitFailure
		}
		return ExitSuccess
	case CommandTest:
		if err := session.TestProvider(ctx, args[2]); err != nil {
			Log.Errorf("%v", err)
			if errors.Is(err, ErrProviderNotFound) {
				return ExitConfigError
			}
			return ExitFailure
		}
		return ExitSuccess
	}

	if err := session.withUser(); err != nil {
		return terminate(ctx, session.Sink, session.Started, nil, err)
	}

	outcome, err := session.Run(ctx)
	return terminate(ctx, session.Sink, session.Started, outcome, err)
}

func printUsage(args []string) {
	exeName := "rvg"
	if len(args) > 0 {
		exeName = filepath.Base(args[0])
	}
	fmt.Printf("Usage: %s [%s]\n", exeName, strings.Join([]string{CommandRun, CommandList, CommandVaccines, CommandTest + " <provider_name>"}, " | "))
}

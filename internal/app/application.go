// Package app wires together the platform's storage, domain services and
// background workers into one Application, the object cmd/appserver starts
// and the HTTP layer is built around.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/eventbus"
	"github.com/carbonledger/platform/internal/app/services/access"
	"github.com/carbonledger/platform/internal/app/services/analytics"
	"github.com/carbonledger/platform/internal/app/services/benchmarking"
	"github.com/carbonledger/platform/internal/app/services/calculation"
	"github.com/carbonledger/platform/internal/app/services/ingestion"
	"github.com/carbonledger/platform/internal/app/services/notification"
	"github.com/carbonledger/platform/internal/app/services/ocr"
	"github.com/carbonledger/platform/internal/app/services/reporting"
	"github.com/carbonledger/platform/internal/app/services/suggestion"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/internal/app/system"
	"github.com/carbonledger/platform/pkg/config"
	"github.com/carbonledger/platform/pkg/logger"
	"github.com/carbonledger/platform/pkg/pgnotify"
	"github.com/robfig/cron/v3"
)

// Stores encapsulates every persistence dependency. Nil fields default to
// one shared in-memory store, which is enough to run the whole application
// for local development and tests.
type Stores struct {
	Users         storage.UserStore
	Companies     storage.CompanyStore
	Facilities    storage.FacilityStore
	Activities    storage.ActivityStore
	Templates     storage.TemplateStore
	Parameters    storage.ParameterStore
	Invoices      storage.InvoiceStore
	Reports       storage.ReportStore
	Suppliers     storage.SupplierStore
	Notifications storage.NotificationStore
	Badges        storage.BadgeStore
	Events        storage.EventLogStore
}

func (s *Stores) applyDefaults(mem *storage.Memory) {
	if s.Users == nil {
		s.Users = mem
	}
	if s.Companies == nil {
		s.Companies = mem
	}
	if s.Facilities == nil {
		s.Facilities = mem
	}
	if s.Activities == nil {
		s.Activities = mem
	}
	if s.Templates == nil {
		s.Templates = mem
	}
	if s.Parameters == nil {
		s.Parameters = mem
	}
	if s.Invoices == nil {
		s.Invoices = mem
	}
	if s.Reports == nil {
		s.Reports = mem
	}
	if s.Suppliers == nil {
		s.Suppliers = mem
	}
	if s.Notifications == nil {
		s.Notifications = mem
	}
	if s.Badges == nil {
		s.Badges = mem
	}
	if s.Events == nil {
		s.Events = mem
	}
}

// RuntimeConfig captures the environment-derived settings the application
// needs beyond storage: auth secrets, the calculation provider, outbound
// mail, and on-disk paths for uploads and generated reports.
type RuntimeConfig struct {
	JWTSecret        string
	APITokens        []string
	Calculation      config.CalculationConfig
	Notification     config.NotificationConfig
	Storage          config.StorageConfig
	VisionServiceURL string
	VisionAPIKey     string
	PostgresDSN      string
}

// Environment abstracts configuration lookup so tests can inject values
// without mutating process-wide environment variables.
type Environment interface {
	Lookup(key string) string
}

type osEnvironment struct{}

func (osEnvironment) Lookup(key string) string { return os.Getenv(key) }

type builderConfig struct {
	runtime    *RuntimeConfig
	httpClient *http.Client
	env        Environment
	vision     ocr.VisionClient
}

// Option customizes Application construction.
type Option func(*builderConfig)

// WithRuntimeConfig overrides the environment-derived runtime settings.
func WithRuntimeConfig(rc RuntimeConfig) Option {
	return func(b *builderConfig) { b.runtime = &rc }
}

// WithHTTPClient overrides the HTTP client used for the remote calculation
// provider and the OCR vision service.
func WithHTTPClient(client *http.Client) Option {
	return func(b *builderConfig) { b.httpClient = client }
}

// WithEnvironment overrides environment variable lookup, primarily for tests.
func WithEnvironment(env Environment) Option {
	return func(b *builderConfig) { b.env = env }
}

// WithVisionClient overrides the OCR vision client, primarily for tests.
func WithVisionClient(v ocr.VisionClient) Option {
	return func(b *builderConfig) { b.vision = v }
}

type resolvedBuilder struct {
	runtime    RuntimeConfig
	httpClient *http.Client
	env        Environment
	vision     ocr.VisionClient
}

func resolveBuilder(opts []Option) resolvedBuilder {
	b := &builderConfig{}
	for _, opt := range opts {
		opt(b)
	}
	if b.env == nil {
		b.env = osEnvironment{}
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	runtime := RuntimeConfig{}
	if b.runtime != nil {
		runtime = *b.runtime
	} else {
		runtime = runtimeFromEnvironment(b.env)
	}
	return resolvedBuilder{runtime: runtime, httpClient: b.httpClient, env: b.env, vision: b.vision}
}

func runtimeFromEnvironment(env Environment) RuntimeConfig {
	rc := RuntimeConfig{
		JWTSecret:        env.Lookup("AUTH_JWT_SECRET"),
		VisionServiceURL: env.Lookup("OCR_VISION_SERVICE_URL"),
		VisionAPIKey:     env.Lookup("OCR_VISION_API_KEY"),
		PostgresDSN:      env.Lookup("DATABASE_URL"),
	}
	if tokens := strings.TrimSpace(env.Lookup("AUTH_API_TOKENS")); tokens != "" {
		for _, t := range strings.Split(tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				rc.APITokens = append(rc.APITokens, t)
			}
		}
	}
	rc.Calculation = config.CalculationConfig{
		ProviderURL:     env.Lookup("CALCULATION_PROVIDER_URL"),
		ProviderAPIKey:  env.Lookup("CALCULATION_PROVIDER_API_KEY"),
		TimeoutSeconds:  envInt(env, "CALCULATION_TIMEOUT_SECONDS", 10),
		MaxAttempts:     envInt(env, "CALCULATION_MAX_ATTEMPTS", 3),
		FallbackEnabled: true,
	}
	rc.Notification = config.NotificationConfig{
		SMTPHost:     env.Lookup("SMTP_HOST"),
		SMTPPort:     envInt(env, "SMTP_PORT", 587),
		SMTPUsername: env.Lookup("SMTP_USERNAME"),
		SMTPPassword: env.Lookup("SMTP_PASSWORD"),
		FromAddress:  env.Lookup("SMTP_FROM_ADDRESS"),
	}
	rc.Storage = config.StorageConfig{
		UploadDir:      orDefault(env.Lookup("STORAGE_UPLOAD_DIR"), "./data/uploads"),
		ReportDir:      orDefault(env.Lookup("STORAGE_REPORT_DIR"), "./data/reports"),
		ReportTTLHours: envInt(env, "STORAGE_REPORT_TTL_HOURS", 24),
	}
	return rc
}

func envInt(env Environment, key string, def int) int {
	raw := strings.TrimSpace(env.Lookup(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// Application bundles every wired service and the lifecycle manager that
// starts and stops their background workers.
type Application struct {
	log     *logger.Logger
	manager *system.Manager

	Stores Stores

	Calculation  calculation.Provider
	Bus          *eventbus.Bus
	Notification *notification.Service
	Analytics    *analytics.Service
	Benchmarking *benchmarking.Service
	Suggestions  *suggestion.Engine
	Access       *access.RateLimiters
	Ingestion    *ingestion.Worker
	OCR          *ocr.Worker
	ReportsTTL   *reporting.CleanupWorker
	Reporting    *reporting.ReportWorker

	Runtime RuntimeConfig

	descriptors []core.Descriptor
}

// New wires a complete Application: every missing store defaults to a
// shared in-memory implementation, every domain service is constructed
// against those stores, and every background worker is registered with the
// lifecycle manager (but not yet started -- call Start for that).
func New(stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("carbonledger")
	}

	mem := storage.NewMemory()
	stores.applyDefaults(mem)

	resolved := resolveBuilder(opts)
	rc := resolved.runtime

	var notifier *pgnotify.Bus
	if rc.PostgresDSN != "" {
		bus, err := pgnotify.New(rc.PostgresDSN)
		if err != nil {
			log.WithError(err).Warn("pgnotify connection failed; event bus will rely on polling only")
		} else {
			notifier = bus
		}
	}

	calcProvider := calculation.NewFromConfig(context.Background(), rc.Calculation.ProviderURL, rc.Calculation.ProviderAPIKey, resolved.httpClient, 0, log)

	bus := eventbus.New(stores.Events, notifier, log)
	notifSvc := notification.New(stores.Notifications, rc.Notification, log)
	analyticsSvc := analytics.New(stores.Companies, stores.Facilities, stores.Activities, stores.Suppliers, notifSvc, log)
	benchmarkSvc := benchmarking.New(stores.Companies, stores.Facilities, stores.Activities)
	suggestionEngine := suggestion.New(suggestion.Deps{Activities: stores.Activities, Financials: stores.Companies, Parameters: stores.Parameters})
	limiters := access.NewRateLimiters()

	ingestionWorker := ingestion.NewWorker(bus, stores.Activities, stores.Events, calcProvider, log)

	vision := resolved.vision
	if vision == nil && rc.VisionServiceURL != "" {
		vision = ocr.NewHTTPVisionClient(rc.VisionServiceURL, rc.VisionAPIKey)
	}
	var ocrWorker *ocr.Worker
	if vision != nil {
		ocrWorker = ocr.NewWorker(stores.Invoices, notifSvc, vision, log)
	}

	cleanupWorker := reporting.NewCleanupWorker(stores.Reports, log)
	reportWorker := reporting.NewReportWorker(bus, stores.Reports, stores.Facilities, stores.Activities, stores.Companies, stores.Users, rc.Storage.ReportDir, log)

	manager := system.NewManager()

	if err := manager.Register(&tickerService{
		name:     "eventbus.dispatcher",
		interval: 0, // Bus.Run owns its own internal ticking.
		runLoop:  bus.Run,
	}); err != nil {
		return nil, err
	}
	if ocrWorker != nil {
		if err := manager.Register(&tickerService{
			name:     "ocr.worker",
			interval: 30 * time.Second,
			fn:       ocrWorker.ProcessPending,
			log:      log,
		}); err != nil {
			return nil, err
		}
	}
	if err := manager.Register(&tickerService{
		name:     "reporting.cleanup",
		interval: time.Hour,
		fn:       cleanupWorker.Sweep,
		log:      log,
	}); err != nil {
		return nil, err
	}
	if err := manager.Register(&tickerService{
		name:     "analytics.anomaly_detection",
		interval: 24 * time.Hour,
		fn:       analyticsSvc.DetectAnomalies,
		log:      log,
	}); err != nil {
		return nil, err
	}
	if err := manager.Register(&tickerService{
		name:     "analytics.industry_benchmarks",
		interval: 7 * 24 * time.Hour,
		fn:       analyticsSvc.RefreshIndustryBenchmarks,
		log:      log,
	}); err != nil {
		return nil, err
	}

	app := &Application{
		log:          log,
		manager:      manager,
		Stores:       stores,
		Calculation:  calcProvider,
		Bus:          bus,
		Notification: notifSvc,
		Analytics:    analyticsSvc,
		Benchmarking: benchmarkSvc,
		Suggestions:  suggestionEngine,
		Access:       limiters,
		Ingestion:    ingestionWorker,
		OCR:          ocrWorker,
		ReportsTTL:   cleanupWorker,
		Reporting:    reportWorker,
		Runtime:      rc,
		descriptors:  manager.Descriptors(),
	}
	return app, nil
}

// Attach registers an additional lifecycle-managed service, for callers
// (tests, cmd/appserver) that need to add their own background work.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start starts every registered background worker.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every registered background worker.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns the registered services' descriptors for introspection.
func (a *Application) Descriptors() []core.Descriptor {
	return a.descriptors
}

// tickerService adapts a periodic function, or a self-driven run loop, into
// a system.Service. Exactly one of fn or runLoop should be set; periodic
// functions are scheduled with cron's "@every" duration spec rather than a
// hand-rolled ticker.
type tickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	runLoop  func(ctx context.Context)
	log      *logger.Logger

	cronSched *cron.Cron
	cancel    context.CancelFunc
}

func (t tickerService) Name() string { return t.name }

func (t tickerService) Descriptor() core.Descriptor {
	return core.Descriptor{Name: t.name, Domain: "carbon", Layer: core.LayerEngine}
}

func (t *tickerService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if t.runLoop != nil {
		go t.runLoop(runCtx)
		return nil
	}

	t.cronSched = cron.New()
	_, err := t.cronSched.AddFunc(fmt.Sprintf("@every %s", t.interval), func() {
		if err := t.fn(runCtx); err != nil && t.log != nil {
			// Background jobs log their own errors; a failed tick is
			// retried on the next interval rather than treated as fatal.
			t.log.WithError(err).Warnf("%s tick failed", t.name)
		}
	})
	if err != nil {
		cancel()
		return err
	}
	t.cronSched.Start()
	return nil
}

func (t *tickerService) Stop(context.Context) error {
	if t.cronSched != nil {
		<-t.cronSched.Stop().Done()
	}
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

var _ system.Service = (*tickerService)(nil)
var _ system.DescriptorProvider = (*tickerService)(nil)

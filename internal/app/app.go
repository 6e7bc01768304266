// Package app wires configuration, storage, integrations, the pipeline and
// the HTTP intake into one process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"agentdesk/internal/api"
	"agentdesk/internal/classify"
	"agentdesk/internal/config"
	"agentdesk/internal/credentials"
	"agentdesk/internal/domain"
	"agentdesk/internal/escalation"
	"agentdesk/internal/gateway"
	"agentdesk/internal/httpx"
	"agentdesk/internal/integrations/events"
	"agentdesk/internal/integrations/genesys"
	"agentdesk/internal/integrations/llm"
	slackbot "agentdesk/internal/integrations/slack"
	"agentdesk/internal/integrations/ticketing"
	"agentdesk/internal/pipeline"
	"agentdesk/internal/poller"
	"agentdesk/internal/storage/sqlite"
)

type App struct {
	Config       config.Config
	Logger       *zap.Logger
	DB           *sql.DB
	Store        sqlite.Store
	Classifier   *classify.Classifier
	Backend      ticketing.Backend
	Orchestrator *escalation.Orchestrator
	Manager      *pipeline.Manager
	Poller       *poller.Poller
	Simulated    *poller.SimulatedStore
	// Genesys is nil when no contact-center credentials are configured.
	Genesys *genesys.Client

	closers []func() error
}

// NewLogger returns a production logger, or a development logger when
// level is "debug".
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Build assembles every component from cfg. Optional integrations that fail
// to start are logged and skipped; storage and ticketing failures are fatal.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	httpClient := httpx.ExternalHTTPClient()
	logger.Info("config loaded",
		zap.String("ticketing_system", cfg.TicketingSystem),
		zap.Bool("genesys", cfg.GenesysConfigured()),
		zap.Bool("auto_process", cfg.AutoProcess),
		zap.String("poll_schedule", cfg.PollSchedule),
		zap.Duration("external_http_timeout", timeout),
	)

	a := &App{Config: cfg, Logger: logger, Simulated: &poller.SimulatedStore{}}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.Store = sqlite.Store{DB: db}
	a.closers = append(a.closers, db.Close)
	logger.Info("database initialized", zap.String("path", cfg.DBPath))

	catalog := classify.BuiltinCatalog()
	if cfg.IntentCatalogPath != "" {
		catalog, err = classify.LoadCatalog(cfg.IntentCatalogPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading intent catalog: %w", err)
		}
		logger.Info("intent catalog loaded", zap.String("path", cfg.IntentCatalogPath), zap.Int("intents", len(catalog)))
	}
	a.Classifier = classify.New(catalog)

	a.Backend, err = ticketing.New(cfg.TicketingSystem, cfg.TicketingBackends[cfg.TicketingSystem], httpClient, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.GenesysConfigured() {
		tokens := credentials.NewCache("genesys", credentials.ClientCredentials{
			Endpoint:     cfg.GenesysOAuthEndpoint,
			ClientID:     cfg.GenesysClientID,
			ClientSecret: cfg.GenesysClientSecret,
			HTTPClient:   httpClient,
		}, logger)
		gw := gateway.New("genesys", cfg.GenesysAPIEndpoint, tokens, httpClient, logger)
		a.Genesys = genesys.New(gw, cfg.GenesysOrgName, cfg.GenesysRegion)
	}

	opts := []escalation.Option{
		escalation.WithCatalog(catalog),
		escalation.WithNotifiers(a.notifiers(ctx, httpClient)...),
	}
	if cfg.LLMProvider == "anthropic" {
		completer := llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel, httpClient, logger)
		opts = append(opts, escalation.WithSummarizer(llm.NewSummarizer(completer, logger)))
	}
	a.Orchestrator = escalation.New(a.Backend, a.Store, logger, opts...)

	a.Manager = pipeline.NewManager(ctx, pipeline.Deps{
		Classifier: a.Classifier,
		Resolver:   a.Orchestrator,
		Logger:     logger,
		Listener: func(in domain.Interaction) {
			logger.Debug("stage changed", zap.String("interaction_id", in.ID), zap.String("stage", string(in.Stage)))
		},
	}, pipeline.DefaultRetention)

	pollOpts := poller.Options{
		Local:     a.Simulated,
		PageSize:  cfg.PollPageSize,
		NewWindow: cfg.NewConversationWindow(),
		Logger:    logger,
	}
	if a.Genesys != nil {
		pollOpts.Source = a.Genesys
		pollOpts.Transcripts = a.Genesys
	}
	if cfg.AutoProcess {
		pollOpts.Dispatcher = a.Manager
	}
	a.Poller = poller.New(pollOpts)
	return a, nil
}

func (a *App) notifiers(ctx context.Context, httpClient *http.Client) []escalation.Notifier {
	cfg := a.Config
	systemName := ticketing.DisplayName(cfg.TicketingSystem)
	var out []escalation.Notifier

	if cfg.SlackConfigured() {
		out = append(out, slackbot.NewFromToken(cfg.SlackBotToken, cfg.SlackEscalationChannel, systemName, a.Logger,
			slack.OptionHTTPClient(httpClient)))
		a.Logger.Info("slack notifier enabled", zap.String("channel", cfg.SlackEscalationChannel))
	}
	if cfg.AMQPConfigured() {
		pub, err := events.Dial(ctx, events.DialOptions{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Producer: "agentdesk",
			Logger:   a.Logger,
		})
		if err != nil {
			a.Logger.Warn("event publisher disabled", zap.Error(err))
		} else {
			out = append(out, pub)
			a.closers = append(a.closers, pub.Close)
			a.Logger.Info("event publisher enabled", zap.String("exchange", cfg.AMQPExchange))
		}
	}
	if a.Genesys != nil {
		out = append(out, genesys.NewResolutionNotifier(a.Genesys, systemName, a.Logger))
	}
	return out
}

func (a *App) Handler() http.Handler {
	h := &api.Handler{
		Interactions: a.Manager,
		Records:      a.Store,
		Retrier:      a.Orchestrator,
		Snapshots:    a.Poller,
		Simulated:    a.Simulated,
		Logger:       a.Logger,
	}
	if a.Genesys != nil {
		h.ContactCenter = a.Genesys
	}
	return api.NewRouter(h)
}

// Serve starts polling and the HTTP intake and blocks until ctx is done,
// then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Poller.Start(ctx, a.Config.PollSchedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.Config.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("http intake listening", zap.String("addr", a.Config.ListenAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		a.Manager.Shutdown()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.Manager.Shutdown()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/config"
	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
	"github.com/anstrom/ipprism/internal/reputation"
	"github.com/anstrom/ipprism/internal/resolver"
)

const databaseTimeout = 10 * time.Second

// clients are the reputation clients sharing one transport.
type clients struct {
	resolver  *resolver.Resolver
	primary   *reputation.PrimaryClient
	secondary *reputation.SecondaryClient
}

// newClients builds the resolver shim and both reputation clients. When
// bootstrap is set the override table is refreshed first.
func newClients(ctx context.Context, cfg *config.Config, recorder metrics.Recorder, bootstrap bool) *clients {
	logger := logging.Default()

	res := resolver.New(cfg.Resolver.Overrides,
		resolver.WithNameservers(cfg.Resolver.Nameservers...),
		resolver.WithLogger(logger.WithComponent("resolver")))
	if bootstrap && cfg.Resolver.BootstrapTimeout > 0 {
		bctx, cancel := context.WithTimeout(ctx, cfg.Resolver.BootstrapTimeout)
		res.Bootstrap(bctx)
		cancel()
	}

	primaryCfg, secondaryCfg := cfg.Reputation.Primary, cfg.Reputation.Secondary
	httpClient := reputation.NewHTTPClient(res,
		max(primaryCfg.Timeout, secondaryCfg.Timeout), cfg.Reputation.UserAgent)

	opts := []reputation.ClientOption{
		reputation.WithMetrics(recorder),
		reputation.WithLogger(logger.WithComponent("reputation")),
	}
	return &clients{
		resolver: res,
		primary: reputation.NewPrimaryClient(httpClient, primaryCfg.BaseURL, primaryCfg.APIKey,
			append(opts, reputation.WithTimeout(primaryCfg.Timeout))...),
		secondary: reputation.NewSecondaryClient(httpClient, secondaryCfg.BaseURL, secondaryCfg.APIKey,
			append(opts, reputation.WithTimeout(secondaryCfg.Timeout))...),
	}
}

// app bundles everything a database-backed command needs.
type app struct {
	cfg      *config.Config
	database *db.DB
	gateway  *db.Gateway
	clients  *clients
	engine   *analysis.Engine
	metrics  *metrics.PrometheusMetrics
}

// newApp loads configuration, applies overrides, connects to the database,
// applies pending migrations and builds the engine. The caller must Close
// the app.
func newApp(ctx context.Context, bootstrap bool, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	pm := metrics.GetGlobalMetrics()

	connectCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()
	database, err := db.ConnectAndMigrate(connectCtx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error preparing database: %w", err)
	}

	gateway := db.NewGateway(database, db.WithMetrics(pm))
	c := newClients(ctx, cfg, pm, bootstrap)

	engine := analysis.NewEngine(gateway, c.primary, c.secondary, analysis.Config{
		TTL:                cfg.CacheTTL(),
		MaliciousThreshold: cfg.Analysis.MaliciousThreshold,
		MaxConcurrency:     cfg.Analysis.MaxConcurrency,
		RequestsPerSecond:  cfg.Analysis.RequestsPerSecond,
	},
		analysis.WithLogger(logging.Default().WithComponent("analysis")),
		analysis.WithMetrics(pm))

	return &app{
		cfg:      cfg,
		database: database,
		gateway:  gateway,
		clients:  c,
		engine:   engine,
		metrics:  pm,
	}, nil
}

// Close releases the database connection.
func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
	}
}

// GatewayOperation represents a function that operates on the gateway.
type GatewayOperation func(ctx context.Context, gateway *db.Gateway) error

// withGateway runs operation against a connected gateway without building
// the reputation clients.
func withGateway(ctx context.Context, operation GatewayOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()
	database, err := db.Connect(connectCtx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	// Ensure database is closed
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(ctx, db.NewGateway(database))
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/config"
	"github.com/datmedevil17/apocalypse/delegation"
	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/ledger"
	"github.com/datmedevil17/apocalypse/program"
	"github.com/datmedevil17/apocalypse/server"
	"github.com/datmedevil17/apocalypse/session"
	"github.com/datmedevil17/apocalypse/telemetry"
)

const serviceName = "apocalypse"

const (
	flagPort      = "port"
	flagNamespace = "namespace"
	flagRedis     = "redis"
	flagRollup    = "rollup-redis"
	flagValidator = "validator"
	flagLogLevel  = "log-level"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String(flagPort, "", "HTTP port (overrides APOCALYPSE_PORT)")
	cmd.Flags().String(flagNamespace, "", "program namespace (overrides APOCALYPSE_NAMESPACE)")
	cmd.Flags().String(flagRedis, "", "base layer redis address (overrides REDIS_ADDRESS)")
	cmd.Flags().String(flagRollup, "", "rollup layer redis address (overrides ROLLUP_REDIS_ADDRESS)")
	cmd.Flags().String(flagValidator, "", "rollup validator id (overrides ROLLUP_VALIDATOR)")
	cmd.Flags().String(flagLogLevel, "", "log level (overrides LOG_LEVEL)")
	return cmd
}

// applyFlags overrides cfg with every flag that was set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	overrides := map[string]*string{
		flagPort:      &cfg.Port,
		flagNamespace: &cfg.Namespace,
		flagRedis:     &cfg.RedisAddr,
		flagRollup:    &cfg.RollupRedisAddr,
		flagValidator: &cfg.Validator,
		flagLogLevel:  &cfg.LogLevel,
	}
	for name, field := range overrides {
		if !cmd.Flags().Changed(name) {
			continue
		}
		value, err := cmd.Flags().GetString(name)
		if err != nil {
			return eris.Wrapf(err, "failed to read flag %s", name)
		}
		*field = value
	}
	return cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config) error {
	tel, err := telemetry.New(cfg.TelemetryOptions(serviceName))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			tel.Logger.Error().Err(err).Msg("failed to shut down telemetry")
		}
	}()

	baseClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer closeClient(tel.Logger, baseClient)
	rollupClient := baseClient
	if cfg.RollupRedisAddr != "" {
		rollupClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RollupRedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer closeClient(tel.Logger, rollupClient)
	}
	for _, client := range []*redis.Client{baseClient, rollupClient} {
		if err := client.Ping(ctx).Err(); err != nil {
			return eris.Wrapf(err, "failed to reach redis at %s", client.Options().Addr)
		}
	}

	base := ledger.NewRedisStore(baseClient, ledger.LayerBase, cfg.Namespace, ledger.WithTracer(tel.Tracer))
	rollup := ledger.NewRedisStore(rollupClient, ledger.LayerRollup, cfg.Namespace, ledger.WithTracer(tel.Tracer))
	ctrl, err := delegation.NewController(base, rollup, cfg.Validator, tel.GetLogger("delegation"))
	if err != nil {
		return err
	}

	sessions := session.NewManager(baseClient, cfg.Namespace, session.WithLogger(tel.GetLogger("session")))
	hub := events.NewHub(tel.GetLogger("events"))
	prog, err := program.New(cfg.Namespace, ctrl, auth.NewGate(sessions),
		program.WithEmitter(hub),
		program.WithSessions(sessions),
		program.WithLogger(tel.GetLogger("program")),
	)
	if err != nil {
		return err
	}

	srv, err := server.New(prog, sessions, hub,
		server.WithPort(cfg.Port),
		server.WithCORS(),
		server.WithTxTTL(cfg.TxTTL),
		server.WithDefaultSessionValidity(cfg.DefaultSessionValidity),
		server.WithLogger(tel.GetLogger("server")),
	)
	if err != nil {
		return err
	}

	tel.Logger.Info().
		Str("namespace", cfg.Namespace).
		Str("validator", cfg.Validator).
		Bool("separate_rollup", rollupClient != baseClient).
		Msg("Starting apocalypse")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(ctx)
	})
	return eg.Wait()
}

func closeClient(logger zerolog.Logger, client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close redis client")
	}
}

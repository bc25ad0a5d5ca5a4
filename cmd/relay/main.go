// Command relay runs the moderation relay service: the inbound CheckStep
// decision webhook, the intake/ops API, and the periodic queue sweep that
// submits pending content to the vendor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"

	"github.com/guido-cesarano/modrelay/pkg/checkstep"
	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/logger"
	"github.com/guido-cesarano/modrelay/pkg/moderation"
	"github.com/guido-cesarano/modrelay/pkg/processor"
	"github.com/guido-cesarano/modrelay/pkg/queue"
	"github.com/guido-cesarano/modrelay/pkg/webhook"
)

func main() {
	if err := run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("exiting")
	}
}

func run(args []string) error {
	defaults := config.Default()

	app := cli.App{
		Name:  "relay",
		Usage: "relay host content to CheckStep and apply returned decisions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "CheckStep API key",
				EnvVars: []string{"CHECKSTEP_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "CheckStep API base URL",
				Value:   defaults.APIURL,
				EnvVars: []string{"CHECKSTEP_API_URL"},
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Usage:   "shared secret for inbound webhook signatures",
				EnvVars: []string{"CHECKSTEP_WEBHOOK_SECRET"},
			},
			&cli.StringFlag{
				Name:    "appeal-url",
				Usage:   "URL included in owner notifications for appeals",
				EnvVars: []string{"APPEAL_URL"},
			},
			&cli.StringFlag{
				Name:    "admin-key",
				Usage:   "bearer token for the ops endpoints (empty disables auth)",
				EnvVars: []string{"ADMIN_KEY"},
			},
			&cli.StringFlag{
				Name:    "notification-level",
				Usage:   "owner notification level: all, actions, none",
				Value:   defaults.NotificationLevel,
				EnvVars: []string{"NOTIFICATION_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "auto-moderation",
				Usage:   "apply mutating decisions to host content",
				Value:   defaults.AutoModeration,
				EnvVars: []string{"AUTO_MODERATION"},
			},
			&cli.StringFlag{
				Name:     "host-url",
				Usage:    "base URL of the host CMS adapter API",
				Required: true,
				EnvVars:  []string{"HOST_URL"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "host:port of the Redis backing store",
				Value:   defaults.RedisAddr,
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "sweep-spec",
				Usage:   "cron spec for the queue sweep",
				Value:   defaults.SweepSpec,
				EnvVars: []string{"SWEEP_SPEC"},
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "max entries claimed per sweep",
				Value:   defaults.BatchSize,
				EnvVars: []string{"BATCH_SIZE"},
			},
			&cli.DurationFlag{
				Name:    "stale-claim-timeout",
				Usage:   "processing entries older than this are reclaimed",
				Value:   defaults.StaleClaimTimeout,
				EnvVars: []string{"STALE_CLAIM_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "submit-rate",
				Usage:   "outbound submissions per second",
				Value:   defaults.SubmitRate,
				EnvVars: []string{"SUBMIT_RATE"},
			},
			&cli.IntFlag{
				Name:    "submit-burst",
				Usage:   "outbound submission burst capacity",
				Value:   defaults.SubmitBurst,
				EnvVars: []string{"SUBMIT_BURST"},
			},
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "address for the webhook/ops listener",
				Value:   defaults.Bind,
				EnvVars: []string{"RELAY_BIND"},
			},
			&cli.StringFlag{
				Name:    "metrics-bind",
				Usage:   "address for the Prometheus metrics listener",
				Value:   defaults.MetricsBind,
				EnvVars: []string{"RELAY_METRICS_BIND"},
			},
		},
		Action: serve,
	}

	return app.Run(args)
}

func serve(cctx *cli.Context) error {
	log := logger.Log

	cfg := config.Default()
	cfg.APIKey = cctx.String("api-key")
	cfg.APIURL = cctx.String("api-url")
	cfg.WebhookSecret = cctx.String("webhook-secret")
	cfg.AppealURL = cctx.String("appeal-url")
	cfg.AdminKey = cctx.String("admin-key")
	cfg.NotificationLevel = cctx.String("notification-level")
	cfg.AutoModeration = cctx.Bool("auto-moderation")
	cfg.HostURL = cctx.String("host-url")
	cfg.RedisAddr = cctx.String("redis-addr")
	cfg.SweepSpec = cctx.String("sweep-spec")
	cfg.BatchSize = cctx.Int("batch-size")
	cfg.StaleClaimTimeout = cctx.Duration("stale-claim-timeout")
	cfg.SubmitRate = cctx.Int("submit-rate")
	cfg.SubmitBurst = cctx.Int("submit-burst")
	cfg.Bind = cctx.String("bind")
	cfg.MetricsBind = cctx.String("metrics-bind")

	if cfg.WebhookSecret == "" {
		log.Warn().Msg("webhook secret not set; inbound decisions will be rejected")
	}
	if cfg.AdminKey == "" {
		log.Warn().Msg("admin key not set; ops endpoints are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.NewClient(cfg.RedisAddr)
	if err := q.Ping(ctx); err != nil {
		return err
	}

	api := checkstep.NewClient(&cfg)
	host := content.NewHTTPHost(cfg.HostURL)
	formatter := content.NewHostFormatter(host)
	notifier := moderation.LogNotifier{Log: log}
	handler := moderation.NewHandler(&cfg, host, notifier, log)

	proc := processor.New(&cfg, q, formatter, api, log)
	if err := proc.Start(ctx); err != nil {
		return err
	}
	defer proc.Stop()

	// Metrics listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", cfg.MetricsBind).Msg("metrics listening")
		if err := http.ListenAndServe(cfg.MetricsBind, mux); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	srv := webhook.NewServer(&cfg, q, api, handler, log)
	go func() {
		log.Info().Str("addr", cfg.Bind).Msg("webhook server listening")
		if err := srv.Start(cfg.Bind); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("webhook server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

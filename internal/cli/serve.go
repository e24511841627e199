package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"

	"routeperf/internal/cache"
	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
	"routeperf/internal/http/handlers"
	"routeperf/internal/http/middleware"
	"routeperf/internal/notify"
	"routeperf/internal/perf"
	"routeperf/internal/queue"
)

const shutdownTimeout = 10 * time.Second

// stack is everything serve runs. stop releases it in reverse order.
type stack struct {
	Handler  fasthttp.RequestHandler
	Recorder *perf.Recorder

	stops []func()
}

func (s *stack) onStop(f func()) { s.stops = append(s.stops, f) }

func (s *stack) stop() {
	for i := len(s.stops) - 1; i >= 0; i-- {
		s.stops[i]()
	}
	s.stops = nil
}

// buildStack wires the recorder, its optional services and the HTTP
// handler. Optional services that cannot be reached are logged and
// skipped.
func buildStack(ctx context.Context, app *App) (*stack, error) {
	cfg := app.Config
	routes, records, err := app.Stores()
	if err != nil {
		return nil, err
	}
	hash, err := middleware.AdminTokenHash(cfg)
	if err != nil {
		return nil, err
	}

	st := &stack{}
	rec := perf.NewRecorder(routes, records, perf.Options{
		TrackedStatusCodes: cfg.TrackStatusCodes,
		Async:              cfg.Async,
		AccessRecords:      cfg.EnableAccessRecords,
		Logging:            cfg.EnableLogging,
	})
	st.Recorder = rec

	statsCache := cache.New(ctx, cfg.RedisURL, cfg.CacheTTL)
	rec.SetCache(statsCache)
	st.onStop(func() { statsCache.Close() })

	metrics := handlers.NewMetrics()
	rec.OnRecorded(metrics.Hook())
	rec.OnChange(metrics.ChangeHook())
	if n := notify.FromConfig(cfg); n != nil {
		rec.OnRecorded(n.Hook())
	}

	if cfg.Async {
		conn, err := queue.Connect(ctx, cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
		if err != nil {
			logrus.WithError(err).Warn("NATS unavailable, recording synchronously")
		} else {
			st.onStop(conn.Close)
			rec.SetPublisher(conn)
			cc, err := conn.Consume(ctx, rec)
			if err != nil {
				st.stop()
				return nil, err
			}
			st.onStop(cc.Stop)
		}
	}

	if records != nil && cfg.AccessRecordsRetentionDays > 0 {
		c, err := db.StartRetentionWorker(ctx, records, cfg.AccessRecordsRetentionDays, cfg.PurgeSchedule)
		if err != nil {
			st.stop()
			return nil, perrors.Wrap(err, perrors.CategoryConfig, "invalid APP_PURGE_SCHEDULE")
		}
		st.onStop(func() { <-c.Stop().Done() })
	}

	r := handlers.NewRouter(handlers.Deps{
		Recorder: rec,
		Routes:   routes,
		Records:  records,
		Metrics:  metrics,
		Env:      cfg.Env,
	}, middleware.BearerAuth(hash))
	st.Handler = middleware.RequestLogger(middleware.Instrument(cfg, rec)(r.Handler))
	return st, nil
}

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API with request instrumentation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := buildStack(ctx, app)
			if err != nil {
				return err
			}
			defer st.stop()

			srv := &fasthttp.Server{
				Handler:      st.Handler,
				Name:         "routeperf",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				logrus.WithFields(logrus.Fields{
					"addr":  app.Config.ListenAddr,
					"env":   app.Config.Env,
					"async": st.Recorder.Async(),
				}).Info("routeperf listening")
				errc <- srv.ListenAndServe(app.Config.ListenAddr)
			}()

			select {
			case err := <-errc:
				return perrors.Wrap(err, perrors.CategoryDependency, "server error")
			case <-ctx.Done():
			}

			logrus.Info("shutting down")
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.ShutdownWithContext(sctx)
		},
	}
}

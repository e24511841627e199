package cli

import (
	"context"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"routeperf/internal/cache"
	"routeperf/internal/config"
)

const checkTimeout = 3 * time.Second

// dependency is one optional service routeperf can work without.
type dependency struct {
	Name     string
	Feature  string
	Fallback string
	// Check reports whether the dependency is configured and, if so,
	// whether it answered.
	Check func(ctx context.Context, cfg *config.Config) (configured bool, err error)
}

func optionalDependencies() []dependency {
	return []dependency{
		{
			Name:     "NATS JetStream",
			Feature:  "async recording (APP_NATS_URL)",
			Fallback: "samples are written synchronously on the request path",
			Check: func(_ context.Context, cfg *config.Config) (bool, error) {
				if cfg.NATSURL == "" {
					return false, nil
				}
				nc, err := nats.Connect(cfg.NATSURL, nats.Name("routeperf-check"), nats.Timeout(checkTimeout))
				if err != nil {
					return true, err
				}
				nc.Close()
				return true, nil
			},
		},
		{
			Name:     "Redis",
			Feature:  "shared statistics cache (APP_REDIS_URL)",
			Fallback: "statistics are cached per process only",
			Check: func(ctx context.Context, cfg *config.Config) (bool, error) {
				if cfg.RedisURL == "" {
					return false, nil
				}
				client, err := cache.Dial(ctx, cfg.RedisURL)
				if err != nil {
					return true, err
				}
				return true, client.Close()
			},
		},
		{
			Name:     "Alert webhook",
			Feature:  "threshold alerts (APP_ALERT_WEBHOOK_URL)",
			Fallback: "threshold breaches are not reported",
			Check: func(_ context.Context, cfg *config.Config) (bool, error) {
				return cfg.AlertsEnabled && cfg.AlertWebhookURL != "", nil
			},
		},
		{
			Name:     "Process memory",
			Feature:  "memory usage per request",
			Fallback: "samples are recorded without memory usage",
			Check: func(ctx context.Context, _ *config.Config) (bool, error) {
				proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
				if err != nil {
					return true, err
				}
				_, err = proc.MemoryInfoWithContext(ctx)
				return true, err
			},
		},
	}
}

func newCheckDependenciesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check-dependencies",
		Short: "Report which optional services are available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCheckDependencies(cmd.Context(), app, optionalDependencies())
			return nil
		},
	}
}

// runCheckDependencies never fails: every dependency is optional.
func runCheckDependencies(ctx context.Context, app *App, deps []dependency) {
	p := app.out()
	p.Title("routeperf - Dependency Check")

	var missing [][]string
	for _, d := range deps {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		configured, err := d.Check(cctx, app.Config)
		cancel()

		switch {
		case !configured:
			p.Warning("%s: not configured", d.Name)
			missing = append(missing, []string{d.Name, d.Feature, d.Fallback})
		case err != nil:
			p.Warning("%s: unavailable (%v)", d.Name, err)
			missing = append(missing, []string{d.Name, d.Feature, d.Fallback})
		default:
			p.Success("%s: available", d.Name)
		}
	}

	if len(missing) == 0 {
		p.Success("All optional dependencies are available!")
		return
	}
	p.Text("")
	p.Note("routeperf works without these, using the fallback behavior:")
	p.Table([]string{"Dependency", "Feature", "Fallback"}, missing)
}

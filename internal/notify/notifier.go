package notify

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"routeperf/internal/config"
	"routeperf/internal/db"
	"routeperf/internal/perf"
)

// Channel delivers one alert somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert, route *db.RouteData) error
}

// Notifier evaluates recorded aggregates and fans alerts out to channels.
// The same (route, env, metric, severity) alert is sent at most once per
// cooldown.
type Notifier struct {
	thresholds config.Thresholds
	channels   []Channel
	sent       *gocache.Cache
	cooldown   time.Duration
}

func NewNotifier(th config.Thresholds, cooldown time.Duration, channels ...Channel) *Notifier {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &Notifier{
		thresholds: th,
		channels:   channels,
		sent:       gocache.New(cooldown, 2*cooldown),
		cooldown:   cooldown,
	}
}

// FromConfig builds the notifier described by cfg, or nil when alerts are
// off or no webhook is configured.
func FromConfig(cfg *config.Config) *Notifier {
	if !cfg.AlertsEnabled || cfg.AlertWebhookURL == "" {
		return nil
	}
	return NewNotifier(cfg.Thresholds, 0, NewWebhookChannel(cfg.AlertWebhookURL, cfg.AlertWebhookFormat, nil))
}

func alertKey(a Alert) string {
	return a.Env + "|" + a.Route + "|" + string(a.Kind) + "|" + string(a.Severity)
}

// Notify sends the alerts route currently deserves and returns how many
// deliveries succeeded. Channel failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, route *db.RouteData) int {
	delivered := 0
	for _, a := range Evaluate(route, n.thresholds) {
		key := alertKey(a)
		if err := n.sent.Add(key, struct{}{}, n.cooldown); err != nil {
			continue
		}
		for _, ch := range n.channels {
			if err := ch.Send(ctx, a, route); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"channel": ch.Name(),
					"route":   a.Route,
					"env":     a.Env,
					"type":    a.Kind,
				}).Warn("failed to send performance alert")
				continue
			}
			delivered++
		}
	}
	return delivered
}

// Hook adapts the notifier to the recorder. Delivery runs in the
// background so a slow webhook never delays recording.
func (n *Notifier) Hook() perf.RecordedHook {
	return func(_ context.Context, _ perf.Sample, res perf.Result) {
		if res.Route == nil {
			return
		}
		route := *res.Route
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*webhookTimeout)
			defer cancel()
			n.Notify(ctx, &route)
		}()
	}
}

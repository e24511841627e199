// Package notify turns slow aggregates into alerts and delivers them to
// webhook channels.
package notify

import (
	"fmt"

	"routeperf/internal/config"
	"routeperf/internal/db"
)

type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Kind names the metric an alert is about.
type Kind string

const (
	RequestTime Kind = "request_time"
	QueryCount  Kind = "query_count"
	MemoryUsage Kind = "memory_usage"
)

// Alert is one threshold crossing of one route.
type Alert struct {
	Kind      Kind     `json:"type"`
	Severity  Severity `json:"severity"`
	Route     string   `json:"route"`
	Env       string   `json:"env"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`
}

func (a Alert) Critical() bool { return a.Severity == Critical }

// Evaluate checks the stored metrics of route against th. Each metric
// yields at most one alert: critical wins over warning. Unreported metrics
// and zero thresholds never alert.
func Evaluate(route *db.RouteData, th config.Thresholds) []Alert {
	if route == nil {
		return nil
	}
	var alerts []Alert
	name := route.Name
	if name == "" {
		name = "Unknown"
	}

	if route.RequestTime != nil {
		v := *route.RequestTime
		if sev, limit, ok := level(v, th.RequestTimeWarning, th.RequestTimeCritical); ok {
			alerts = append(alerts, Alert{
				Kind: RequestTime, Severity: sev, Route: route.Name, Env: route.Env, Value: v, Threshold: limit,
				Message: fmt.Sprintf("%s: Route %q has request time of %.4fs (threshold: %.2fs)", title(sev), name, v, limit),
			})
		}
	}
	if route.TotalQueries != nil {
		v := float64(*route.TotalQueries)
		if sev, limit, ok := level(v, float64(th.QueryCountWarning), float64(th.QueryCountCritical)); ok {
			alerts = append(alerts, Alert{
				Kind: QueryCount, Severity: sev, Route: route.Name, Env: route.Env, Value: v, Threshold: limit,
				Message: fmt.Sprintf("%s: Route %q has %d queries (threshold: %d)", title(sev), name, *route.TotalQueries, int(limit)),
			})
		}
	}
	if route.MemoryUsage != nil {
		mb := float64(*route.MemoryUsage) / 1024 / 1024
		if sev, limit, ok := level(mb, th.MemoryWarningMB, th.MemoryCriticalMB); ok {
			alerts = append(alerts, Alert{
				Kind: MemoryUsage, Severity: sev, Route: route.Name, Env: route.Env, Value: mb, Threshold: limit,
				Message: fmt.Sprintf("%s: Route %q uses %.2f MB of memory (threshold: %.2f MB)", title(sev), name, mb, limit),
			})
		}
	}
	return alerts
}

func level(v, warning, critical float64) (Severity, float64, bool) {
	switch {
	case critical > 0 && v >= critical:
		return Critical, critical, true
	case warning > 0 && v >= warning:
		return Warning, warning, true
	}
	return "", 0, false
}

func title(s Severity) string {
	if s == Critical {
		return "Critical"
	}
	return "Warning"
}

// Package perf records per-route performance samples into their
// (route, env) aggregate.
package perf

import (
	"strings"
	"time"

	perrors "routeperf/internal/errors"
)

// Sample is one observation of a route. Nil metrics were not measured and
// are never treated as zero.
type Sample struct {
	Route string `json:"route"`
	Env   string `json:"env"`

	RequestTime  *float64 `json:"request_time,omitempty"` // seconds
	TotalQueries *int     `json:"total_queries,omitempty"`
	QueryTime    *float64 `json:"query_time,omitempty"` // seconds
	MemoryUsage  *int64   `json:"memory_usage,omitempty"` // bytes
	HTTPMethod   *string  `json:"http_method,omitempty"`
	StatusCode   *int     `json:"status_code,omitempty"`

	Params map[string]any `json:"params,omitempty"`

	// Access-record fields. Empty strings are stored as NULL.
	RequestID      string    `json:"request_id,omitempty"`
	Referer        string    `json:"referer,omitempty"`
	UserIdentifier string    `json:"user_identifier,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	RoutePath      string    `json:"route_path,omitempty"`
	AccessedAt     time.Time `json:"accessed_at,omitempty"`
}

// Validate checks that the sample names a route and an environment.
func (s Sample) Validate() error {
	if strings.TrimSpace(s.Route) == "" {
		return perrors.New(perrors.CategoryValidation, "sample has no route name")
	}
	if strings.TrimSpace(s.Env) == "" {
		return perrors.New(perrors.CategoryValidation, "sample has no environment")
	}
	return nil
}

// HasMetrics reports whether at least one metric was measured.
func (s Sample) HasMetrics() bool {
	return s.RequestTime != nil || s.TotalQueries != nil || s.QueryTime != nil || s.MemoryUsage != nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

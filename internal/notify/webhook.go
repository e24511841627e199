package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

const webhookTimeout = 5 * time.Second

// WebhookChannel POSTs alerts to a URL as plain JSON, a Slack message or a
// Teams MessageCard.
type WebhookChannel struct {
	url     string
	format  string
	headers map[string]string
	client  *fasthttp.Client
	now     func() time.Time
}

// NewWebhookChannel returns a channel for url. Unknown formats fall back to
// plain JSON.
func NewWebhookChannel(url, format string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		format:  format,
		headers: headers,
		client:  &fasthttp.Client{Name: "routeperf", ReadTimeout: webhookTimeout, WriteTimeout: webhookTimeout},
		now:     time.Now,
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Send delivers a single alert. Any non-2xx answer is an error.
func (w *WebhookChannel) Send(ctx context.Context, a Alert, route *db.RouteData) error {
	body, err := json.Marshal(w.Payload(a, route))
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryInternal, "encode webhook payload")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	deadline := time.Now().Add(webhookTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.client.DoDeadline(req, resp, deadline); err != nil {
		return perrors.Wrap(err, perrors.CategoryDependency, "post webhook")
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return perrors.Newf(perrors.CategoryDependency, "webhook answered %d", code).
			WithContext("body", string(resp.Body()))
	}
	return nil
}

// Payload builds the request body for the configured format.
func (w *WebhookChannel) Payload(a Alert, route *db.RouteData) any {
	switch w.format {
	case "slack":
		return w.slack(a, route)
	case "teams":
		return teams(a, route)
	}
	return w.plain(a, route)
}

func (w *WebhookChannel) plain(a Alert, route *db.RouteData) map[string]any {
	r := map[string]any{
		"name":          route.Name,
		"env":           route.Env,
		"http_method":   route.HTTPMethod,
		"request_time":  route.RequestTime,
		"query_count":   route.TotalQueries,
		"query_time":    route.QueryTime,
		"memory_usage":  route.MemoryUsage,
		"access_count":  route.AccessCount,
		"status_codes":  route.StatusCodes,
		"last_accessed": nil,
	}
	if route.LastAccessedAt != nil {
		r["last_accessed"] = route.LastAccessedAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"alert": map[string]any{
			"type":     a.Kind,
			"severity": a.Severity,
			"message":  a.Message,
			"context":  map[string]float64{"value": a.Value, "threshold": a.Threshold},
		},
		"route":     r,
		"timestamp": w.now().UTC().Format(time.RFC3339),
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (w *WebhookChannel) slack(a Alert, route *db.RouteData) map[string]any {
	color, icon := "warning", ":warning:"
	if a.Critical() {
		color, icon = "danger", ":rotating_light:"
	}
	fields := []slackField{}
	for _, f := range facts(a, route) {
		fields = append(fields, slackField{Title: f[0], Value: f[1], Short: true})
	}
	return map[string]any{
		"text": fmt.Sprintf("%s Performance Alert: %s", icon, a.Message),
		"attachments": []map[string]any{{
			"color":  color,
			"title":  fmt.Sprintf("%s Alert - %s", title(a.Severity), route.Name),
			"fields": fields,
			"footer": "routeperf",
			"ts":     w.now().Unix(),
		}},
	}
}

func teams(a Alert, route *db.RouteData) map[string]any {
	color := "FFA500"
	if a.Critical() {
		color = "FF0000"
	}
	var list []map[string]string
	for _, f := range facts(a, route) {
		list = append(list, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    "Performance Alert: " + a.Message,
		"themeColor": color,
		"title":      title(a.Severity) + " Performance Alert",
		"sections": []map[string]any{{
			"activityTitle": a.Message,
			"facts":         list,
		}},
	}
}

func facts(a Alert, route *db.RouteData) [][2]string {
	requestTime, queries := "N/A", "N/A"
	if route.RequestTime != nil {
		requestTime = strconv.FormatFloat(*route.RequestTime, 'f', 4, 64) + "s"
	}
	if route.TotalQueries != nil {
		queries = strconv.Itoa(*route.TotalQueries)
	}
	return [][2]string{
		{"Route", orUnknown(route.Name)},
		{"Environment", orUnknown(route.Env)},
		{"Request Time", requestTime},
		{"Query Count", queries},
		{"Alert Type", string(a.Kind)},
		{"Severity", title(a.Severity)},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

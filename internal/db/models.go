package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// RouteData is the per (route, environment) aggregate. Metric columns hold
// the worst value observed so far; nil means the metric was never reported,
// which is different from a reported zero.
type RouteData struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Env        string  `gorm:"column:env" json:"env"`
	Name       string  `gorm:"column:name" json:"name"`
	HTTPMethod *string `gorm:"column:http_method" json:"http_method,omitempty"`

	RequestTime  *float64 `gorm:"column:request_time" json:"request_time"`
	TotalQueries *int     `gorm:"column:total_queries" json:"total_queries"`
	QueryTime    *float64 `gorm:"column:query_time" json:"query_time"`
	MemoryUsage  *int64   `gorm:"column:memory_usage" json:"memory_usage"`

	// Params is replaced wholesale whenever the metrics are overwritten.
	Params datatypes.JSONMap `gorm:"column:params;type:json" json:"params,omitempty"`

	AccessCount int         `gorm:"column:access_count" json:"access_count"`
	StatusCodes StatusCodes `gorm:"column:status_codes;type:json" json:"status_codes,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `gorm:"column:last_accessed_at" json:"last_accessed_at,omitempty"`

	Reviewed        bool       `gorm:"column:reviewed" json:"reviewed"`
	ReviewedAt      *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	QueriesImproved *bool      `gorm:"column:queries_improved" json:"queries_improved,omitempty"`
	TimeImproved    *bool      `gorm:"column:time_improved" json:"time_improved,omitempty"`
	ReviewedBy      *string    `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`

	// SaveAccessRecords lets a single route opt out of per-request rows.
	SaveAccessRecords bool `gorm:"column:save_access_records" json:"save_access_records"`

	Records []*AccessRecord `gorm:"-" json:"-"`
}

// StatusCodeCount returns how often code was counted.
func (r *RouteData) StatusCodeCount(code int) int64 {
	return r.StatusCodes[code]
}

// TotalResponses is the sum of all status-code counts.
func (r *RouteData) TotalResponses() int64 {
	var total int64
	for _, n := range r.StatusCodes {
		total += n
	}
	return total
}

// StatusCodeRatio returns the share of code among all counted responses,
// as a percentage. It is 0 when nothing has been counted.
func (r *RouteData) StatusCodeRatio(code int) float64 {
	total := r.TotalResponses()
	if total == 0 {
		return 0.0
	}
	return 100 * float64(r.StatusCodeCount(code)) / float64(total)
}

// IncrementStatusCode adds one occurrence of code.
func (r *RouteData) IncrementStatusCode(code int) {
	if r.StatusCodes == nil {
		r.StatusCodes = StatusCodes{}
	}
	r.StatusCodes[code]++
}

// MarkAsReviewed flags the route as reviewed now. Nil arguments clear the
// corresponding field.
func (r *RouteData) MarkAsReviewed(queriesImproved, timeImproved *bool, reviewedBy *string) {
	now := time.Now()
	r.Reviewed = true
	r.ReviewedAt = &now
	r.QueriesImproved = queriesImproved
	r.TimeImproved = timeImproved
	r.ReviewedBy = reviewedBy
}

func (r *RouteData) String() string {
	if r.Name == "" {
		return fmt.Sprintf("RouteData#%d", r.ID)
	}
	method := ""
	if r.HTTPMethod != nil && *r.HTTPMethod != "" {
		method = *r.HTTPMethod + " "
	}
	return fmt.Sprintf("%s%s (%s)", method, r.Name, r.Env)
}

// AddAccessRecord attaches rec to r, detaching it from any previous owner.
func (r *RouteData) AddAccessRecord(rec *AccessRecord) {
	rec.SetRouteData(r)
}

// RemoveAccessRecord detaches rec if r owns it.
func (r *RouteData) RemoveAccessRecord(rec *AccessRecord) {
	if rec.RouteData == r {
		rec.SetRouteData(nil)
	}
}

func (r *RouteData) detach(rec *AccessRecord) {
	for i, existing := range r.Records {
		if existing == rec {
			r.Records = append(r.Records[:i], r.Records[i+1:]...)
			return
		}
	}
}

// AccessRecord is one observed request. Records are written once and only
// ever deleted in bulk.
type AccessRecord struct {
	ID uint `gorm:"primaryKey" json:"id"`

	RouteDataID uint       `gorm:"column:route_data_id" json:"route_data_id"`
	RouteData   *RouteData `gorm:"-" json:"-"`

	AccessedAt   time.Time `gorm:"column:accessed_at" json:"accessed_at"`
	StatusCode   *int      `gorm:"column:status_code" json:"status_code,omitempty"`
	ResponseTime *float64  `gorm:"column:response_time" json:"response_time,omitempty"`
	TotalQueries *int      `gorm:"column:total_queries" json:"total_queries,omitempty"`
	QueryTime    *float64  `gorm:"column:query_time" json:"query_time,omitempty"`
	MemoryUsage  *int64    `gorm:"column:memory_usage" json:"memory_usage,omitempty"`

	RequestID      *string           `gorm:"column:request_id" json:"request_id,omitempty"`
	Referer        *string           `gorm:"column:referer" json:"referer,omitempty"`
	UserIdentifier *string           `gorm:"column:user_identifier" json:"user_identifier,omitempty"`
	UserID         *string           `gorm:"column:user_id" json:"user_id,omitempty"`
	RoutePath      *string           `gorm:"column:route_path" json:"route_path,omitempty"`
	RouteParams    datatypes.JSONMap `gorm:"column:route_params;type:json" json:"route_params,omitempty"`
}

// SetRouteData moves the record to owner. A record has at most one owner:
// the previous owner's collection loses it before the new one gains it.
func (rec *AccessRecord) SetRouteData(owner *RouteData) {
	if rec.RouteData == owner {
		return
	}
	if prev := rec.RouteData; prev != nil {
		prev.detach(rec)
	}
	rec.RouteData = owner
	if owner == nil {
		rec.RouteDataID = 0
		return
	}
	owner.Records = append(owner.Records, rec)
	rec.RouteDataID = owner.ID
}

// StatusCodes maps an HTTP status code to its occurrence count. Stored as a
// JSON object with string keys.
type StatusCodes map[int]int64

func (s StatusCodes) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[int]int64(s))
	return string(b), err
}

func (s *StatusCodes) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StatusCodes", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*s = nil
		return nil
	}
	m := map[int]int64{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*s = m
	return nil
}

func (StatusCodes) GormDataType() string {
	return "json"
}

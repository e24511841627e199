package handlers

import (
	"strconv"
	"time"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// formatTime renders t for CSV cells; nil renders empty.
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(exportTimeLayout)
}

func formatISO(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt[T int | int64](n *T) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(int64(*n), 10)
}

func formatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// exportFilename is the attachment name of an export of env.
func exportFilename(prefix, env, ext string, now time.Time) string {
	return prefix + "_" + env + "_" + now.UTC().Format("2006-01-02_150405") + "." + ext
}

package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// LiveColumn is a column as reported by the database.
type LiveColumn struct {
	Name          string
	Type          string // raw SQL type, e.g. "varchar(255)"
	Nullable      bool
	Default       *string // already normalized by the dialect
	AutoIncrement bool
	PrimaryKey    bool
}

// Diff is the set of column operations that bring a live table in line
// with its definition.
type Diff struct {
	ToAdd   []Column
	ToAlter []Column
	ToDrop  []string
}

// Empty reports whether the diff has no operations.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToAlter) == 0 && len(d.ToDrop) == 0
}

// ComputeDiff compares expected against live. Names match
// case-insensitively. With dropObsolete, live columns missing from
// expected are dropped, except for the primary key.
func ComputeDiff(d Dialect, expected []Column, live []LiveColumn, dropObsolete bool) Diff {
	byName := make(map[string]LiveColumn, len(live))
	for _, lc := range live {
		byName[strings.ToLower(lc.Name)] = lc
	}

	var diff Diff
	known := make(map[string]bool, len(expected))
	for _, c := range expected {
		key := strings.ToLower(c.Name)
		known[key] = true
		lc, ok := byName[key]
		if !ok {
			diff.ToAdd = append(diff.ToAdd, c)
			continue
		}
		if ColumnDiffers(d, c, lc) {
			diff.ToAlter = append(diff.ToAlter, c)
		}
	}

	if dropObsolete {
		for _, lc := range live {
			if lc.PrimaryKey || known[strings.ToLower(lc.Name)] {
				continue
			}
			diff.ToDrop = append(diff.ToDrop, lc.Name)
		}
	}
	return diff
}

// ColumnDiffers reports whether the live column needs an ALTER to match c.
func ColumnDiffers(d Dialect, c Column, lc LiveColumn) bool {
	if NormalizeType(d.ColumnType(c)) != NormalizeType(lc.Type) {
		return true
	}
	wantNullable := c.Nullable && !c.PrimaryKey
	if wantNullable != lc.Nullable {
		return true
	}
	if !DefaultsEqual(c.Type, effectiveDefault(c), lc.Default) {
		return true
	}
	if d.ComparesAutoIncrement() && c.AutoIncrement != lc.AutoIncrement {
		return true
	}
	return false
}

// ComputeIndexDiff returns the expected indexes that should be created: the
// name is not present yet (case-insensitive) and every referenced column
// exists in columns.
func ComputeIndexDiff(expected []Index, liveIndexNames []string, columns []string) []Index {
	have := make(map[string]bool, len(liveIndexNames))
	for _, n := range liveIndexNames {
		have[strings.ToLower(n)] = true
	}
	cols := make(map[string]bool, len(columns))
	for _, c := range columns {
		cols[strings.ToLower(c)] = true
	}

	var out []Index
	for _, idx := range expected {
		if have[strings.ToLower(idx.Name)] {
			continue
		}
		complete := true
		for _, c := range idx.Columns {
			if !cols[strings.ToLower(c)] {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, idx)
		}
	}
	return out
}

var (
	parenRe = regexp.MustCompile(`\([^)]*\)`)
	spaceRe = regexp.MustCompile(`\s+`)
)

var typeAliases = map[string]string{
	"int":                         "integer",
	"int4":                        "integer",
	"integer":                     "integer",
	"serial":                      "integer",
	"int8":                        "bigint",
	"bigint":                      "bigint",
	"bigserial":                   "bigint",
	"bool":                        "boolean",
	"boolean":                     "boolean",
	"tinyint":                     "boolean",
	"float":                       "float",
	"float4":                      "float",
	"float8":                      "float",
	"double":                      "float",
	"double precision":            "float",
	"real":                        "float",
	"varchar":                     "string",
	"character varying":           "string",
	"json":                        "json",
	"jsonb":                       "json",
	"datetime":                    "datetime",
	"timestamp":                   "datetime",
	"timestamptz":                 "datetime",
	"timestamp without time zone": "datetime",
	"timestamp with time zone":    "datetime",
}

// NormalizeType strips length and precision, lower-cases and folds engine
// aliases so "VARCHAR(50)" and "character varying(255)" compare equal.
func NormalizeType(t string) string {
	s := strings.ToLower(parenRe.ReplaceAllString(t, ""))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), " unsigned"))
	s = spaceRe.ReplaceAllString(s, " ")
	if alias, ok := typeAliases[s]; ok {
		return alias
	}
	return s
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// DefaultsEqual compares an expected and a live default for a column of
// type t. Booleans compare by truthiness, numbers as floats, everything
// else as exact strings.
func DefaultsEqual(t Type, want, got *string) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	switch t {
	case TypeBoolean:
		return truthy(*want) == truthy(*got)
	case TypeInteger, TypeBigInt, TypeFloat:
		a, errA := strconv.ParseFloat(strings.TrimSpace(*want), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(*got), 64)
		if errA == nil && errB == nil {
			return a == b
		}
	}
	return *want == *got
}

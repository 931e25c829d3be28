// Package filter narrows what a debug session emits: --where clauses over
// record fields, regex match/exclude over textual payloads, and collapsing
// of repeated output lines. Lifecycle records (ready, session_start,
// session_end, heartbeats) never pass through here; the stream only offers
// payload records for filtering.
package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// WhereClause is one parsed --where condition. Field is a gjson path into
// the serialized record, so nested fields address naturally: "thread_id",
// "location.line", "exception_type".
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // compiled for ~ and !~
}

// ParseWhereClause parses a clause like "type=exception" or
// "text~timeout". Operators: =, !=, ~, !~, >=, <=, ^, $.
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Longest operators first so != is not split at =.
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(clause[:idx])
		value := strings.TrimSpace(clause[idx+len(op):])
		if field == "" || value == "" {
			return nil, fmt.Errorf("invalid where clause: %s", clause)
		}

		wc := &WhereClause{Field: field, Operator: op, Value: value}
		if op == "~" || op == "!~" {
			re, err := regexp.Compile(value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
			}
			wc.regex = re
		}
		return wc, nil
	}
	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// MatchLine checks one serialized record against the clause.
func (wc *WhereClause) MatchLine(line []byte) bool {
	field := gjson.GetBytes(line, wc.Field)

	switch wc.Operator {
	case "=":
		return field.String() == wc.Value
	case "!=":
		return field.String() != wc.Value
	case "~":
		return wc.regex.MatchString(field.String())
	case "!~":
		return !wc.regex.MatchString(field.String())
	case "^":
		return strings.HasPrefix(field.String(), wc.Value)
	case "$":
		return strings.HasSuffix(field.String(), wc.Value)
	case ">=", "<=":
		return wc.compareNumeric(field)
	}
	return false
}

// compareNumeric handles >= and <= against numeric fields such as
// thread_id or location.line. A non-numeric clause value never matches.
func (wc *WhereClause) compareNumeric(field gjson.Result) bool {
	target, err := strconv.ParseFloat(wc.Value, 64)
	if err != nil {
		return false
	}
	if !field.Exists() {
		return false
	}
	if wc.Operator == ">=" {
		return field.Float() >= target
	}
	return field.Float() <= target
}

// WhereFilter applies multiple clauses with AND logic.
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter parses each clause string. No clauses means no filter; the
// caller gets nil and skips the check entirely.
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}
	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}
	return filter, nil
}

// MatchLine returns true when the serialized record satisfies every clause.
func (f *WhereFilter) MatchLine(line []byte) bool {
	for _, clause := range f.clauses {
		if !clause.MatchLine(line) {
			return false
		}
	}
	return true
}

// Match serializes a record and checks it. The stream uses this for records
// it has not yet encoded; replay feeds raw lines to MatchLine instead.
func (f *WhereFilter) Match(record any) bool {
	line, err := json.Marshal(record)
	if err != nil {
		return false
	}
	return f.MatchLine(line)
}

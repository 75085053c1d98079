// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
type Expr struct {
	minute  fieldSet // 0-59
	hour    fieldSet // 0-23
	day     fieldSet // 1-31
	month   fieldSet // 1-12
	weekday fieldSet // 0-6, Sunday = 0
}

type fieldSet []bool

func (s fieldSet) has(v int) bool { return v < len(s) && s[v] }

// ParseCron parses a cron expression. Shortcuts @hourly, @daily,
// @midnight, @weekly, @monthly, and @yearly are accepted.
func ParseCron(expr string) (*Expr, error) {
	switch strings.ToLower(expr) {
	case "@hourly":
		expr = "0 * * * *"
	case "@daily", "@midnight":
		expr = "0 0 * * *"
	case "@weekly":
		expr = "0 0 * * 0"
	case "@monthly":
		expr = "0 0 1 * *"
	case "@yearly", "@annually":
		expr = "0 0 1 1 *"
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	e := &Expr{}
	for i, spec := range []struct {
		name     string
		min, max int
		dst      *fieldSet
	}{
		{"minute", 0, 59, &e.minute},
		{"hour", 0, 23, &e.hour},
		{"day-of-month", 1, 31, &e.day},
		{"month", 1, 12, &e.month},
		{"day-of-week", 0, 6, &e.weekday},
	} {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		*spec.dst = set
	}
	return e, nil
}

func parseField(field string, min, max int) (fieldSet, error) {
	set := make(fieldSet, max+1)

	for _, part := range strings.Split(field, ",") {
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", part[idx+1:])
			}
			step = n
			part = part[:idx]
		}

		start, end := min, max
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			var err error
			if start, err = strconv.Atoi(bounds[0]); err != nil {
				return nil, fmt.Errorf("invalid range start %q", bounds[0])
			}
			if end, err = strconv.Atoi(bounds[1]); err != nil {
				return nil, fmt.Errorf("invalid range end %q", bounds[1])
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			start, end = n, n
		}

		if start < min || end > max || start > end {
			return nil, fmt.Errorf("range %d-%d outside [%d, %d]", start, end, min, max)
		}
		for v := start; v <= end; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// Next returns the first time after from that matches the expression,
// or the zero time if none exists within four years.
func (e *Expr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	horizon := from.AddDate(4, 0, 0)

	for t.Before(horizon) {
		switch {
		case !e.month.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !e.day.has(t.Day()) || !e.weekday.has(int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !e.hour.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case !e.minute.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

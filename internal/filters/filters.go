// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package filters

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/tidwall/gjson"

	"github.com/staranto/pwacache/internal/attrs"
	"github.com/staranto/pwacache/internal/driller"
)

// filterRegex splits "status>299" or "url!^https://fonts" into key, operator
// and target. Operators are = ^ ~ < > @ /, each optionally negated with !.
var filterRegex = regexp.MustCompile(`^(.*?)(!?[=^~<>@/])(.*)$`)

// Filter is one parsed --filter term, e.g. type=text/css.
type Filter struct {
	Key     string
	Negate  bool
	Operand string
	Target  string
}

// BuildFilters parses a --filter value. Terms are comma separated unless
// PWACACHE_FILTER_DELIM says otherwise, which matters when a target such as
// a Cache-Control value contains commas. Malformed terms are logged and
// dropped.
func BuildFilters(spec string) []Filter {
	//nolint:prealloc
	var filters []Filter
	if spec == "" {
		return filters
	}

	delim := ","
	if d, ok := os.LookupEnv("PWACACHE_FILTER_DELIM"); ok {
		delim = d
	}

	filterSpecs := strings.Split(spec, delim)
	for _, filterSpec := range filterSpecs {
		parts := filterRegex.FindStringSubmatch(filterSpec)

		if parts == nil {
			log.Error("invalid filter: " + filterSpec)
			continue
		}

		negate := strings.HasPrefix(parts[2], "!")
		if negate {
			parts[2] = strings.TrimPrefix(parts[2], "!")
		}

		filters = append(filters, Filter{
			Key:     parts[1],
			Negate:  negate,
			Operand: parts[2],
			Target:  parts[3],
		})
	}

	return filters
}

// FilterDataset keeps the rows of candidates (cache entries, caches or
// queued submissions, as a JSON array) that pass spec and projects each onto
// attrs. Values are left raw; transforms happen at output time.
func FilterDataset(candidates gjson.Result, attrs attrs.AttrList, spec string) []map[string]interface{} {
	//nolint:prealloc
	var filteredResults []map[string]interface{}

	filters := BuildFilters(spec)
	for _, candidate := range candidates.Array() {
		if !applyFilters(candidate, attrs, filters) {
			continue
		}

		result := make(map[string]interface{})
		for _, attr := range attrs {
			result[attr.OutputKey] = driller.Driller(candidate.Raw, attr.Key).Value()
		}
		filteredResults = append(filteredResults, result)
	}

	return filteredResults
}

// applyFilters reports whether a row passes every filter. A key names a
// column by its title first (stored for stored_at) and then a row path, so
// "header.Cache-Control@no-store" works without displaying the header.
func applyFilters(candidate gjson.Result, attrs attrs.AttrList, filters []Filter) bool {
	for _, filter := range filters {
		key := ""
		for _, attr := range attrs {
			if attr.OutputKey == filter.Key {
				key = attr.Key
				break
			}
		}

		if key == "" && driller.Driller(candidate.Raw, filter.Key).Exists() {
			key = filter.Key
		}

		// Unknown keys are skipped so a typo does not hide every row.
		if key == "" {
			msg := fmt.Sprintf("filter key not found: %s", filter.Key)
			log.Warn(msg)
			fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
			continue
		}

		value := driller.Driller(candidate.Raw, key).Value()
		if value == nil {
			return false
		}

		// Numbers (status, size, attempts) compare numerically.
		result := true
		if v, ok := value.(string); ok {
			result = checkStringOperand(v, filter)
		} else if v, ok := value.(bool); ok {
			result = checkStringOperand(fmt.Sprintf("%v", v), filter)
		} else if num, ok := toFloat64(value); ok {
			result = checkNumericOperand(num, filter)
		} else if filter.Operand == "@" {
			result = checkContainsOperand(value, filter)
		}

		if !result {
			return false
		}
	}

	return true
}

// checkContainsOperand handles @ on arrays and objects, such as a header's
// values or the header map itself.
func checkContainsOperand(value interface{}, filter Filter) bool {
	switch val := value.(type) {
	case []any:
		for _, item := range val {
			if item == filter.Target {
				return !filter.Negate
			}
		}
		return filter.Negate
	case map[string]any:
		_, found := val[filter.Target]
		if filter.Negate {
			return !found
		}
		return found
	default:
		log.Error(fmt.Sprintf("unsupported type for contains filtering: %T", value))
		return false
	}
}

// checkNumericOperand supports =, > and <, e.g. status>299 or size<1024.
func checkNumericOperand(value float64, filter Filter) bool {
	tgt, err := strconv.ParseFloat(strings.TrimSpace(filter.Target), 64)
	if err != nil {
		log.Error("invalid numeric target: " + filter.Target)
		return false
	}

	switch filter.Operand {
	case "=":
		return (value == tgt) == !filter.Negate
	case ">":
		return (value > tgt) == !filter.Negate
	case "<":
		return (value < tgt) == !filter.Negate
	default:
		log.Error("unsupported numeric operand: " + filter.Operand)
		return false
	}
}

// checkStringOperand compares text columns. Timestamps such as stored_at are
// RFC 3339, so < and > order them correctly.
func checkStringOperand(value string, filter Filter) bool {
	switch filter.Operand {
	case "=":
		return value == filter.Target == !filter.Negate
	case "~":
		return strings.EqualFold(value, filter.Target) == !filter.Negate
	case "^":
		return strings.HasPrefix(value, filter.Target) == !filter.Negate
	case ">":
		return value > filter.Target == !filter.Negate
	case "<":
		return value < filter.Target == !filter.Negate
	case "@":
		return strings.Contains(value, filter.Target) == !filter.Negate
	case "/":
		matched, err := regexp.MatchString(filter.Target, value)
		if err != nil {
			log.Error("invalid regex: " + filter.Target)
			return false
		}
		return matched == !filter.Negate
	default:
		log.Error("unsupported filtering operand: " + filter.Operand)
		return false
	}
}

// toFloat64 normalizes the numeric types a row can hold.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

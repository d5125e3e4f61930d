// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package attrs

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/staranto/pwacache/internal/config"
)

var lengthRegex = regexp.MustCompile(`-?\d+`)

// Attr represents each of the keys to be included in the output. These are
// the keys of a dataset row, thus the name.
type Attr struct {
	// The JSON key to extract from each row.
	Key string `yaml:"key"`
	// Should this Attr be included in output or is it just
	// intended for filtering and sorting?
	Include bool `yaml:"include"`
	// The key to use in the output. This will also be used as the column title
	// when output=text.
	OutputKey string `yaml:"outputKey"`
	// Transformation spec to apply to the output value.
	TransformSpec string `yaml:"transformSpec"`
}

// Transform applies the attr's transform spec to value. Supported flags:
//
//	t  convert an RFC3339 timestamp to the configured timezone
//	a  render an RFC3339 timestamp as a relative age ("3 minutes ago")
//	h  render a byte count in human units ("1.2 kB")
//	l  lower case,  u  upper case
//	N  truncate to N chars, -N elide the middle down to N chars
func (a *Attr) Transform(value interface{}) interface{} {

	// Byte counts arrive as numbers, everything else below works on strings.
	if strings.ContainsAny(a.TransformSpec, "hH") {
		if n, ok := toUint64(value); ok {
			value = humanize.Bytes(n)
		}
	}

	result, ok := value.(string)
	if !ok {
		return value
	}

	// Convert UTC time to local.
	if strings.ContainsAny(a.TransformSpec, "tT") {

		// See if there is a timezone in the config file. If there's not, look for
		// a plain TZ env variable.
		tz, _ := config.GetString("timezone", "")
		if tz == "" {
			tz = os.Getenv("TZ")
		}

		// We're only going to convert if we've specifically told what TZ to use.
		// If we haven't, we'll just use the value as is.
		if tz != "" {
			loc, err := time.LoadLocation(tz)
			if err == nil {
				t, err := time.Parse(time.RFC3339, result)
				if err == nil {
					result = t.In(loc).Format("2006-01-02T15:04:05MST")
				} else {
					log.Error("failed to parse time: " + result)
				}
			}
		}
	}

	if strings.ContainsAny(a.TransformSpec, "aA") {
		if t, err := time.Parse(time.RFC3339, result); err == nil {
			result = humanize.Time(t)
		}
	}

	// We need to know which case transformation appears last. This covers the
	// case where there has been a global case transformation prepended to the
	// attrs transformation and, thus, allows the attr's to carry more weight.
	// IOW...  --attrs '*::U,url::l' will be lower case.
	lastL := strings.LastIndexAny(a.TransformSpec, "lL")
	lastU := strings.LastIndexAny(a.TransformSpec, "uU")

	if lastL > lastU {
		result = strings.ToLower(result)
	} else if lastU > lastL {
		result = strings.ToUpper(result)
	}

	// Is it a length-based transformation? Same logic as above re: case. The
	// last length wins so a specific one overrides a global one.
	if match := lengthRegex.FindAllString(a.TransformSpec, -1); len(match) != 0 {
		l, _ := strconv.Atoi(match[len(match)-1])
		abs := int(math.Abs(float64(l)))
		if len(result) > abs {
			if l < 0 {
				lr := abs/2 - 1
				if lr < 1 {
					lr = 1
				}
				result = result[:lr] + ".." + result[len(result)-lr:]
			} else {
				result = result[:l]
			}
		}
	}

	return result
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

type AttrList []Attr

// Return a string representation of the AttrList. This should match the format
// of the original --attrs flag.
func (a *AttrList) String() string {
	result := make([]string, 0, len(*a))
	for _, attr := range *a {
		result = append(result, fmt.Sprintf("%s:%s:%s", attr.Key, attr.OutputKey, attr.TransformSpec))
	}
	return strings.Join(result, ",")
}

// Parse each spec from the --attrs flag and add it to the AttrList.
func (a *AttrList) Set(value string) error {
	if value == "" || value == "*" {
		return nil
	}

	const (
		jsonIdx = iota
		outputIdx
		transformIdx
	)

	// There are three : delimited fields in each spec. The first is the key to
	// extract from the row. The second is the key to use in the output. The
	// third is the transformation spec to apply to the output value. The latter
	// two are optional. The output key will default to the last section of the
	// JSON key.
	specs := strings.Split(value, ",")
specloop:
	for _, spec := range specs {

		attr := Attr{
			Include: true,
		}

		fields := strings.Split(spec, ":")

		// The first field is the key to extract from the row. If it begins with
		// a !, it is excluded from the output.
		attr.Key = strings.TrimSpace(fields[jsonIdx])
		if strings.HasPrefix(attr.Key, "!") {
			attr.Include = false
			attr.Key = attr.Key[1:]
		}

		// Rows are flat, a leading . is accepted for familiarity and dropped.
		attr.Key = strings.TrimPrefix(attr.Key, ".")
		if attr.Key == "" {
			return fmt.Errorf("invalid attr spec %q: empty key", spec)
		}

		if attr.Key == "*" {
			attr.Include = false
		}

		// Fixup the output field. If there is only one field it is considered the
		// JSON extract key and the output key will become the last segment of the
		// . notation.
		if len(fields) == 1 {
			segments := strings.Split(attr.Key, ".")
			attr.OutputKey = segments[len(segments)-1]
		} else {
			if fields[outputIdx] != "" {
				attr.OutputKey = strings.TrimSpace(fields[outputIdx])
			} else {
				attr.OutputKey = attr.Key
			}
		}

		if len(fields) > transformIdx {
			attr.TransformSpec = strings.TrimSpace(fields[transformIdx])
		}

		// If the attr already exists in the list (because it's one of the defaults
		// for cmd or the user double-entered it) just apply the OutputKey, Include
		// and TransformSpec to the existing Attr.
		for i := range *a {
			if (*a)[i].Key == attr.Key || (*a)[i].OutputKey == attr.Key {
				(*a)[i].Include = attr.Include
				(*a)[i].OutputKey = attr.OutputKey
				(*a)[i].TransformSpec = attr.TransformSpec
				continue specloop
			}
		}

		*a = append(*a, attr)
	}

	return nil
}

// SetGlobalTransformSpec inserts a global transform spec into the front of all
// attrs in the list.
func (alist *AttrList) SetGlobalTransformSpec() error {
	spec := ""

	// Find the global transform spec. If there is more than one, we're not
	// dealing with it and just taking the first.
	for a := range *alist {
		if (*alist)[a].Key == "*" {
			spec = (*alist)[a].TransformSpec
			break
		}
	}

	if spec == "" {
		return nil
	}

	for a := range *alist {
		(*alist)[a].TransformSpec = spec + "," + (*alist)[a].TransformSpec
	}

	return nil
}

func (a *AttrList) Type() string {
	return "list"
}

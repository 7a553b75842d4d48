package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OptionalString returns nil for empty or whitespace-only input.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// OptionalInt parses a base-10 integer column. Empty or unparsable input is absent.
func OptionalInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// OptionalFloat parses a float column. NaN and infinities are treated as absent
// since neither sink can store them.
func OptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// OptionalBool accepts t/true/f/false in any case.
func OptionalBool(s string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true":
		v = true
	case "f", "false":
		v = false
	default:
		return nil
	}
	return &v
}

// ConvertToInt coerces a decoded property value to an integer. Whole floats
// and numeric strings are accepted.
func ConvertToInt(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("cannot convert %v to int", v)
		}
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return ConvertToInt(f)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

// ConvertToString stringifies strings and integers. Other kinds are rejected.
func ConvertToString(val any) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", val)
	}
}

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Args holds the coerced arguments of one tool call.
type Args struct {
	numbers map[string]int64
	strings map[string]string
}

// Int returns the numeric argument name.
func (a Args) Int(name string) int64 { return a.numbers[name] }

// Text returns the string argument name.
func (a Args) Text(name string) string { return a.strings[name] }

// Extract validates raw against def's parameters and coerces each present
// value to its declared kind. Parameters are checked in declaration order, so
// the first offending parameter is the one reported.
func Extract(def Definition, raw map[string]any) (Args, error) {
	a := Args{
		numbers: make(map[string]int64),
		strings: make(map[string]string),
	}
	for _, p := range def.Params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return Args{}, &MissingParameterError{Param: p.Name}
			}
			continue
		}
		switch p.Kind {
		case Number:
			n, err := toInt(v)
			if err != nil {
				return Args{}, &InvalidParameterError{Param: p.Name, Value: v}
			}
			a.numbers[p.Name] = n
		default:
			a.strings[p.Name] = toString(v)
		}
	}
	return a, nil
}

// toInt takes numbers as-is, truncating any fraction, and parses everything
// else as a base-10 integer from its string form.
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return truncate(float64(n))
	case float64:
		return truncate(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return truncate(f)
	}
	return strconv.ParseInt(toString(v), 10, 64)
}

func truncate(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, strconv.ErrRange
	}
	return int64(f), nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return fmt.Sprint(v)
}

package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/BartekS5/bulkmigrate/pkg/models"
	"github.com/buger/jsonparser"
)

var errNotObject = errors.New("payload is not a JSON object")

// propValue is a classified payload scalar, or a same-kind []any of them.
type propValue struct {
	kind  models.PropertyKind
	value any
}

// valueStatus says what classify decided about a raw payload value.
type valueStatus int

const (
	valueScalar valueStatus = iota
	valueOmitted            // null or empty array
	valueNested             // object, or array whose first element is an object
)

type payloadEntry struct {
	key      string
	value    []byte
	dataType jsonparser.ValueType
}

// parsePayload validates a payload and returns the object at path (or the
// payload itself when path is empty). found is false when the path does not
// exist.
func parsePayload(data []byte, path []string) (obj []byte, found bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, false, errors.New("payload is not valid JSON")
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, errNotObject
	}
	if len(path) == 0 {
		return trimmed, true, nil
	}
	value, dataType, _, err := jsonparser.Get(trimmed, path...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if dataType != jsonparser.Object {
		return nil, false, errNotObject
	}
	return value, true, nil
}

// scanObject returns the members of a JSON object in arrival order,
// duplicate keys included.
func scanObject(obj []byte) ([]payloadEntry, error) {
	var entries []payloadEntry
	err := jsonparser.ObjectEach(obj, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		entries = append(entries, payloadEntry{key: string(key), value: value, dataType: dataType})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// classify maps one raw payload value to a property value. Arrays contribute
// their first element.
func classify(value []byte, dataType jsonparser.ValueType) (propValue, valueStatus) {
	switch dataType {
	case jsonparser.Null:
		return propValue{}, valueOmitted
	case jsonparser.Object:
		return propValue{}, valueNested
	case jsonparser.Array:
		var (
			first     []byte
			firstType jsonparser.ValueType
			found     bool
		)
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, _ error) {
			if !found {
				first, firstType, found = v, t, true
			}
		})
		if err != nil || !found {
			return propValue{}, valueOmitted
		}
		return classify(first, firstType)
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			s = string(value)
		}
		return propValue{kind: models.KindString, value: s}, valueScalar
	case jsonparser.Number:
		if !bytes.ContainsAny(value, ".eE") {
			if i, err := strconv.ParseInt(string(value), 10, 64); err == nil {
				return propValue{kind: models.KindInteger, value: i}, valueScalar
			}
			// Beyond int64: keep the literal so the sink stores it exactly.
			return propValue{kind: models.KindInteger, value: json.Number(value)}, valueScalar
		}
		f, err := strconv.ParseFloat(string(value), 64)
		if err != nil {
			return propValue{}, valueOmitted
		}
		return propValue{kind: models.KindFloat, value: f}, valueScalar
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return propValue{}, valueOmitted
		}
		return propValue{kind: models.KindBool, value: b}, valueScalar
	default:
		return propValue{}, valueOmitted
	}
}

package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDecode marks payloads that are not a JSON object.
	ErrDecode = errors.New("malformed telemetry payload")
	// ErrInvalid marks decoded payloads with a missing or non-numeric field.
	ErrInvalid = errors.New("invalid telemetry payload")
)

// FieldError names the payload key that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q %s", ErrInvalid, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Fields maps the source key names used by the devices onto the record fields.
type Fields struct {
	Temperature string
	Humidity    string
	Lux         string
}

// DefaultFields are the keys the ESP32 firmware publishes.
func DefaultFields() Fields {
	return Fields{
		Temperature: "suhu",
		Humidity:    "kelembaban",
		Lux:         "kecerahan",
	}
}

// Parse decodes and validates one raw message.
// The error, if any, matches exactly one of ErrDecode or ErrInvalid.
func Parse(raw []byte, fields Fields, at time.Time) (Record, error) {
	payload, err := Decode(raw)
	if err != nil {
		return Record{}, err
	}
	return Validate(payload, fields, at)
}

// Decode turns the raw bytes into a generic key-value payload.
// Numbers are kept as json.Number so Validate can coerce them without losing precision.
func Decode(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrDecode)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// Anything after the object, even a stray "}" or "]", makes the message malformed.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	return payload, nil
}

// Validate checks the three measurements and builds a Record stamped with at.
func Validate(payload map[string]any, fields Fields, at time.Time) (Record, error) {
	temp, err := numberField(payload, fields.Temperature)
	if err != nil {
		return Record{}, err
	}
	hum, err := numberField(payload, fields.Humidity)
	if err != nil {
		return Record{}, err
	}
	lux, err := numberField(payload, fields.Lux)
	if err != nil {
		return Record{}, err
	}

	return Record{
		TemperatureC: temp,
		HumidityPct:  hum,
		LuxLevel:     lux,
		RecordedAt:   at.UTC(),
	}, nil
}

func numberField(payload map[string]any, key string) (float64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return 0, &FieldError{Field: key, Reason: "is missing"}
	}

	var (
		v   float64
		err error
	)
	switch x := raw.(type) {
	case json.Number:
		v, err = x.Float64()
	case float64:
		v = x
	case string:
		v, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("has non-numeric type %T", raw)}
	}
	if err != nil {
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("is not a number (%v)", raw)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &FieldError{Field: key, Reason: "is not a finite number"}
	}
	return v, nil
}

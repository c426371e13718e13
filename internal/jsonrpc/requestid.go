package jsonrpc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// Equality is type-strict: the number 1 and the string "1" are different IDs.
type RequestID struct {
	value interface{}
}

// NewRequestID creates a new RequestID from a string or integer. Integer values
// of any width are normalized to int64 so that IDs built in code compare equal
// to IDs decoded from the wire; unsigned values above math.MaxInt64 stay
// uint64.
func NewRequestID(value interface{}) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int8:
		return &RequestID{value: int64(v)}
	case int16:
		return &RequestID{value: int64(v)}
	case int32:
		return &RequestID{value: int64(v)}
	case int64:
		return &RequestID{value: v}
	case uint:
		return newUintID(uint64(v))
	case uint8:
		return &RequestID{value: int64(v)}
	case uint16:
		return &RequestID{value: int64(v)}
	case uint32:
		return &RequestID{value: int64(v)}
	case uint64:
		return newUintID(v)
	case float32:
		return newFloatID(float64(v))
	case float64:
		return newFloatID(v)
	default:
		return &RequestID{value: nil}
	}
}

func newUintID(u uint64) *RequestID {
	if u <= math.MaxInt64 {
		return &RequestID{value: int64(u)}
	}
	return &RequestID{value: u}
}

func newFloatID(f float64) *RequestID {
	if isInt64(f) {
		return &RequestID{value: int64(f)}
	}
	return &RequestID{value: f}
}

func isInt64(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64
}

// String returns the string representation of the ID.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}

	switch v := id.value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Key returns a representation of the ID suitable for use as a map key. Unlike
// String, it distinguishes numeric IDs from string IDs with the same text.
func (id *RequestID) Key() string {
	if id == nil || id.value == nil {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return "s:" + s
	}
	return "n:" + id.String()
}

// Equal reports whether two IDs have the same type and value.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return id.Key() == other.Key()
}

// Value returns the underlying value.
func (id *RequestID) Value() interface{} {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is nil/empty.
func (id *RequestID) IsNil() bool {
	if id == nil {
		return true
	}

	return id.value == nil
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are decoded from their
// literal text so that integer IDs of any size are echoed back unchanged.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		id.value = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
		}
		id.value = str
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	lit := num.String()
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		id.value = n
		return nil
	}
	if u, err := strconv.ParseUint(lit, 10, 64); err == nil {
		id.value = u
		return nil
	}
	if f, err := num.Float64(); err == nil && strings.ContainsAny(lit, ".eE") {
		*id = *newFloatID(f)
		return nil
	}
	// Integers wider than 64 bits and out-of-range floats keep their text.
	id.value = num
	return nil
}

// Package pin provides the value type carried by virtual pin writes and
// reads. A value is an opaque short string with typed accessors that never
// fail: unparseable input converts to the zero of the requested type, which
// keeps device-side handler code free of error plumbing for data that
// ultimately originates from the wire.
package pin

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxValueLength is the longest value, in bytes, that a pin write will carry.
// Longer input is truncated at construction.
const MaxValueLength = 64

// Value is the payload of a single virtual pin. The zero Value is the empty
// string, which reads as 0, 0.0 and false.
type Value string

// New builds a Value from a raw string, truncating to MaxValueLength bytes.
func New(s string) Value {
	if len(s) > MaxValueLength {
		s = s[:MaxValueLength]
	}
	return Value(s)
}

// FromInt builds a Value from an integer.
func FromInt(v int) Value {
	return Value(strconv.Itoa(v))
}

// FromFloat builds a Value from a float, formatted with two decimal places.
func FromFloat(v float64) Value {
	return New(strconv.FormatFloat(v, 'f', 2, 64))
}

// FromBool builds a Value holding "1" for true and "0" for false.
func FromBool(v bool) Value {
	if v {
		return Value("1")
	}
	return Value("0")
}

// Format builds a Value from a printf-style format string, truncating the
// result to MaxValueLength bytes.
func Format(format string, args ...any) Value {
	return New(fmt.Sprintf(format, args...))
}

// String returns the raw text of the value.
func (v Value) String() string {
	return string(v)
}

// Int reads the value as an integer. Parsing stops at the first character
// that is not part of a leading optionally-signed integer, so "42abc" reads
// as 42 and "abc" reads as 0.
func (v Value) Int() int {
	return leadingInt(string(v))
}

// Float reads the value as a float, returning 0 when the text does not
// parse as a number.
func (v Value) Float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	if err != nil {
		return 0
	}
	return f
}

// Bool reads the value as a boolean. "1", "true" and "on" (case-insensitive,
// surrounding whitespace ignored) read as true; everything else is false.
func (v Value) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(string(v))) {
	case "1", "true", "on":
		return true
	}
	return false
}

// ArraySize returns the number of comma-separated elements in the value.
// The empty value has zero elements; a value with no commas has one.
func (v Value) ArraySize() int {
	if v == "" {
		return 0
	}
	return strings.Count(string(v), ",") + 1
}

// ArrayElement returns the element at index as its own Value. Out-of-range
// indexes return the empty Value.
func (v Value) ArrayElement(index int) Value {
	if index < 0 || v == "" {
		return ""
	}
	parts := strings.Split(string(v), ",")
	if index >= len(parts) {
		return ""
	}
	return Value(strings.TrimSpace(parts[index]))
}

// ArrayInt reads the element at index as an integer.
func (v Value) ArrayInt(index int) int {
	return v.ArrayElement(index).Int()
}

// ArrayFloat reads the element at index as a float.
func (v Value) ArrayFloat(index int) float64 {
	return v.ArrayElement(index).Float()
}

// leadingInt parses a leading optionally-signed decimal integer, ignoring
// leading whitespace, and returns 0 when no digits are present.
func leadingInt(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	start := i
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == digits {
		return 0
	}
	n, err := strconv.Atoi(s[start:i])
	if err != nil {
		return 0
	}
	return n
}

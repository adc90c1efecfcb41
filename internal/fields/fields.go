// Package fields splits the delimited payloads returned by relay webhooks.
//
// A payload is a run of fields separated by a single delimiter byte and
// closed by a terminator. The terminator is NUL or the end of the string,
// whichever comes first; anything after a NUL is ignored.
package fields

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Delimiter separates fields in every webhook response template.
	Delimiter = '~'

	// Terminator closes the last field.
	Terminator = '\x00'
)

// Fields is an ordered list of payload fields.
type Fields []string

// Split returns the fields of data separated by sep, up to the terminator.
// An empty payload yields a single empty field.
func Split(data string, sep byte) Fields {
	if i := strings.IndexByte(data, Terminator); i >= 0 {
		data = data[:i]
	}
	return Fields(strings.Split(data, string(sep)))
}

// Parse splits data on the default webhook delimiter.
func Parse(data string) Fields {
	return Split(data, Delimiter)
}

// Empty reports whether data carries no field content at all, which is how
// webhook templates mark "no data" (a bare delimiter, or nothing).
func Empty(data string, sep byte) bool {
	for _, f := range Split(data, sep) {
		if f != "" {
			return false
		}
	}
	return true
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f)
}

// String returns field i, or an error if the payload is too short.
func (f Fields) String(i int) (string, error) {
	if i < 0 || i >= len(f) {
		return "", fmt.Errorf("field %d out of range (payload has %d)", i, len(f))
	}
	return f[i], nil
}

// Int parses field i as a base-10 integer.
func (f Fields) Int(i int) (int, error) {
	s, err := f.String(i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return n, nil
}

// Uint parses field i as an unsigned integer of the given bit size.
func (f Fields) Uint(i int, bitSize int) (uint64, error) {
	s, err := f.String(i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return n, nil
}

// Float parses field i as a float64.
func (f Fields) Float(i int) (float64, error) {
	s, err := f.String(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return v, nil
}

// Package domain contains core domain types for the questline client.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is a server-assigned integer identifier (users, quests, messages).
// The API is not consistent about how it encodes these, so ID accepts JSON
// numbers, integral floats ("42.0") and numeric strings.
type ID int64

// ParseID parses s as an integer identifier. Integral decimal and exponent
// forms are accepted; fractional values are rejected.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty id")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}
	// float64 cannot hold MaxInt64; 1<<63 is the first value that overflows.
	if f != math.Trunc(f) || f >= 1<<63 || f < math.MinInt64 {
		return 0, fmt.Errorf("id %q is not an integer", s)
	}
	return ID(int64(f)), nil
}

// String formats the id the way it is persisted.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero reports whether the id is absent.
func (id ID) IsZero() bool {
	return id == 0
}

// MarshalJSON encodes the id as a JSON number.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		raw = s
	}
	parsed, err := ParseID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

package models

import (
	"strconv"
)

// Side is the direction of a trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// MessageID is a Discord snowflake. The wire form is a decimal string (or
// null when unset); ordering is numeric.
type MessageID string

func (id MessageID) IsZero() bool {
	return id == ""
}

// Int64 returns the numeric value, 0 for unset or malformed ids.
func (id MessageID) Int64() int64 {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// After reports whether id orders strictly after other.
func (id MessageID) After(other MessageID) bool {
	return id.Int64() > other.Int64()
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	*id = MessageID(s)
	return nil
}

// Signal is the trading intent recovered from a message. Base, Side and
// Entry are always set; targets and scale-ins are optional.
type Signal struct {
	Base  string
	Side  Side
	Entry float64

	TP1 *float64
	TP2 *float64
	TP3 *float64

	DCA1 *float64
	DCA2 *float64
	DCA3 *float64

	// Ambiguous is set when more than one header pattern matched the text
	// with conflicting asset or direction. The highest-priority match wins,
	// but callers should surface the conflict.
	Ambiguous bool
}

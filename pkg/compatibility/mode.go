package compatibility

import (
	"fmt"
	"strings"
)

// Mode defines the type of compatibility checking
type Mode int

const (
	ModeNone Mode = iota
	ModeBackward
	ModeForward
	ModeFull
	ModeBackwardTransitive
	ModeForwardTransitive
	ModeFullTransitive
)

// DefaultMode is used when a registration does not name a mode
const DefaultMode = ModeBackward

var modeNames = []string{
	"NONE", "BACKWARD", "FORWARD", "FULL",
	"BACKWARD_TRANSITIVE", "FORWARD_TRANSITIVE", "FULL_TRANSITIVE",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a string to Mode
func ParseMode(s string) (Mode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return ModeNone, fmt.Errorf("unknown compatibility mode: %s", s)
}

// IsTransitive reports whether the mode checks every prior version
func (m Mode) IsTransitive() bool {
	return m == ModeBackwardTransitive || m == ModeForwardTransitive || m == ModeFullTransitive
}

// Directions lists the directions the mode checks, backward first
func (m Mode) Directions() []Direction {
	switch m {
	case ModeBackward, ModeBackwardTransitive:
		return []Direction{DirectionBackward}
	case ModeForward, ModeForwardTransitive:
		return []Direction{DirectionForward}
	case ModeFull, ModeFullTransitive:
		return []Direction{DirectionBackward, DirectionForward}
	}
	return nil
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

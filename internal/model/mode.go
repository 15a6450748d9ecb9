package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Mode selects how far an enforcement pass is allowed to go.
type Mode int

const (
	// ModeShadow evaluates and logs, never touching the market.
	ModeShadow Mode = iota
	// ModeEnforce applies operator-approved changes without the autonomy gate.
	ModeEnforce
	// ModeEnforceLite applies changes the autonomy gate approves.
	ModeEnforceLite
	// ModeEnforceAuto applies changes the autonomy gate approves.
	ModeEnforceAuto
	// ModeAuto defers the choice to the account's configured auto mode.
	ModeAuto
)

var modeNames = map[Mode]string{
	ModeShadow:      "SHADOW",
	ModeEnforce:     "ENFORCE",
	ModeEnforceLite: "ENFORCE_LITE",
	ModeEnforceAuto: "ENFORCE_AUTO",
	ModeAuto:        "AUTO",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// Autonomous reports whether the mode routes through the autonomy gate.
func (m Mode) Autonomous() bool {
	return m == ModeEnforceLite || m == ModeEnforceAuto
}

// ParseMode converts a mode name into a Mode. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == want {
			return m, nil
		}
	}
	return ModeShadow, eris.Errorf("model: unknown mode %q", s)
}

// ResolveMode maps ModeAuto onto the account's configured mode. A configured
// mode of AUTO (or anything unresolvable) falls back to shadow.
func ResolveMode(requested, configured Mode) Mode {
	if requested != ModeAuto {
		return requested
	}
	if configured == ModeAuto {
		return ModeShadow
	}
	return configured
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

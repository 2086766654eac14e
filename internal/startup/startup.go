// Package startup resolves the power-on light state from persisted state
// and the configured start-up policy.
package startup

import (
	"fmt"
	"strconv"
	"strings"
)

// OnOffMode is the power-on behavior of the on/off attribute.
type OnOffMode uint8

const (
	OnOffOff OnOffMode = iota
	OnOffOn
	OnOffToggle
	OnOffPrevious
)

// LevelMode is the power-on behavior of the level attribute.
type LevelMode uint8

const (
	LevelMinimum LevelMode = iota
	LevelPrevious
	LevelSpecific
)

// Attribute encodings of the start-up policy.
const (
	CodeOnOffOff      uint8 = 0x00
	CodeOnOffOn       uint8 = 0x01
	CodeOnOffToggle   uint8 = 0x02
	CodeOnOffPrevious uint8 = 0xff

	CodeLevelMinimum  uint8 = 0x00
	CodeLevelPrevious uint8 = 0xff
)

// Policy is the configured start-up behavior.
type Policy struct {
	OnOff    OnOffMode
	Level    LevelMode
	Specific uint8 // used when Level is LevelSpecific
}

// DefaultPolicy restores whatever was persisted.
var DefaultPolicy = Policy{OnOff: OnOffPrevious, Level: LevelPrevious}

// State is the persisted subset of the light attributes.
type State struct {
	OnOff bool
	Level uint8
}

// Resolve applies p to the persisted state. On/off and level are resolved
// independently.
func Resolve(persisted State, p Policy) State {
	out := persisted

	switch p.Level {
	case LevelMinimum:
		out.Level = 0
	case LevelSpecific:
		out.Level = p.Specific
	}

	switch p.OnOff {
	case OnOffOff:
		out.OnOff = false
	case OnOffOn:
		out.OnOff = true
	case OnOffToggle:
		out.OnOff = !persisted.OnOff
	}

	return out
}

// Brightness is the level to display for a resolved state.
func (s State) Brightness() uint8 {
	if s.OnOff {
		return s.Level
	}
	return 0
}

// FromCodes decodes the attribute encodings. Unknown on/off codes mean
// previous; any level code other than minimum and previous is a specific
// level.
func FromCodes(onOff, level uint8) Policy {
	var p Policy
	switch onOff {
	case CodeOnOffOff:
		p.OnOff = OnOffOff
	case CodeOnOffOn:
		p.OnOff = OnOffOn
	case CodeOnOffToggle:
		p.OnOff = OnOffToggle
	default:
		p.OnOff = OnOffPrevious
	}

	switch level {
	case CodeLevelMinimum:
		p.Level = LevelMinimum
	case CodeLevelPrevious:
		p.Level = LevelPrevious
	default:
		p.Level = LevelSpecific
		p.Specific = level
	}
	return p
}

// Codes returns the attribute encodings of p.
func (p Policy) Codes() (onOff, level uint8) {
	switch p.OnOff {
	case OnOffOff:
		onOff = CodeOnOffOff
	case OnOffOn:
		onOff = CodeOnOffOn
	case OnOffToggle:
		onOff = CodeOnOffToggle
	default:
		onOff = CodeOnOffPrevious
	}

	switch p.Level {
	case LevelMinimum:
		level = CodeLevelMinimum
	case LevelSpecific:
		level = p.Specific
	default:
		level = CodeLevelPrevious
	}
	return onOff, level
}

// Parse builds a policy from config strings: on/off is one of
// off|on|toggle|previous, level is minimum|previous or a number 1-254.
// Empty strings mean previous.
func Parse(onOff, level string) (Policy, error) {
	p := DefaultPolicy

	switch strings.ToLower(strings.TrimSpace(onOff)) {
	case "", "previous":
		p.OnOff = OnOffPrevious
	case "off":
		p.OnOff = OnOffOff
	case "on":
		p.OnOff = OnOffOn
	case "toggle":
		p.OnOff = OnOffToggle
	default:
		return Policy{}, fmt.Errorf("unknown startup on_off %q", onOff)
	}

	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "", "previous":
		p.Level = LevelPrevious
	case "minimum", "min":
		p.Level = LevelMinimum
	default:
		v, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid startup level %q: %w", level, err)
		}
		// 0 and 255 are the minimum and previous encodings.
		if v == 0 || v == 255 {
			return Policy{}, fmt.Errorf("startup level %d is reserved, use minimum or previous", v)
		}
		p.Level = LevelSpecific
		p.Specific = uint8(v)
	}

	return p, nil
}

func (m OnOffMode) String() string {
	switch m {
	case OnOffOff:
		return "off"
	case OnOffOn:
		return "on"
	case OnOffToggle:
		return "toggle"
	case OnOffPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

func (p Policy) String() string {
	switch p.Level {
	case LevelMinimum:
		return p.OnOff.String() + "/minimum"
	case LevelSpecific:
		return p.OnOff.String() + "/" + strconv.Itoa(int(p.Specific))
	default:
		return p.OnOff.String() + "/previous"
	}
}

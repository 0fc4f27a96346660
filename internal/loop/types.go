package loop

import "fmt"

// Mode is an integer enum.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeManual
	ModeAuto
	ModeAdaptive
)

func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAuto || m == ModeAdaptive
}

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	case ModeAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseMode is optional but handy for env vars / CLI.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "manual":
		return ModeManual, nil
	case "auto":
		return ModeAuto, nil
	case "adaptive":
		return ModeAdaptive, nil
	default:
		return ModeUnknown, fmt.Errorf("invalid mode: %q", s)
	}
}

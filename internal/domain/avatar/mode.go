package avatar

import "github.com/cockroachdb/errors"

// Mode represents the interaction modality.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// ErrInvalidMode is returned when a mode string is not recognised.
var ErrInvalidMode = errors.New("invalid mode")

// ParseMode parses a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeText:
		return ModeText, nil
	case ModeVoice:
		return ModeVoice, nil
	default:
		return "", errors.Wrapf(ErrInvalidMode, "%q", s)
	}
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

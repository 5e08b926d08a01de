package protocol

import (
	"fmt"
	"regexp"
)

const (
	MaxNameLength   = 64
	EphemeralSuffix = "#ephemeral"
)

var validNameRegex = regexp.MustCompile(`^[.a-zA-Z0-9_-]+(#ephemeral)?$`)

// IsValidName reports whether name is a legal topic or channel name.
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength {
		return false
	}
	return validNameRegex.MatchString(name)
}

func ValidateTopicName(name string) error {
	if !IsValidName(name) {
		return fmt.Errorf("%w: topic %q", ErrInvalidName, name)
	}
	return nil
}

func ValidateChannelName(name string) error {
	if !IsValidName(name) {
		return fmt.Errorf("%w: channel %q", ErrInvalidName, name)
	}
	return nil
}

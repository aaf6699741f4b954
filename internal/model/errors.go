package model

import "errors"

var (
	// ErrConfiguration is matched by every *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("configuration error")
	// ErrInput is matched by every *InputError via errors.Is.
	ErrInput = errors.New("input error")
)

// ConfigurationError reports invalid business-hours settings.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Field + ": " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// InputError reports a malformed date or event passed to the engine.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return "input: " + e.Field + ": " + e.Reason
}

func (e *InputError) Is(target error) bool {
	return target == ErrInput
}

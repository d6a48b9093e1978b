package cli

import (
	"errors"
	"fmt"

	"mercator-hq/costtrack/pkg/config"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitValidation = 1
	ExitIO         = 2
	ExitPartial    = 3
)

// ConfigError represents an error in configuration or command line input.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitError carries an explicit exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// Validation marks err as a validation failure.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitValidation, Err: err}
}

// Partial marks err as a partial result.
func Partial(err error) error {
	return &ExitError{Code: ExitPartial, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
// Errors without an explicit code are I/O errors unless they are
// configuration errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var cfgErr *ConfigError
	var valErr config.ValidationError
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) {
		return ExitValidation
	}
	return ExitIO
}

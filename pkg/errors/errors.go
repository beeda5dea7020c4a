package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Parse errors
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrInvalidEncoding   = errors.New("invalid encoding")
	ErrMalformedURI      = errors.New("malformed proxy URI")

	// Engine errors
	ErrEngineNotInstalled  = errors.New("proxy engine binary not installed")
	ErrEngineStartFailed   = errors.New("failed to start proxy engine")
	ErrDownloadFailed      = errors.New("download failed")
	ErrUnsupportedProtocol = errors.New("protocol not supported by the engine")

	// Isolation errors
	ErrInterfaceToolNotInstalled = errors.New("forwarding binary not installed")
	ErrProxyRequired             = errors.New("isolation mode requires a proxy")
	ErrProxyConfigFailed         = errors.New("failed to configure system proxy")
	ErrProfileActive             = errors.New("profile already active")
	ErrProfileNotActive          = errors.New("profile is not active")

	// Virtual interface errors
	ErrInterfaceStartFailed  = errors.New("failed to start virtual interface")
	ErrInterfaceConfigFailed = errors.New("failed to configure virtual interface")
	ErrElevationDeclined     = errors.New("privilege elevation declined")

	// Storage errors
	ErrDescriptorNotFound = errors.New("proxy descriptor not found")
	ErrDescriptorInvalid  = errors.New("invalid proxy descriptor")
)

// ParseError reports a connection string that could not be parsed.
type ParseError struct {
	URI string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.URI, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StartError reports an external process that exited (or never became
// live) during its grace period, carrying whatever it wrote to stderr.
type StartError struct {
	Binary string
	Stderr string
	Err    error
}

func (e *StartError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v:\n%s", e.Binary, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Binary, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// DownloadError reports a failed binary install or update.
type DownloadError struct {
	URL    string
	Reason string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("download %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("download: %s", e.Reason)
}

func (e *DownloadError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrDownloadFailed
}

// CommandError reports an external OS configuration command that exited
// non-zero, carrying its combined output.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DescriptorError wraps an error with the descriptor it concerns.
type DescriptorError struct {
	ID   string
	Name string
	Err  error
}

func (e *DescriptorError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("descriptor '%s' (%s): %v", e.Name, e.ID, e.Err)
	}
	return fmt.Sprintf("descriptor %s: %v", e.ID, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

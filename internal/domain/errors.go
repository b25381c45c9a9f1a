package domain

import "errors"

var (
	// ErrServiceUnavailable: the target's container is not running.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrToolInvocation: an external client or CLI exited non-zero or timed out.
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrDependencyMissing: a required external CLI is absent and could not be installed.
	ErrDependencyMissing = errors.New("dependency missing")
	ErrNotFound          = errors.New("not found")
	// ErrConfigurationInvalid: a required setting is absent or malformed.
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrNotConfirmed         = errors.New("restore not confirmed")
)

// Package gerrors defines the error kinds surfaced across the engine's
// public API as sentinel-wrapped errors, one per collaborator failure mode,
// instead of a generic error string.
package gerrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is against these, or the matching
// constructor below for a kind that carries context.
var (
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrNotRunning           = errors.New("engine not running")
	ErrVoteFailed           = errors.New("vote failed")
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// InvalidPayload wraps ErrInvalidPayload with a reason.
func InvalidPayload(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidPayload)
}

// VoteFailed wraps ErrVoteFailed with the key that failed to reach quorum.
func VoteFailed(key string) error {
	return fmt.Errorf("key %q: %w", key, ErrVoteFailed)
}

// TransportUnavailable wraps ErrTransportUnavailable with the send target.
func TransportUnavailable(target string, cause error) error {
	return fmt.Errorf("send to %q: %w: %v", target, ErrTransportUnavailable, cause)
}

package gerrors

import (
	"errors"
	"testing"
)

func TestInvalidPayloadWrapsSentinel(t *testing.T) {
	err := InvalidPayload("missing key")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("errors.Is(%v, ErrInvalidPayload) = false", err)
	}
}

func TestVoteFailedWrapsSentinel(t *testing.T) {
	err := VoteFailed("resource")
	if !errors.Is(err, ErrVoteFailed) {
		t.Fatalf("errors.Is(%v, ErrVoteFailed) = false", err)
	}
}

func TestTransportUnavailableWrapsSentinelAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransportUnavailable("127.0.0.1:7000", cause)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("errors.Is(%v, ErrTransportUnavailable) = false", err)
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}

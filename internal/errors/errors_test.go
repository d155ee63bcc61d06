package errors

import (
	"errors"
	"testing"
)

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		ErrMissingURL,
		ErrInvalidCapacity,
		ErrTransportClosed,
		ErrWriteFailed,
		ErrDial,
		ErrUnexpectedResponse,
		ErrIncompletePacket,
		ErrDanglingSession,
		ErrDanglingHandle,
		ErrSinkClosed,
		ErrTimeout,
	}

	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Fatalf("sentinel %d unexpectedly matches sentinel %d", i, j)
			}
		}
	}
}

func TestErrTimeoutWrapped(t *testing.T) {
	wrapped := errors.Join(ErrTimeout, errors.New("deadline exceeded"))
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatal("expected wrapped error to match ErrTimeout")
	}
}

package weather

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned for out-of-range coordinates, elevation,
	// ceiling, model or forecast hour. Nothing touches the network first.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoForecastAvailable is returned when every candidate run failed.
	ErrNoForecastAvailable = errors.New("no forecast available")

	// ErrTransport wraps network failures during probe or download.
	ErrTransport = errors.New("transport error")

	// ErrDecodeFailed is returned when a forecast file could not be decoded.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrInsufficientData is returned when fewer than two usable levels remain.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNotFound is returned by history stores with nothing for a location.
	ErrNotFound = errors.New("no wind profile for location")
)

// Attempt records why one candidate run was not used.
type Attempt struct {
	Key    RunKey `json:"key"`
	Reason string `json:"reason"`
}

// NoForecastError lists every run that was tried before giving up.
type NoForecastError struct {
	Attempts []Attempt
}

func (e *NoForecastError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoForecastAvailable.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Key, a.Reason))
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrNoForecastAvailable, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *NoForecastError) Unwrap() error { return ErrNoForecastAvailable }

// Keys returns the attempted run keys in order.
func (e *NoForecastError) Keys() []RunKey {
	keys := make([]RunKey, len(e.Attempts))
	for i, a := range e.Attempts {
		keys[i] = a.Key
	}
	return keys
}

// TransportError is a network-layer failure for one URL.
type TransportError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d", ErrTransport, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

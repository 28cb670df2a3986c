package gpib

import (
	"context"
	"errors"
	"fmt"
)

// Primary address range of an IEEE-488 bus.
const (
	MinAddress = 0
	MaxAddress = 30
)

// DefaultReadSize is used when a read is requested with a non-positive size.
const DefaultReadSize = 1024

var (
	// ErrTimeout is returned when the bridge or the instrument does not answer
	// within the configured window. It is the only failure the sampler treats as
	// transient.
	ErrTimeout = errors.New("gpib: timeout")

	// ErrNotSelected is returned by device operations issued before any device
	// address was selected.
	ErrNotSelected = errors.New("gpib: no device selected")

	// ErrClosed is returned by operations on a bus that is not open.
	ErrClosed = errors.New("gpib: bus closed")

	// ErrInvalidAddress is returned when selecting an address outside the
	// primary address range.
	ErrInvalidAddress = fmt.Errorf("gpib: address out of range [%d, %d]", MinAddress, MaxAddress)
)

// ConnectionError reports that the stream to the bridge could not be established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gpib: could not connect to bridge %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is (or wraps) ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsConnectionError reports whether err is (or wraps) a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRecoverable reports whether a fresh connection is the documented way to
// recover from err.
func IsRecoverable(err error) bool {
	return IsTimeout(err) || IsConnectionError(err)
}

// ValidAddress checks addr against the primary address range.
func ValidAddress(addr int) error {
	if addr < MinAddress || addr > MaxAddress {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
	}
	return nil
}

// Bus is a controller-in-charge of a GPIB bus reached through some bridge.
// Device operations are directed at the most recently selected address.
type Bus interface {
	Open(ctx context.Context) error
	Close() error

	Select(ctx context.Context, addr int) error
	InterfaceClear(ctx context.Context) error
	SelectedDeviceClear(ctx context.Context) error

	Write(ctx context.Context, cmd string) error
	// Read reads until the device asserts EOI.
	Read(ctx context.Context, maxBytes int) (string, error)
	// ReadLine reads until a line feed.
	ReadLine(ctx context.Context, maxBytes int) (string, error)
	// Query writes cmd and reads the EOI terminated response.
	Query(ctx context.Context, cmd string, maxBytes int) (string, error)
}

package chat

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrNotFound is returned when a chat, message or user read before
	// acting does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for malformed input. Nothing is written.
	ErrInvalid = errors.New("invalid argument")
	// ErrForbidden is returned by the caller-side permission gates.
	ErrForbidden = errors.New("permission denied")
)

// FanoutError reports per-member writes that failed while the rest of a
// fan-out went through. Nothing is rolled back.
type FanoutError struct {
	Op     string
	Failed []string
	Err    error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("%s: fan-out failed for %d member(s) [%s]: %v",
		e.Op, len(e.Failed), strings.Join(e.Failed, ","), e.Err)
}

func (e *FanoutError) Unwrap() error {
	return e.Err
}

// fanout collects per-member failures of one operation.
type fanout struct {
	op     string
	failed []string
	err    error
}

func (f *fanout) fail(member string, err error) {
	f.failed = append(f.failed, member)
	f.err = multierr.Append(f.err, fmt.Errorf("%s: %w", member, err))
}

// result returns a *FanoutError, or nil when every write succeeded.
func (f *fanout) result() error {
	if len(f.failed) == 0 {
		return nil
	}
	return &FanoutError{Op: f.op, Failed: f.failed, Err: f.err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

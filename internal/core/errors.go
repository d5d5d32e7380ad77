package core

import (
	"errors"
	"fmt"
)

var (
	// ErrVolumeNotMounted is returned when the PACS volume marker is absent.
	ErrVolumeNotMounted = errors.New("pacs volume not mounted: sentinel missing")
	// ErrLockTimeout is returned when another run held the lock past lock_timeout.
	ErrLockTimeout = errors.New("timed out waiting for run lock")
)

// FatalError aborts a run. The CLI maps it to exit status 1.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

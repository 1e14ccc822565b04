package maxent

import (
	"errors"
	"fmt"

	"github.com/crimson-sun/doccat/internal/engine/vocab"
)

var (
	// ErrInsufficientData is matched by every *InsufficientDataError.
	ErrInsufficientData = vocab.ErrInsufficientData

	// ErrConvergence is matched by every *ConvergenceError.
	ErrConvergence = errors.New("maxent: training did not converge")

	// ErrUnsupportedFormat is matched by every *UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("maxent: unsupported model format")

	// ErrCorruptModel reports serialized data that carries a supported
	// version but cannot be decoded.
	ErrCorruptModel = errors.New("maxent: corrupt model data")
)

// InsufficientDataError reports a training set with too few samples, labels
// or surviving features.
type InsufficientDataError = vocab.InsufficientDataError

// ConvergenceError is returned together with a usable model when training
// stops before the log-likelihood settles, either because the iteration
// budget ran out or because the context was cancelled (Cause).
type ConvergenceError struct {
	Iterations int
	Delta      float64 // last change of the objective
	Cause      error
}

func (e *ConvergenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("maxent: training stopped after %d iterations: %v", e.Iterations, e.Cause)
	}
	return fmt.Sprintf("maxent: no convergence after %d iterations (last change %.3g)", e.Iterations, e.Delta)
}

func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }

func (e *ConvergenceError) Unwrap() error { return e.Cause }

// UnsupportedFormatError reports serialized data whose magic or version this
// build does not understand.
type UnsupportedFormatError struct {
	Magic   string
	Version uint8
}

func (e *UnsupportedFormatError) Error() string {
	if e.Magic != formatMagic {
		return fmt.Sprintf("maxent: unsupported model format: unknown magic %q", e.Magic)
	}
	return fmt.Sprintf("maxent: unsupported model format version %d (supported: %d)", e.Version, FormatVersion)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/output"
)

// Multi delivers each prediction to several outputs in order. A failing
// output does not stop delivery to the ones after it.
type Multi struct {
	outputs []output.Output
}

func New(outputs ...output.Output) *Multi {
	return &Multi{outputs: outputs}
}

func (m *Multi) Write(ctx context.Context, p model.Prediction) error {
	var errs []error
	for i, o := range m.outputs {
		if err := o.Write(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every output and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for i, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

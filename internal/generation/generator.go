package generation

import (
	"context"
	"errors"
)

// ErrGeneration indicates the external content generation call failed.
// Timeouts are reported as ErrGeneration too; callers never retry inline.
var ErrGeneration = errors.New("content generation failed")

// Generator produces ordered text units from a prompt. Implementations call
// an external model endpoint; the returned slice order is meaningful and
// must be preserved by callers.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) ([]string, error)
}

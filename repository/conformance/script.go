package conformance

import (
	"context"
	"errors"
	"fmt"

	"infrakit/repository"
)

// ErrorKind reduces an error to its taxonomy name so outcome sequences can
// be compared across backends without comparing message text.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, repository.ErrValidation):
		return "validation"
	case errors.Is(err, repository.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal"
	}
}

// Step is one contract call in a replayable script.
type Step[T repository.Entity[ID], ID comparable] struct {
	Name string
	Call func(ctx context.Context, repo repository.Repository[T, ID]) (any, error)
}

// Replay runs a script against an adapter and records the observable outcome
// of every step: the step name, the error kind, and the returned value.
// Two adapters are equivalent for the script when their recordings match.
func Replay[T repository.Entity[ID], ID comparable](ctx context.Context, repo repository.Repository[T, ID], script []Step[T, ID]) []string {
	outcomes := make([]string, 0, len(script))
	for _, step := range script {
		value, err := step.Call(ctx, repo)
		outcome := fmt.Sprintf("%s: %s", step.Name, ErrorKind(err))
		if err == nil && value != nil {
			outcome = fmt.Sprintf("%s %v", outcome, value)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

package pipeline

import "context"

// Confirmer is the checkpoint between validation and signing. Returning
// false cancels the run before anything is composed.
type Confirmer interface {
	Confirm(ctx context.Context, amount float64, recipient string) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, amount float64, recipient string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, amount float64, recipient string) (bool, error) {
	return f(ctx, amount, recipient)
}

// StaticConfirmer answers every checkpoint the same way. It backs callers
// that collected consent before the run started, like the HTTP API.
type StaticConfirmer bool

func (c StaticConfirmer) Confirm(context.Context, float64, string) (bool, error) {
	return bool(c), nil
}

const (
	AutoConfirm StaticConfirmer = true
	AutoDecline StaticConfirmer = false
)

package forms

import (
	"context"
	"errors"
	"sync"

	"github.com/lkarlslund/proxydesk/pkg/backend"
)

// ErrSubmitting is returned while an earlier submit of the same modal is
// still running.
var ErrSubmitting = errors.New("already submitting")

// Modal runs one form's submit with a double-submit guard. Validation runs
// before submit and a failure never reaches the network.
type Modal[F any, T any] struct {
	mu         sync.Mutex
	submitting bool
	errMsg     string

	submit    func(ctx context.Context, form F) (T, error)
	onSuccess func(form F, result T)
}

func NewModal[F any, T any](submit func(context.Context, F) (T, error), onSuccess func(F, T)) *Modal[F, T] {
	return &Modal[F, T]{submit: submit, onSuccess: onSuccess}
}

func (m *Modal[F, T]) Submit(ctx context.Context, form F) (T, error) {
	var zero T
	m.mu.Lock()
	if m.submitting {
		m.mu.Unlock()
		return zero, ErrSubmitting
	}
	m.submitting = true
	m.errMsg = ""
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.submitting = false
		m.mu.Unlock()
	}()

	if err := Validate(form); err != nil {
		m.setError(err.Error())
		return zero, err
	}
	out, err := m.submit(ctx, form)
	if err != nil {
		m.setError(backend.Message(err))
		return zero, err
	}
	if m.onSuccess != nil {
		m.onSuccess(form, out)
	}
	return out, nil
}

func (m *Modal[F, T]) setError(msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.mu.Unlock()
}

// Error is the message of the last failed submit.
func (m *Modal[F, T]) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

func (m *Modal[F, T]) Submitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitting
}

// Package notifier delivers verification codes to builders. Implementations never log the code.
package notifier

import (
	"context"
	"fmt"
	"time"

	"builder-claims/backend/internal/otp/domain"
)

// Delivery is one code to send.
type Delivery struct {
	ChallengeID string
	Contact     string
	Method      domain.Method
	Code        string
	ExpiresAt   time.Time
}

// Notifier sends a verification code to a contact. Implementations do not retry.
type Notifier interface {
	Send(ctx context.Context, d Delivery) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, d Delivery) error

// Send calls f.
func (f Func) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Router dispatches by delivery method.
type Router struct {
	byMethod map[domain.Method]Notifier
}

// NewRouter returns a Router with no routes.
func NewRouter() *Router {
	return &Router{byMethod: make(map[domain.Method]Notifier)}
}

// Handle routes deliveries for method to n and returns r.
func (r *Router) Handle(method domain.Method, n Notifier) *Router {
	r.byMethod[method] = n
	return r
}

// Send forwards d to the notifier registered for its method.
func (r *Router) Send(ctx context.Context, d Delivery) error {
	n, ok := r.byMethod[d.Method]
	if !ok || n == nil {
		return fmt.Errorf("notifier: no route for method %q", d.Method)
	}
	return n.Send(ctx, d)
}

// Fanout sends every delivery to each notifier in order and returns the first error.
type Fanout []Notifier

// Send delivers d to every notifier.
func (f Fanout) Send(ctx context.Context, d Delivery) error {
	var first error
	for _, n := range f {
		if err := n.Send(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}

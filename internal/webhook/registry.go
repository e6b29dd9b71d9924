package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handler reacts to the events it declares. "*" matches every event.
type Handler interface {
	Name() string
	Events() []string
	Handle(ctx context.Context, ev Event) error
}

type Registry struct {
	handlers []Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

func (r *Registry) Add(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Matching returns the handlers subscribed to name, in registration order.
func (r *Registry) Matching(name string) []Handler {
	if r == nil {
		return nil
	}
	name = strings.ToLower(strings.TrimSpace(name))
	var out []Handler
	for _, h := range r.handlers {
		for _, ev := range h.Events() {
			ev = strings.ToLower(strings.TrimSpace(ev))
			if ev == "*" || ev == name {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// Dispatch runs every matching handler, even after one fails, and reports
// how many ran.
func (r *Registry) Dispatch(ctx context.Context, ev Event) (int, error) {
	handlers := r.Matching(ev.Name)
	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return len(handlers), errors.Join(errs...)
}

// EventNames is the union of the events every handler declares.
func (r *Registry) EventNames() []string {
	if r == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, h := range r.handlers {
		for _, ev := range h.Events() {
			if ev == "*" || seen[ev] {
				continue
			}
			seen[ev] = true
			out = append(out, ev)
		}
	}
	return out
}

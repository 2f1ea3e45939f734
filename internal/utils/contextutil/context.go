package contextutil

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds a single remote worker request
	DefaultTimeout = 30 * time.Second
	// ShortTimeout is for quick control messages (begin_epoch, health)
	ShortTimeout = 5 * time.Second
	// WindowTimeout bounds one full training window on a remote worker
	WindowTimeout = 10 * time.Minute
)

// WithTimeout derives a context with the default request timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

// WithShortTimeout derives a context for quick control messages
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithWindowTimeout derives a context sized for a remote training window
func WithWindowTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, WindowTimeout)
}

// WithCustomTimeout derives a context with a custom timeout
func WithCustomTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

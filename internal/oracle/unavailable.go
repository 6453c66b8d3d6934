package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Unavailable for every call.
var ErrUnavailable = errors.New("oracle: not configured")

// Unavailable is an Oracle for deployments without an API key. Every call
// fails, which callers already handle: classification degrades to "other"
// and generated text to its defaults.
type Unavailable struct{}

func (Unavailable) Classify(context.Context, string, []string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

var _ Oracle = Unavailable{}

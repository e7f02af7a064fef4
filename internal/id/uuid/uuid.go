// Package uuid issues identifiers for scan events and HTTP requests.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRequestID returns a random id suitable for correlating HTTP requests.
// It falls back to a v4 id if the v7 clock source fails.
func (g Generator) NewRequestID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}

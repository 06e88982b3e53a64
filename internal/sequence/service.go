package sequence

import (
	"context"
	"fmt"
	"strings"
)

// RepositoryPort abstracts counter storage for the generator.
type RepositoryPort interface {
	NextValue(ctx context.Context, prefix, periodKey string) (int64, error)
}

// Generator produces document numbers of the form PREFIX-PERIOD-NNNNNN.
type Generator struct {
	repo  RepositoryPort
	width int
}

// NewGenerator builds Generator. A non-positive width falls back to DefaultWidth.
func NewGenerator(repo RepositoryPort, width int) *Generator {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Generator{repo: repo, width: width}
}

// Next returns the next document number for the prefix/period pair.
func (g *Generator) Next(ctx context.Context, prefix, periodKey string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	periodKey = strings.TrimSpace(periodKey)
	if prefix == "" || periodKey == "" {
		return "", ErrInvalidKey
	}
	n, err := g.repo.NextValue(ctx, prefix, periodKey)
	if err != nil {
		return "", fmt.Errorf("sequence: next value for %s-%s: %w", prefix, periodKey, err)
	}
	return Format(prefix, periodKey, n, g.width), nil
}

// Format renders a document number from its parts.
func Format(prefix, periodKey string, n int64, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, periodKey, width, n)
}

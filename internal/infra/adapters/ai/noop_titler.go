package ai

import (
	"context"

	"report-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.TitleGenerator = (*NoopTitler)(nil)

// NoopTitler is used when no AI provider is configured; conversations keep
// their preview-derived title.
type NoopTitler struct{}

func (NoopTitler) GenerateTitle(ctx context.Context, problem string) (string, error) {
	return "", nil
}

package ai

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.TitleGenerator = (*MultiTitler)(nil)

// MultiTitler tries each provider in order until one yields a title.
type MultiTitler struct {
	chain []adapter.TitleGenerator
	log   *zerolog.Logger
}

func NewMultiTitler(logger *zerolog.Logger, chain ...adapter.TitleGenerator) *MultiTitler {
	mlog := logger.With().Str("component", "MultiTitler").Logger()
	return &MultiTitler{chain: chain, log: &mlog}
}

func (m *MultiTitler) GenerateTitle(ctx context.Context, problem string) (string, error) {
	var lastErr error
	for _, t := range m.chain {
		if t == nil {
			continue
		}
		title, err := t.GenerateTitle(ctx, problem)
		if err == nil && title != "" {
			return title, nil
		}
		lastErr = err
		m.log.Debug().Err(err).Msg("titler provider failed, trying next")
	}
	if lastErr == nil {
		lastErr = errors.New("no title provider available")
	}
	return "", lastErr
}

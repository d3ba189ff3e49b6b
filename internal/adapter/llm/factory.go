package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chasecyang/shotrio-sub004/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// NewStreamClient builds the client selected by cfg.Provider.
func NewStreamClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (StreamClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderMock:
		logger.Info("llm.provider=mock, using mock model client")
		return NewMockClient(), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, logger)
	case ProviderOpenAI, "":
		return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

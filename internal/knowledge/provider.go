package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChainPilot/internal/config"
)

// NewEmbedder 根据配置创建向量化服务。provider 为 none 时返回 nil，
// 检索将以 EMBEDDING_UNAVAILABLE 降级。
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	timeout := 30 * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, timeout), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.ResolveAPIKey(), cfg.Model, timeout), nil
	case "genai", "gemini":
		return NewGenAIEmbedder(ctx, cfg.ResolveAPIKey(), cfg.Model)
	case "none", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的向量化服务: %s", cfg.Provider)
	}
}

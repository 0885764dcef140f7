package knowledge

import (
	"context"
	"log/slog"

	"ChainPilot/pkg/logger"
)

// Bootstrap 构建启动时的索引：docsDir 非空时先从文档目录重建存储，
// 随后从存储一次性读取全部 Passage。store 为 nil 时直接使用文档目录。
func Bootstrap(ctx context.Context, store *SQLiteStore, docsDir string, embedder Embedder, opts LoaderOptions) (*Index, error) {
	log := logger.Named("knowledge")
	var fromDocs []Passage
	if docsDir != "" {
		passages, err := LoadDir(ctx, docsDir, embedder, opts)
		if err != nil {
			return nil, err
		}
		fromDocs = passages
		if store != nil {
			if err := store.ReplaceAll(ctx, passages); err != nil {
				return nil, err
			}
		}
	}
	if store == nil {
		log.Info("知识库已从文档目录加载", slog.Int("passages", len(fromDocs)))
		return NewIndex(fromDocs...), nil
	}
	passages, err := store.AllPassages(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("知识库已加载", slog.Int("passages", len(passages)))
	return NewIndex(passages...), nil
}

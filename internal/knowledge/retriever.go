package knowledge

import (
	"context"
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// Retriever 将查询向量化后在索引中检索。
type Retriever struct {
	index    *Index
	embedder Embedder
}

// NewRetriever 创建 Retriever。embedder 可以为 nil，此时检索总是返回
// EMBEDDING_UNAVAILABLE。
func NewRetriever(index *Index, embedder Embedder) *Retriever {
	if index == nil {
		index = NewIndex()
	}
	return &Retriever{index: index, embedder: embedder}
}

// Index 返回底层索引。
func (r *Retriever) Index() *Index { return r.index }

// Retrieve 返回与 query 最相关的至多 k 个 Passage。索引为空时返回空切片。
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	matches, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Passage, len(matches))
	for i, m := range matches {
		out[i] = m.Passage
	}
	return out, nil
}

// Search 与 Retrieve 相同，但同时返回相似度分数。
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if r.index.Len() == 0 || k <= 0 {
		return []Match{}, nil
	}
	if r.embedder == nil {
		return nil, xerrors.New(CodeEmbeddingUnavailable, "未配置向量化服务")
	}
	if strings.TrimSpace(query) == "" {
		return []Match{}, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(CodeEmbeddingUnavailable, err, "查询向量化失败")
	}
	if len(vec) == 0 {
		return nil, xerrors.New(CodeEmbeddingUnavailable, "向量化服务返回空向量")
	}
	return r.index.Search(vec, k), nil
}

// Render 将检索结果格式化为可直接放入提示词的文本。
func Render(passages []Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s", i+1, p.Title, p.ID, p.Text)
	}
	return b.String()
}

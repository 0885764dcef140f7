package knowledge

import (
	"slices"

	xerrors "ChainPilot/internal/errors"
)

// CodeEmbeddingUnavailable 表示向量化服务缺失或调用失败。
const CodeEmbeddingUnavailable xerrors.Code = "EMBEDDING_UNAVAILABLE"

func init() {
	xerrors.Register(CodeEmbeddingUnavailable, xerrors.Attributes{
		Message:  "embedding service unavailable",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryRetrieval,
	})
}

// Passage 是知识库中的一个文本片段，写入索引后不可变。
type Passage struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Offset    int       `json:"offset"`
	Embedding []float32 `json:"-"`
	Seq       int64     `json:"seq"`
}

// Match 是一次检索命中。
type Match struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

func (p Passage) clone() Passage {
	p.Embedding = slices.Clone(p.Embedding)
	return p
}

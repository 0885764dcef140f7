package knowledge

import (
	"fmt"
	"sort"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// Document 是由同一文件的全部 Passage 拼接而成的完整文档。
type Document struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Passages []string `json:"passages"`
}

// DocumentID 去掉 Passage id 末尾的 #chunk 部分，如 uniswap-v2/router.md#2 → uniswap-v2/router.md。
func DocumentID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}

// Document 按文档 id 或其任一 Passage id 返回完整文档。
func (i *Index) Document(id string) (Document, bool) {
	want := DocumentID(id)
	if want == "" {
		return Document{}, false
	}
	var parts []Passage
	for _, p := range i.current.Load().passages {
		if DocumentID(p.ID) == want {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Document{}, false
	}
	sort.SliceStable(parts, func(a, b int) bool { return parts[a].Offset < parts[b].Offset })

	doc := Document{
		ID:       want,
		Source:   parts[0].Source,
		Path:     parts[0].Path,
		Title:    parts[0].Title,
		Passages: make([]string, 0, len(parts)),
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		doc.Passages = append(doc.Passages, p.ID)
		texts = append(texts, p.Text)
	}
	doc.Text = strings.Join(texts, "\n\n")
	return doc, true
}

// Document 从底层索引读取完整文档，不存在时返回 NOT_FOUND。
func (r *Retriever) Document(id string) (Document, error) {
	doc, ok := r.index.Document(id)
	if !ok {
		return Document{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("文档 %q 不存在", DocumentID(id)))
	}
	return doc, nil
}

package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xerrors "ChainPilot/internal/errors"

	"golang.org/x/sync/errgroup"
)

// LoaderOptions 控制文档目录的加载行为。
type LoaderOptions struct {
	Chunk       ChunkOptions
	Extensions  []string
	Concurrency int
}

func (o *LoaderOptions) applyDefaults() {
	if o.Chunk.TargetSize <= 0 {
		o.Chunk = DefaultChunkOptions()
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".md", ".markdown", ".txt", ".sol"}
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// LoadDir 读取 root 下的文档并切分、向量化。root 的一级子目录名作为来源
// （例如 uniswap-v2/router.md 的来源是 uniswap-v2），直接位于 root 下的
// 文件来源为 docs。Passage ID 形如 source/file#chunk。
func LoadDir(ctx context.Context, root string, embedder Embedder, opts LoaderOptions) ([]Passage, error) {
	opts.applyDefaults()
	if embedder == nil {
		return nil, xerrors.New(CodeEmbeddingUnavailable, "加载文档需要向量化服务")
	}

	files, err := listDocuments(root, opts.Extensions)
	if err != nil {
		return nil, err
	}

	var passages []Passage
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil, fmt.Errorf("读取文档 %s 失败: %w", rel, err)
		}
		passages = append(passages, chunkDocument(rel, string(data), opts.Chunk)...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range passages {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, passages[i].Text)
			if err != nil {
				return xerrors.Wrap(CodeEmbeddingUnavailable, err,
					fmt.Sprintf("向量化 %s 失败", passages[i].ID))
			}
			passages[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return passages, nil
}

func listDocuments(root string, exts []string) ([]string, error) {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历文档目录 %s 失败: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func chunkDocument(rel, content string, opts ChunkOptions) []Passage {
	rel = filepath.ToSlash(rel)
	source, name := "docs", rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		source, name = rel[:i], rel[i+1:]
	}
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	chunks := SplitMarkdown(content, opts)
	out := make([]Passage, 0, len(chunks))
	for n, c := range chunks {
		out = append(out, Passage{
			ID:     fmt.Sprintf("%s/%s#%d", source, name, n),
			Source: source,
			Path:   rel,
			Title:  title,
			Text:   c.Text,
			Offset: c.Offset,
		})
	}
	return out
}

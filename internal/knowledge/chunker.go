package knowledge

import "strings"

// ChunkOptions 控制 Markdown 切分的目标长度。
type ChunkOptions struct {
	TargetSize int
	MaxSize    int
}

// DefaultChunkOptions 返回默认切分参数。
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{TargetSize: 800, MaxSize: 1200}
}

// Chunk 是切分结果，Offset 为片段在原文中的字节偏移。
type Chunk struct {
	Text   string
	Offset int
}

type segment struct {
	start, end int
}

// SplitMarkdown 在标题与空行处切分文本，合并过短的块，
// 超长的块再按行切分。
func SplitMarkdown(text string, opts ChunkOptions) []Chunk {
	if opts.TargetSize <= 0 || opts.MaxSize <= 0 {
		opts = DefaultChunkOptions()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return trimChunks(text, []segment{{0, len(text)}})
	}

	blocks := splitBlocks(text)
	var merged []segment
	var acc segment
	accSet := false
	for _, b := range blocks {
		if !accSet {
			acc, accSet = b, true
			continue
		}
		if b.end-acc.start <= opts.TargetSize {
			acc.end = b.end
			continue
		}
		merged = append(merged, splitLong(text, acc, opts)...)
		acc = b
	}
	if accSet {
		merged = append(merged, splitLong(text, acc, opts)...)
	}
	return trimChunks(text, merged)
}

// splitBlocks 以标题行与连续空行为边界。
func splitBlocks(text string) []segment {
	var blocks []segment
	start, pos := 0, 0
	prevBlank := false
	for pos < len(text) {
		end := strings.IndexByte(text[pos:], '\n')
		lineEnd := len(text)
		if end >= 0 {
			lineEnd = pos + end + 1
		}
		line := strings.TrimSpace(text[pos:lineEnd])
		switch {
		case strings.HasPrefix(line, "#") && pos > start:
			blocks = append(blocks, segment{start, pos})
			start = pos
		case line == "" && prevBlank && pos > start:
			blocks = append(blocks, segment{start, pos})
			start = pos
		}
		prevBlank = line == ""
		pos = lineEnd
	}
	if start < len(text) {
		blocks = append(blocks, segment{start, len(text)})
	}
	return blocks
}

func splitLong(text string, s segment, opts ChunkOptions) []segment {
	if s.end-s.start <= opts.MaxSize {
		return []segment{s}
	}
	var out []segment
	start, pos := s.start, s.start
	for pos < s.end {
		end := strings.IndexByte(text[pos:s.end], '\n')
		lineEnd := s.end
		if end >= 0 {
			lineEnd = pos + end + 1
		}
		if lineEnd-start > opts.TargetSize && pos > start {
			out = append(out, segment{start, pos})
			start = pos
		}
		pos = lineEnd
	}
	if start < s.end {
		out = append(out, segment{start, s.end})
	}
	return out
}

func trimChunks(text string, segs []segment) []Chunk {
	out := make([]Chunk, 0, len(segs))
	for _, s := range segs {
		raw := text[s.start:s.end]
		lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		out = append(out, Chunk{Text: trimmed, Offset: s.start + lead})
	}
	return out
}

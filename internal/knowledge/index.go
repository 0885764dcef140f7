package knowledge

import (
	"sort"
	"sync"
	"sync/atomic"
)

type snapshot struct {
	passages []Passage
	nextSeq  int64
}

// Index 保存 Passage 的不可变快照。写入通过复制并原子替换完成，
// 读取方拿到的快照在其生命周期内不会变化。
type Index struct {
	current atomic.Pointer[snapshot]
	// writeMu 串行化写入方，读取方不加锁。
	writeMu sync.Mutex
}

// NewIndex 创建索引并写入初始 Passage。
func NewIndex(passages ...Passage) *Index {
	idx := &Index{}
	idx.current.Store(&snapshot{})
	idx.Replace(passages)
	return idx
}

// Replace 用新的 Passage 集合替换整个快照，Seq 按传入顺序重新分配。
func (i *Index) Replace(passages []Passage) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	next := &snapshot{passages: make([]Passage, 0, len(passages))}
	for _, p := range passages {
		next.nextSeq++
		p = p.clone()
		p.Seq = next.nextSeq
		next.passages = append(next.passages, p)
	}
	i.current.Store(next)
}

// Add 追加 Passage，保留已有快照中的顺序。
func (i *Index) Add(passages ...Passage) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	prev := i.current.Load()
	next := &snapshot{
		passages: make([]Passage, len(prev.passages), len(prev.passages)+len(passages)),
		nextSeq:  prev.nextSeq,
	}
	copy(next.passages, prev.passages)
	for _, p := range passages {
		next.nextSeq++
		p = p.clone()
		p.Seq = next.nextSeq
		next.passages = append(next.passages, p)
	}
	i.current.Store(next)
}

// Len 返回当前快照中的 Passage 数量。
func (i *Index) Len() int {
	return len(i.current.Load().passages)
}

// All 返回当前快照中全部 Passage 的副本。
func (i *Index) All() []Passage {
	snap := i.current.Load()
	out := make([]Passage, len(snap.passages))
	for n, p := range snap.passages {
		out[n] = p.clone()
	}
	return out
}

// Search 按余弦相似度降序返回最多 k 个结果，分数相同时按写入顺序排列。
func (i *Index) Search(vector []float32, k int) []Match {
	snap := i.current.Load()
	if k <= 0 || len(snap.passages) == 0 {
		return []Match{}
	}
	matches := make([]Match, 0, len(snap.passages))
	for _, p := range snap.passages {
		matches = append(matches, Match{Passage: p, Score: CosineSimilarity(vector, p.Embedding)})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Passage.Seq < matches[b].Passage.Seq
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	for n := range matches {
		matches[n].Passage = matches[n].Passage.clone()
	}
	return matches
}

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChainPilot/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听文档目录，变更后重新加载并替换索引快照。
type Watcher struct {
	dir      string
	embedder Embedder
	index    *Index
	store    *SQLiteStore
	opts     LoaderOptions
	debounce time.Duration
	log      *slog.Logger
	reloaded func(n int)
}

// WatcherOption 配置 Watcher。
type WatcherOption func(*Watcher)

// WithWatchStore 在重新加载后同步写入 SQLite 存储。
func WithWatchStore(store *SQLiteStore) WatcherOption {
	return func(w *Watcher) { w.store = store }
}

// WithDebounce 设置合并连续变更的等待时间。
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook 在每次成功重新加载后回调，参数为新的 Passage 数量。
func WithReloadHook(fn func(n int)) WatcherOption {
	return func(w *Watcher) { w.reloaded = fn }
}

// NewWatcher 创建 Watcher。
func NewWatcher(dir string, index *Index, embedder Embedder, opts LoaderOptions, options ...WatcherOption) *Watcher {
	opts.applyDefaults()
	w := &Watcher{
		dir:      dir,
		embedder: embedder,
		index:    index,
		opts:     opts,
		debounce: 500 * time.Millisecond,
		log:      logger.Named("knowledge.watcher"),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Reload 立即重新加载文档目录。
func (w *Watcher) Reload(ctx context.Context) (int, error) {
	passages, err := LoadDir(ctx, w.dir, w.embedder, w.opts)
	if err != nil {
		return 0, err
	}
	if w.store != nil {
		if err := w.store.ReplaceAll(ctx, passages); err != nil {
			return 0, err
		}
	}
	w.index.Replace(passages)
	if w.reloaded != nil {
		w.reloaded(len(passages))
	}
	return len(passages), nil
}

// Run 阻塞监听直到 ctx 结束。加载失败只记录日志，保留旧快照。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}
	w.log.Info("开始监听文档目录", slog.String("dir", w.dir))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if isDir(event.Name) {
					if err := w.addTree(fw, event.Name); err != nil {
						w.log.Warn("监听新目录失败", slog.String("dir", event.Name), slog.Any("error", err))
					}
				}
			}
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("文件监听错误", slog.Any("error", err))
		case <-timer.C:
			n, err := w.Reload(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.log.Error("重新加载文档失败", slog.Any("error", err))
				continue
			}
			w.log.Info("文档已重新加载", slog.Int("passages", n))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	for _, allowed := range w.opts.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	// 删除或重命名目录时没有扩展名，同样需要重新加载。
	return ext == "" && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("监听目录 %s 失败: %w", path, err)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

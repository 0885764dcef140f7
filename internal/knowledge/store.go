package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	xerrors "ChainPilot/internal/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore 将 Passage 及其向量持久化到本地 SQLite 文件。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore 打开或创建 SQLite 数据库。
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建知识库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开知识库失败")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS passages (
		id         TEXT PRIMARY KEY,
		source     TEXT NOT NULL,
		path       TEXT NOT NULL,
		title      TEXT NOT NULL,
		text       TEXT NOT NULL,
		byte_offset INTEGER NOT NULL,
		embedding  BLOB,
		seq        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source);
	CREATE INDEX IF NOT EXISTS idx_passages_seq ON passages(seq);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化知识库表结构失败")
	}
	return nil
}

// ReplaceSource 在一个事务内替换某个来源的全部 Passage。
func (s *SQLiteStore) ReplaceSource(ctx context.Context, source string, passages []Passage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE source = ?`, source); err != nil {
			return err
		}
		return insertPassages(ctx, tx, passages)
	})
}

// ReplaceAll 清空后写入全部 Passage。
func (s *SQLiteStore) ReplaceAll(ctx context.Context, passages []Passage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM passages`); err != nil {
			return err
		}
		return insertPassages(ctx, tx, passages)
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启知识库事务失败")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入知识库失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交知识库事务失败")
	}
	return nil
}

func insertPassages(ctx context.Context, tx *sql.Tx, passages []Passage) error {
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM passages`).Scan(&next); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO passages
		(id, source, path, title, text, byte_offset, embedding, seq) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range passages {
		next++
		if _, err := stmt.ExecContext(ctx, p.ID, p.Source, p.Path, p.Title, p.Text, p.Offset,
			encodeVector(p.Embedding), next); err != nil {
			return fmt.Errorf("写入 %s: %w", p.ID, err)
		}
	}
	return nil
}

// AllPassages 按写入顺序读取全部 Passage。
func (s *SQLiteStore) AllPassages(ctx context.Context) ([]Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, path, title, text, byte_offset, embedding, seq FROM passages ORDER BY seq`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取知识库失败")
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var (
			p    Passage
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.Source, &p.Path, &p.Title, &p.Text, &p.Offset, &blob, &p.Seq); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析知识库记录失败")
		}
		p.Embedding = decodeVector(blob)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取知识库失败")
	}
	return out, nil
}

// Sources 返回每个来源的 Passage 数量。
func (s *SQLiteStore) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM passages GROUP BY source`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计知识库失败")
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计知识库失败")
		}
		out[source] = n
	}
	return out, rows.Err()
}

// Close 关闭数据库。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

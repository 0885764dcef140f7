package mysql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"ChainPilot/deploy/migrations"
	"ChainPilot/pkg/logger"
)

const (
	createSchemaTableSQL = `CREATE TABLE IF NOT EXISTS chainpilot_schema (
    version INT NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    checksum CHAR(64) NOT NULL,
    applied_at BIGINT NOT NULL
)`
	selectSchemaSQL = `SELECT version, checksum FROM chainpilot_schema`
	insertSchemaSQL = `INSERT INTO chainpilot_schema (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`
)

// migration 是一份嵌入的 SQL 文件，文件名以数字版本号开头，如 0001_create_sessions.sql。
type migration struct {
	version    int
	name       string
	checksum   string
	statements []string
}

// migrate 按版本号升序应用尚未执行的迁移，每份文件一个事务。
// 已应用的迁移内容被改动时直接报错。
func migrate(ctx context.Context, db *sql.DB, files fs.FS) error {
	pending, err := readMigrations(files)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createSchemaTableSQL); err != nil {
		return fmt.Errorf("创建 chainpilot_schema 表失败: %w", err)
	}
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	log := logger.Named("mysql")
	for _, m := range pending {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return fmt.Errorf("迁移 %s 已应用，但文件内容已变化 (记录 %.12s, 当前 %.12s)", m.name, sum, m.checksum)
			}
			continue
		}
		started := time.Now()
		if err := m.apply(ctx, db); err != nil {
			return err
		}
		log.Info("已应用数据库迁移",
			slog.String("name", m.name),
			slog.Int("statements", len(m.statements)),
			slog.Duration("elapsed", time.Since(started)))
	}
	return nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, selectSchemaSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 chainpilot_schema 失败: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("解析 chainpilot_schema 失败: %w", err)
		}
		out[version] = checksum
	}
	return out, rows.Err()
}

func (m migration) apply(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移 %s 的事务失败: %w", m.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range m.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", m.name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, insertSchemaSQL, m.version, m.name, m.checksum, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("登记迁移 %s 失败: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", m.name, err)
	}
	return nil
}

// readMigrations 读取 files 根目录下的 .sql 文件。版本号缺失或重复都视为打包错误。
func readMigrations(files fs.FS) ([]migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}
	seen := make(map[int]string, len(names))
	out := make([]migration, 0, len(names))
	for _, name := range names {
		version, err := migrationVersion(name)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("迁移 %s 与 %s 的版本号重复", name, prev)
		}
		seen[version] = name

		raw, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		stmts := splitStatements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{
			version:    version,
			name:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: stmts,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func migrationVersion(name string) (int, error) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	digits := strings.IndexFunc(base, func(r rune) bool { return r < '0' || r > '9' })
	if digits < 0 {
		digits = len(base)
	}
	if digits == 0 {
		return 0, fmt.Errorf("迁移文件 %s 缺少数字版本号前缀", name)
	}
	return strconv.Atoi(base[:digits])
}

// splitStatements 按分号切分语句，忽略整行的 -- 注释。
func splitStatements(content string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			out = append(out, stmt)
		}
		cur.Reset()
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			i := strings.IndexByte(line, ';')
			if i < 0 {
				break
			}
			cur.WriteString(line[:i])
			flush()
			line = line[i+1:]
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

// embeddedMigrations 返回随二进制打包的迁移文件。
func embeddedMigrations() fs.FS { return migrations.Files }

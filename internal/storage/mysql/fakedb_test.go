package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// 按顺序回放预期操作的 database/sql 驱动，不支持 Prepare。

type stepKind int

const (
	stepExec stepKind = iota
	stepQuery
	stepBegin
	stepCommit
	stepRollback
)

func (k stepKind) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[k]
}

type step struct {
	kind    stepKind
	query   string
	result  fakeResult
	columns []string
	rows    [][]driver.Value
	err     error
}

type fakeResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

func expectExec(query string, result fakeResult) step {
	return step{kind: stepExec, query: query, result: result}
}

func expectExecErr(query string, err error) step {
	return step{kind: stepExec, query: query, err: err}
}

func expectQuery(query string, columns []string, rows ...[]driver.Value) step {
	return step{kind: stepQuery, query: query, columns: columns, rows: rows}
}

func expectBegin() step    { return step{kind: stepBegin} }
func expectCommit() step   { return step{kind: stepCommit} }
func expectRollback() step { return step{kind: stepRollback} }

type scriptDriver struct {
	steps []step
	pos   atomic.Int32

	mu   sync.Mutex
	args [][]any
}

var driverSeq atomic.Int32

func newScriptedDB(t *testing.T, steps ...step) (*sql.DB, *scriptDriver) {
	t.Helper()
	drv := &scriptDriver{steps: steps}
	name := fmt.Sprintf("chainpilot-fake-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open fake db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

func (d *scriptDriver) assertDone(t *testing.T) {
	t.Helper()
	if got := int(d.pos.Load()); got != len(d.steps) {
		t.Fatalf("consumed %d of %d expected operations", got, len(d.steps))
	}
}

// execArgs 返回第 i 次 Exec 的参数。
func (d *scriptDriver) execArgs(i int) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.args[i]
}

func (d *scriptDriver) advance(kind stepKind, query string) (*step, error) {
	idx := int(d.pos.Load())
	if idx >= len(d.steps) {
		return nil, fmt.Errorf("unexpected %s", kind)
	}
	st := &d.steps[idx]
	if st.kind != kind {
		return nil, fmt.Errorf("expected %s, got %s", st.kind, kind)
	}
	d.pos.Add(1)
	if st.query != "" && squash(st.query) != squash(query) {
		return nil, fmt.Errorf("unexpected query\nwant %q\n got %q", squash(st.query), squash(query))
	}
	return st, st.err
}

func (d *scriptDriver) Open(string) (driver.Conn, error) { return &scriptConn{d: d}, nil }

type scriptConn struct{ d *scriptDriver }

func (c *scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.advance(stepBegin, ""); err != nil {
		return nil, err
	}
	return &scriptTx{d: c.d}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	c.d.mu.Lock()
	c.d.args = append(c.d.args, values)
	c.d.mu.Unlock()
	st, err := c.d.advance(stepExec, query)
	if err != nil {
		return nil, err
	}
	return st.result, nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	st, err := c.d.advance(stepQuery, query)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: st.columns, values: st.rows}, nil
}

func (c *scriptConn) Ping(context.Context) error { return nil }

type scriptTx struct{ d *scriptDriver }

func (t *scriptTx) Commit() error {
	_, err := t.d.advance(stepCommit, "")
	return err
}

func (t *scriptTx) Rollback() error {
	_, err := t.d.advance(stepRollback, "")
	return err
}

type scriptRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func squash(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

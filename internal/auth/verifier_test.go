package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/reactord/reactord/internal/dbpool"
)

// fakeDriver backs a tiny in-memory user table so DBVerifier's query/exec
// paths can be exercised without a live MySQL server.
type fakeDriver struct {
	mu    sync.Mutex
	users map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{users: make(map[string]string)}
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{d: d}, nil
}

type fakeConn struct{ d *fakeDriver }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)                 { return nil, driver.ErrSkip }

// QueryContext / ExecContext implement driver.QueryerContext / ExecerContext
// so database/sql routes QueryRowContext/ExecContext here without needing
// Prepare/Stmt support.
func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()

	username := args[0].Value.(string)
	password, ok := c.d.users[username]
	if !ok {
		return &fakeRows{}, nil
	}
	return &fakeRows{row: []driver.Value{password}}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()

	username := args[0].Value.(string)
	password := args[1].Value.(string)
	c.d.users[username] = password
	return fakeResult{}, nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

// fakeRows yields at most one row: {password}. An empty row set means "no
// such user", matching sql.ErrNoRows semantics at the Scan layer.
type fakeRows struct {
	row     []driver.Value
	fetched bool
}

func (r *fakeRows) Columns() []string { return []string{"password"} }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.row == nil || r.fetched {
		return io.EOF
	}
	r.fetched = true
	dest[0] = r.row[0]
	return nil
}

var driverSeq int

func openTestVerifier(t *testing.T) (*DBVerifier, *fakeDriver) {
	t.Helper()
	drv := newFakeDriver()
	driverSeq++
	name := fmt.Sprintf("authtest%d", driverSeq)
	sql.Register(name, drv)

	db, err := sql.Open(name, "fake")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("db.Conn: %v", err)
	}

	pool := dbpool.NewForTest(db, []*sql.Conn{conn})
	return &DBVerifier{Pool: pool}, drv
}

func TestRegisterThenLoginSucceeds(t *testing.T) {
	v, _ := openTestVerifier(t)
	ctx := context.Background()

	ok, err := v.Verify(ctx, "alice", "hunter2", false)
	if err != nil || !ok {
		t.Fatalf("expected registration to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = v.Verify(ctx, "alice", "hunter2", true)
	if err != nil || !ok {
		t.Fatalf("expected login with correct password to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestLoginWithWrongPasswordFails(t *testing.T) {
	v, _ := openTestVerifier(t)
	ctx := context.Background()

	if _, err := v.Verify(ctx, "bob", "correct", false); err != nil {
		t.Fatalf("register: %v", err)
	}

	ok, err := v.Verify(ctx, "bob", "wrong", true)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected login with wrong password to fail")
	}
}

func TestEmptyCredentialsShortCircuit(t *testing.T) {
	v, drv := openTestVerifier(t)
	ctx := context.Background()

	ok, err := v.Verify(ctx, "", "", true)
	if err != nil || ok {
		t.Fatalf("expected empty credentials to fail without touching the pool, got ok=%v err=%v", ok, err)
	}
	if len(drv.users) != 0 {
		t.Fatalf("expected no database access for empty credentials")
	}
}

func TestRegisterExistingUserFails(t *testing.T) {
	v, _ := openTestVerifier(t)
	ctx := context.Background()

	if _, err := v.Verify(ctx, "carol", "pw1", false); err != nil {
		t.Fatalf("first register: %v", err)
	}

	ok, err := v.Verify(ctx, "carol", "pw2", false)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected re-registration of an existing username to fail")
	}
}

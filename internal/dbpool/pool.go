// Package dbpool implements a bounded pool of pre-opened MySQL connection
// handles, gated by a counting semaphore and held in a buffered channel: the
// channel's length doubles as both the semaphore count and the queue, so
// acquire/release never needs a separate counter kept in sync by hand.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Config names the MySQL database the pool opens handles against.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	PoolSize int
}

func (c Config) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
}

// Pool is a fixed-size pool of pre-opened *sql.Conn handles. Unlike a bare
// *sql.DB (which pools connections internally and opens them lazily), Pool
// pins exactly Config.PoolSize connections up front and hands them out one
// at a time, so the channel itself is what gates concurrency.
type Pool struct {
	db      *sql.DB
	handles chan *sql.Conn
	size    int
}

// Open connects to MySQL and pre-opens size handles.
func Open(cfg Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	p := &Pool{
		db:      db,
		handles: make(chan *sql.Conn, cfg.PoolSize),
		size:    cfg.PoolSize,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := db.Conn(context.Background())
		if err != nil {
			p.closeOpened(i)
			db.Close()
			return nil, fmt.Errorf("dbpool: open handle %d/%d: %w", i+1, cfg.PoolSize, err)
		}
		p.handles <- conn
	}

	return p, nil
}

func (p *Pool) closeOpened(n int) {
	for i := 0; i < n; i++ {
		select {
		case c := <-p.handles:
			c.Close()
		default:
		}
	}
}

// GetConn acquires a handle without blocking: if none is immediately
// available it returns ErrExhausted rather than making the caller's
// goroutine wait on the semaphore.
func (p *Pool) GetConn() (*sql.Conn, error) {
	select {
	case c := <-p.handles:
		return c, nil
	default:
		return nil, ErrExhausted
	}
}

// FreeConn returns a handle acquired via GetConn. Calling FreeConn on a
// handle not obtained from this pool, or calling it twice for the same
// acquisition, is a caller error.
func (p *Pool) FreeConn(c *sql.Conn) {
	p.handles <- c
}

// Close drains and closes every handle, then tears down the underlying
// driver connection.
func (p *Pool) Close() error {
	for i := 0; i < p.size; i++ {
		c := <-p.handles
		c.Close()
	}
	return p.db.Close()
}

// NewForTest builds a Pool around already-open handles, bypassing network
// I/O, so acquire/release/quiescent-invariant behavior can be tested without
// a live MySQL server. Exported for use by other packages' tests (e.g.
// internal/auth) that need a Pool wired to a fake driver.
func NewForTest(db *sql.DB, conns []*sql.Conn) *Pool {
	p := &Pool{db: db, handles: make(chan *sql.Conn, len(conns)), size: len(conns)}
	for _, c := range conns {
		p.handles <- c
	}
	return p
}

// Size reports the configured pool size, for stats/tests.
func (p *Pool) Size() int {
	return p.size
}

// Available reports the number of handles currently idle in the queue.
func (p *Pool) Available() int {
	return len(p.handles)
}

// ErrExhausted is returned by GetConn when every handle is checked out.
var ErrExhausted = fmt.Errorf("dbpool: exhausted")

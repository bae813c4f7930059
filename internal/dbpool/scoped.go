package dbpool

import "database/sql"

// Scoped is a scope-bound acquire/release wrapper around a pooled handle:
// Acquire gets the handle, and Release (meant to be called via defer)
// returns it to the pool exactly once, even if called more than once.
type Scoped struct {
	pool     *Pool
	conn     *sql.Conn
	released bool
}

// Acquire gets a handle from pool, wrapped for scoped release.
func Acquire(pool *Pool) (*Scoped, error) {
	conn, err := pool.GetConn()
	if err != nil {
		return nil, err
	}
	return &Scoped{pool: pool, conn: conn}, nil
}

// Conn returns the underlying handle.
func (s *Scoped) Conn() *sql.Conn {
	return s.conn
}

// Release returns the handle to the pool. Safe to call more than once; only
// the first call has an effect.
func (s *Scoped) Release() {
	if s.released {
		return
	}
	s.released = true
	s.pool.FreeConn(s.conn)
}

// Package auth implements the registration/login side effect the HTTP
// parser triggers on a form POST. It is split out of the parser so the
// parser depends only on the Verifier interface, not on a concrete SQL
// string builder — the seam where queries are parameterized and user input
// is never string-concatenated into SQL.
package auth

import (
	"context"
	"database/sql"

	"github.com/reactord/reactord/internal/dbpool"
)

// Verifier is the authentication side effect the HTTP parser calls after
// decoding a /register.html or /login.html form POST.
type Verifier interface {
	// Verify checks (or creates, for registration) a username/password
	// pair. isLogin selects login semantics (stored password must match)
	// versus registration semantics (username must not already exist).
	Verify(ctx context.Context, username, password string, isLogin bool) (bool, error)
}

// DBVerifier implements Verifier against a `user(username, password)`
// table, using parameterized queries exclusively.
type DBVerifier struct {
	Pool *dbpool.Pool
}

// Verify implements Verifier.
func (v *DBVerifier) Verify(ctx context.Context, username, password string, isLogin bool) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}

	scoped, err := dbpool.Acquire(v.Pool)
	if err != nil {
		return false, err
	}
	defer scoped.Release()

	conn := scoped.Conn()

	var storedPassword string
	err = conn.QueryRowContext(ctx,
		"SELECT password FROM user WHERE username = ? LIMIT 1", username,
	).Scan(&storedPassword)

	switch {
	case err == sql.ErrNoRows:
		if isLogin {
			return false, nil
		}
		_, err := conn.ExecContext(ctx,
			"INSERT INTO user(username, password) VALUES (?, ?)", username, password,
		)
		return err == nil, err
	case err != nil:
		return false, err
	default:
		if isLogin {
			return storedPassword == password, nil
		}
		// A row already exists: registration fails ("user used").
		return false, nil
	}
}

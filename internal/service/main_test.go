// file: internal/service/main_test.go
package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testKey = []byte("test-signing-key")

// newTestDB 返回已建好系统表的内存数据库
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitConsoleTables(context.Background(), db))
	return db
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	a, err := NewAuthenticator(db, testKey, time.Hour)
	require.NoError(t, err)
	return a, db
}

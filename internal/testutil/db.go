// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veo3pk/studio/internal/bootstrap"
	"github.com/veo3pk/studio/internal/migrations"
	"github.com/veo3pk/studio/internal/repository"
	sqliterepo "github.com/veo3pk/studio/internal/repository/sqlite"
)

// NewDB opens a migrated SQLite database in a temp dir that is closed on cleanup.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := bootstrap.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.UpQuiet(db))
	return db
}

// NewStore returns a repository store on a fresh database.
func NewStore(t testing.TB) *sqliterepo.Store {
	t.Helper()
	return sqliterepo.NewStore(NewDB(t))
}

var userSeq atomic.Int64

// CreateUser inserts an active user on the given plan.
func CreateUser(t testing.TB, store repository.Store, plan string, mutate ...func(*repository.User)) *repository.User {
	t.Helper()
	n := userSeq.Add(1)
	now := time.Now().Unix()
	user := &repository.User{
		UID:        fmt.Sprintf("uid-%d-%d", n, now),
		Username:   fmt.Sprintf("user%d", n),
		Email:      fmt.Sprintf("user%d@example.com", n),
		Password:   "x",
		Status:     repository.UserStatusActive,
		PlanType:   plan,
		PlanStatus: repository.PlanStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, fn := range mutate {
		fn(user)
	}
	created, err := store.Users().Create(context.Background(), user)
	require.NoError(t, err)
	return created
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "muchsync.sqlite")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	assert.NotZero(t, db.Self())
	assert.True(t, db.Self() > 0)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muchsync.sqlite")
	db1, err := Open(path)
	assert.NoError(t, err)
	self := db1.Self()
	assert.NoError(t, db1.Close())

	db2, err := Open(path)
	assert.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, self, db2.Self())
}

func TestSyncVectorSeeded(t *testing.T) {
	db := openTestDB(t)
	vv, err := db.SyncVector()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), vv[db.Self()])
}

func TestBumpIncrementsOwnVersion(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	assert.NoError(t, err)

	ws, err := db.Bump(tx)
	assert.NoError(t, err)
	assert.Equal(t, db.Self(), ws.Replica)
	assert.Equal(t, int64(2), ws.Version)
	assert.NoError(t, tx.Commit())

	vv, err := db.SyncVector()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), vv[db.Self()])
}

func TestMergeRemoteTakesMax(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.MergeRemote(tx, Writestamp{Replica: 99, Version: 5}))
	assert.NoError(t, db.MergeRemote(tx, Writestamp{Replica: 99, Version: 3}))
	assert.NoError(t, tx.Commit())

	vv, err := db.SyncVector()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), vv[99])
}

func TestWritestampLess(t *testing.T) {
	assert.True(t, Writestamp{Replica: 1, Version: 1}.Less(Writestamp{Replica: 1, Version: 2}))
	assert.True(t, Writestamp{Replica: 1, Version: 2}.Less(Writestamp{Replica: 2, Version: 2}))
	assert.False(t, Writestamp{Replica: 2, Version: 2}.Less(Writestamp{Replica: 1, Version: 2}))
}

func TestOpenRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muchsync.sqlite")
	db, err := Open(path)
	assert.NoError(t, err)
	_, err = db.Conn().Exec(`UPDATE configuration SET value = 'bogus' WHERE key = 'dbvers'`)
	assert.NoError(t, err)
	assert.NoError(t, db.Close())

	_, err = Open(path)
	assert.Error(t, err)
}

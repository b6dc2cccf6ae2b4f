package shadow

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/muchsync-go/indexer"
	"github.com/rcowham/muchsync-go/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "shadow.sqlite"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHashSyncCreatesNewRowFromPeer(t *testing.T) {
	db := openTestStore(t)
	maildir := t.TempDir()
	idx := indexer.NewFake()
	ms := NewMessageSync(db, idx, maildir, nil)

	tx, err := db.Begin()
	assert.NoError(t, err)

	remote := store.HashInfo{
		Hash:      "f572d396fae9206628714fb2ce00f72e94f2258f",
		Size:      6,
		MessageID: "m1@example.com",
		Stamp:     store.Writestamp{Replica: 42, Version: 1},
		Dirs:      map[string]int64{"cur": 1},
	}
	mutated, err := ms.HashSync(context.Background(), tx, store.VersionVector{}, remote, bytes.NewReader([]byte("hello\n")))
	assert.NoError(t, err)
	assert.True(t, mutated)
	assert.NoError(t, tx.Commit())

	entries := dumpHashes(t, db)
	assert.Len(t, entries, 1)
	assert.Equal(t, remote.Hash, entries[0])

	if _, err := os.Stat(TrashPath(maildir, remote.Hash)); err != nil {
		t.Fatalf("expected fetched content in trashdir: %v", err)
	}
}

func TestHashSyncIgnoresStaleDuplicate(t *testing.T) {
	db := openTestStore(t)
	maildir := t.TempDir()
	idx := indexer.NewFake()
	ms := NewMessageSync(db, idx, maildir, nil)
	ctx := context.Background()

	tx, _ := db.Begin()
	remote := store.HashInfo{
		Hash:  "f572d396fae9206628714fb2ce00f72e94f2258f",
		Size:  6,
		Stamp: store.Writestamp{Replica: 42, Version: 5},
		Dirs:  map[string]int64{},
	}
	mutated, err := ms.HashSync(ctx, tx, store.VersionVector{}, remote, nil)
	assert.NoError(t, err)
	assert.True(t, mutated)
	assert.NoError(t, tx.Commit())

	tx2, _ := db.Begin()
	stale := remote
	stale.Stamp = store.Writestamp{Replica: 42, Version: 3}
	mutated2, err := ms.HashSync(ctx, tx2, store.VersionVector{}, stale, nil)
	assert.NoError(t, err)
	assert.False(t, mutated2)
	assert.NoError(t, tx2.Commit())
}

func TestTagSyncReplacesSetWholesaleOnWin(t *testing.T) {
	db := openTestStore(t)
	maildir := t.TempDir()
	idx := indexer.NewFake()
	ms := NewMessageSync(db, idx, maildir, nil)
	ctx := context.Background()

	tx, _ := db.Begin()
	first := store.TagInfo{
		MessageID: "m1@example.com",
		Stamp:     store.Writestamp{Replica: 1, Version: 1},
		Tags:      map[string]struct{}{"inbox": {}},
	}
	mutated, err := ms.TagSync(ctx, tx, store.VersionVector{}, first)
	assert.NoError(t, err)
	assert.True(t, mutated)
	assert.NoError(t, tx.Commit())

	tx2, _ := db.Begin()
	second := store.TagInfo{
		MessageID: "m1@example.com",
		Stamp:     store.Writestamp{Replica: 2, Version: 1},
		Tags:      map[string]struct{}{"archive": {}},
	}
	mutated2, err := ms.TagSync(ctx, tx2, store.VersionVector{}, second)
	assert.NoError(t, err)
	assert.True(t, mutated2)
	assert.NoError(t, tx2.Commit())

	tags, err := idx.Tags(ctx, "m1@example.com")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"archive"}, tags)
}

func dumpHashes(t *testing.T, db *store.DB) []string {
	t.Helper()
	rows, err := db.Conn().Query(`SELECT hash FROM maildir_hashes`)
	assert.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		assert.NoError(t, rows.Scan(&h))
		out = append(out, h)
	}
	return out
}

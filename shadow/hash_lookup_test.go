package shadow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/muchsync-go/store"
)

func TestTrashPathIsHashSharded(t *testing.T) {
	p := TrashPath("/home/u/Maildir", "f572d396fae9206628714fb2ce00f72e94f2258f")
	assert.Equal(t, filepath.Join("/home/u/Maildir", ".muchsync/trash/f5/72d396fae9206628714fb2ce00f72e94f2258f"), p)
}

func TestVerifyTrashContentAcceptsMatch(t *testing.T) {
	maildir := t.TempDir()
	hash := "f572d396fae9206628714fb2ce00f72e94f2258f"
	path := TrashPath(maildir, hash)
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	assert.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o600))

	ok, err := VerifyTrashContent(maildir, hash)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyTrashContentDeletesOnMismatch(t *testing.T) {
	maildir := t.TempDir()
	hash := "f572d396fae9206628714fb2ce00f72e94f2258f"
	path := TrashPath(maildir, hash)
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	assert.NoError(t, os.WriteFile(path, []byte("wrong content"), 0o600))

	ok, err := VerifyTrashContent(maildir, hash)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVerifyTrashContentMissingFileIsNotAnError(t *testing.T) {
	maildir := t.TempDir()
	ok, err := VerifyTrashContent(maildir, "f572d396fae9206628714fb2ce00f72e94f2258f")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResolvePathnameRejectsTrashFileWithWrongHash(t *testing.T) {
	maildir := t.TempDir()
	hash := "f572d396fae9206628714fb2ce00f72e94f2258f" // sha1("hello\n")
	trash := TrashPath(maildir, hash)
	assert.NoError(t, os.MkdirAll(filepath.Dir(trash), 0o700))
	// Right size (6 bytes), wrong content: same length as "hello\n" but a
	// different hash, so the size check alone would not catch it.
	assert.NoError(t, os.WriteFile(trash, []byte("bogus!"), 0o600))

	h := NewHashLookup(nil, maildir)
	h.ok = true
	h.info = store.HashInfo{Hash: hash, Size: 6}

	path, fromTrash, ok := h.ResolvePathname()
	assert.False(t, ok)
	assert.False(t, fromTrash)
	assert.Empty(t, path)

	_, statErr := os.Stat(trash)
	assert.True(t, os.IsNotExist(statErr), "corrupted trash file must be unlinked")
}

func TestResolvePathnameAcceptsTrashFileWithMatchingHash(t *testing.T) {
	maildir := t.TempDir()
	hash := "f572d396fae9206628714fb2ce00f72e94f2258f" // sha1("hello\n")
	trash := TrashPath(maildir, hash)
	assert.NoError(t, os.MkdirAll(filepath.Dir(trash), 0o700))
	assert.NoError(t, os.WriteFile(trash, []byte("hello\n"), 0o600))

	h := NewHashLookup(nil, maildir)
	h.ok = true
	h.info = store.HashInfo{Hash: hash, Size: 6}

	path, fromTrash, ok := h.ResolvePathname()
	assert.True(t, ok)
	assert.True(t, fromTrash)
	assert.Equal(t, trash, path)
}

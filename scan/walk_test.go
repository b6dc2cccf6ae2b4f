package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeMessage(t *testing.T, path string) {
	t.Helper()
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte("From: a@b\n\nhi"), 0o644))
}

func TestWalkFindsMessagesInCurAndNew(t *testing.T) {
	root := t.TempDir()
	writeMessage(t, filepath.Join(root, "inbox", "cur", "1:2,S"))
	writeMessage(t, filepath.Join(root, "inbox", "new", "2"))
	assert.NoError(t, os.MkdirAll(filepath.Join(root, "inbox", "tmp"), 0o755))

	files, _, err := Walk(root, nil)
	assert.NoError(t, err)
	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join("inbox", "cur", "1:2,S"),
		filepath.Join("inbox", "new", "2"),
	}, rels)
}

func TestWalkSkipsDotfilesAndTmp(t *testing.T) {
	root := t.TempDir()
	writeMessage(t, filepath.Join(root, "inbox", "cur", ".nfs0001"))
	writeMessage(t, filepath.Join(root, "inbox", "tmp", "inprogress"))

	files, _, err := Walk(root, nil)
	assert.NoError(t, err)
	assert.Empty(t, files)
}

func TestWalkRecordsInodeAndSize(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "inbox", "cur", "1:2,S")
	writeMessage(t, p)

	files, _, err := Walk(root, nil)
	assert.NoError(t, err)
	assert.Len(t, files, 1)
	assert.NotZero(t, files[0].Inode)
	assert.Equal(t, int64(len("From: a@b\n\nhi")), files[0].Size)
}

func TestWalkPrunesDirectoriesSkipDirApproves(t *testing.T) {
	root := t.TempDir()
	writeMessage(t, filepath.Join(root, "inbox", "cur", "1:2,S"))
	writeMessage(t, filepath.Join(root, "archive", "cur", "2:2,S"))

	skip := func(rel string) bool { return rel == filepath.Join("inbox", "cur") }
	files, skipped, err := Walk(root, skip)
	assert.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("inbox", "cur")}, skipped)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
	}
	assert.ElementsMatch(t, []string{filepath.Join("archive", "cur", "2:2,S")}, rels)
}

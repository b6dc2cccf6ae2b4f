package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileEntry is one message file discovered during a maildir walk.
type FileEntry struct {
	// RelPath is the path relative to the maildir root, e.g.
	// "inbox/cur/1234:2,S".
	RelPath string
	Inode   uint64
	MTime   int64 // Unix nanoseconds
	Size    int64
}

// Walk performs the logical maildir traversal described in the spec:
// descend only into directories that are or contain message directories,
// treat "cur" and "new" tails as message directories whose non-dotfile
// entries are messages, and prune subtrees a hard-link count heuristic
// says are childless. Grounded on maildir.cc's foreach_msg.
//
// skipDir, if non-nil, is consulted for every "cur" or "new" directory
// (given its path relative to root) before descending into it; a true
// result prunes the directory entirely without reading its entries, the
// same directory-mtime fast path maildir.cc's scan_maildir uses to skip
// an unchanged message directory. The relative paths of every directory
// skipped this way are returned alongside the discovered files, so a
// caller relying on the previous scan's record of that directory's
// contents knows which directories it must trust rather than diff.
func Walk(root string, skipDir func(rel string) bool) ([]FileEntry, []string, error) {
	var out []FileEntry
	var skipped []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if shouldPruneDir(path) {
				return filepath.SkipDir
			}
			base := filepath.Base(path)
			if (base == "cur" || base == "new") && skipDir != nil && skipDir(rel) {
				skipped = append(skipped, rel)
				return filepath.SkipDir
			}
			return nil
		}

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		if !inMessageDir(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		inode, mtime := statInodeMtime(info)
		out = append(out, FileEntry{
			RelPath: rel,
			Inode:   inode,
			MTime:   mtime,
			Size:    info.Size(),
		})
		return nil
	})
	return out, skipped, err
}

// inMessageDir reports whether rel names a file directly inside a "cur"
// or "new" directory -- tmp and anything else is not a message location.
func inMessageDir(rel string) bool {
	parent := filepath.Base(filepath.Dir(rel))
	return parent == "cur" || parent == "new"
}

// shouldPruneDir applies the hard-link heuristic: a directory whose
// link count is at most 2 (itself and its own "." entry, no
// subdirectories contributing ".." links) has no subdirectories left to
// visit and can be skipped without a read.
func shouldPruneDir(path string) bool {
	base := filepath.Base(path)
	if base == "cur" || base == "new" || base == "tmp" {
		return false
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return true
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return st.Nlink <= 2
}

func statInodeMtime(info fs.FileInfo) (inode uint64, mtimeNanos int64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, info.ModTime().UnixNano()
	}
	return st.Ino, info.ModTime().UnixNano()
}

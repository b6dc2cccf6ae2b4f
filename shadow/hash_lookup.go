// Package shadow implements the three read/write facades the spec calls
// out as the Shadow Model's public surface -- HashLookup, TagLookup, and
// MessageSync -- over the tables store.Open creates. Grounded
// statement-for-statement on sql_db.cc's hash_lookup/tag_lookup/msg_sync
// classes: each prepared statement there becomes an inline parameterized
// query here.
package shadow

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/rcowham/muchsync-go/hashsum"
	"github.com/rcowham/muchsync-go/store"
)

// trashRelPath is the hash-sharded retention area under the maildir root,
// mirroring muchsync_trashdir in the original.
const trashRelPath = ".muchsync/trash"

// HashLookup answers "what do we know about this content hash" and
// resolves a hash back to a live path on disk, falling back to the
// trashdir the way get_pathname does in sql_db.cc.
type HashLookup struct {
	db      *store.DB
	maildir string

	ok     bool
	hashID int64
	info   store.HashInfo
	links  []link
	docID  int64
}

type link struct {
	dir, name string
	docID     int64
}

// NewHashLookup returns a HashLookup rooted at maildir, backed by db.
func NewHashLookup(db *store.DB, maildir string) *HashLookup {
	return &HashLookup{db: db, maildir: maildir}
}

// Lookup loads the row for hash, the same two-statement sequence
// (gethash_, getlinks_) hash_lookup::lookup runs in the original. It
// reports whether a row was found.
func (h *HashLookup) Lookup(tx *sql.Tx, hash string) (bool, error) {
	h.ok = false
	row := tx.QueryRow(`
		SELECT hash_id, size, message_id, replica, version
		FROM maildir_hashes WHERE hash = ?`, hash)
	var msgid sql.NullString
	var hashID, size, replica, version sql.NullInt64
	if err := row.Scan(&hashID, &size, &msgid, &replica, &version); err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "looking up hash")
	}

	h.hashID = hashID.Int64
	h.info = store.HashInfo{
		Hash:      hash,
		Size:      size.Int64,
		MessageID: msgid.String,
		Stamp:     store.Writestamp{Replica: replica.Int64, Version: version.Int64},
		Dirs:      make(map[string]int64),
	}

	rows, err := tx.Query(`
		SELECT xapian_dirs.dir_path, xapian_files.name, xapian_files.docid
		FROM xapian_files JOIN xapian_dirs USING (dir_docid)
		WHERE xapian_files.hash_id = ?`, h.hashID)
	if err != nil {
		return false, errors.Wrap(err, "looking up hash links")
	}
	defer rows.Close()

	h.links = nil
	h.docID = -1
	for rows.Next() {
		var l link
		var docID sql.NullInt64
		if err := rows.Scan(&l.dir, &l.name, &docID); err != nil {
			return false, err
		}
		l.docID = docID.Int64
		h.info.Dirs[l.dir]++
		h.links = append(h.links, l)
		if h.docID == -1 {
			h.docID = l.docID
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	h.ok = true
	return true, nil
}

// Create inserts a brand-new hash row, the Go analogue of
// hash_lookup::create.
func (h *HashLookup) Create(tx *sql.Tx, info store.HashInfo) error {
	h.ok = false
	res, err := tx.Exec(`
		INSERT INTO maildir_hashes (hash, size, message_id, replica, version)
		VALUES (?, ?, ?, ?, ?)`,
		info.Hash, info.Size, info.MessageID, info.Stamp.Replica, info.Stamp.Version)
	if err != nil {
		return errors.Wrap(err, "creating hash row")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "reading new hash row id")
	}
	h.hashID = id
	h.info = info
	h.info.Dirs = map[string]int64{}
	h.links = nil
	h.ok = true
	return nil
}

// Ok reports whether the last Lookup/Create succeeded.
func (h *HashLookup) Ok() bool { return h.ok }

// HashID returns the surrogate key of the currently loaded row.
func (h *HashLookup) HashID() int64 { return h.hashID }

// Info returns the currently loaded hash row.
func (h *HashLookup) Info() store.HashInfo { return h.info }

// NLinks returns how many (dir, name) links are currently recorded.
func (h *HashLookup) NLinks() int { return len(h.links) }

func (h *HashLookup) linkPath(i int) string {
	l := h.links[i]
	return filepath.Join(h.maildir, l.dir, l.name)
}

// ResolvePathname finds a readable path for the loaded hash: the first
// recorded link whose file exists with the right size wins; failing
// that, the trashdir copy is tried, verified by size and recomputed
// hash, and returned marked fromTrash. A size or hash mismatch unlinks
// the trash file and fails the lookup rather than handing back content
// that doesn't match what the shadow database thinks it is. Grounded on
// hash_lookup::get_pathname.
func (h *HashLookup) ResolvePathname() (path string, fromTrash bool, ok bool) {
	for i := range h.links {
		p := h.linkPath(i)
		fi, err := os.Stat(p)
		if err == nil && fi.Mode().IsRegular() && fi.Size() == h.info.Size {
			return p, false, true
		}
	}

	trash := TrashPath(h.maildir, h.info.Hash)
	fi, err := os.Stat(trash)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false, false
	}
	if fi.Size() != h.info.Size {
		os.Remove(trash)
		return "", false, false
	}
	valid, err := VerifyTrashContent(h.maildir, h.info.Hash)
	if err != nil || !valid {
		return "", false, false
	}
	return trash, true, true
}

// TrashPath returns the hash-sharded trashdir path for hash under
// maildir: <maildir>/.muchsync/trash/<hash[0:2]>/<hash[2:]>.
func TrashPath(maildir, hash string) string {
	return filepath.Join(maildir, trashRelPath, hash[:2], hash[2:])
}

// VerifyTrashContent re-hashes the trashdir copy of hash and deletes it
// on mismatch, returning whether it is trustworthy.
func VerifyTrashContent(maildir, hash string) (bool, error) {
	path := TrashPath(maildir, hash)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	sum, err := hashsum.File(f)
	if err != nil {
		return false, err
	}
	if sum != hash {
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

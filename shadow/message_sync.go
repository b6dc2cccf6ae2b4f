package shadow

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/muchsync-go/hashsum"
	"github.com/rcowham/muchsync-go/indexer"
	"github.com/rcowham/muchsync-go/store"
)

// MessageSync is the write facade the protocol engine drives: it takes a
// peer's hash-info or tag-info record, applies the conflict-resolution
// rule, and performs whatever filesystem/indexer/store mutation follows.
// Grounded on sql_db.cc's msg_sync class.
type MessageSync struct {
	db      *store.DB
	idx     indexer.Bridge
	maildir string
	log     *logrus.Logger

	hash *HashLookup
	tag  *TagLookup
}

// NewMessageSync returns a MessageSync over db, reconciling against idx
// and the maildir tree rooted at maildir.
func NewMessageSync(db *store.DB, idx indexer.Bridge, maildir string, log *logrus.Logger) *MessageSync {
	if log == nil {
		log = logrus.New()
	}
	return &MessageSync{
		db:      db,
		idx:     idx,
		maildir: maildir,
		log:     log,
		hash:    NewHashLookup(db, maildir),
		tag:     NewTagLookup(),
	}
}

// HashSync reconciles one incoming hash-info against the local model.
// source, if non-nil, supplies the message's bytes when the local
// replica does not already have a copy under any live link or in the
// trashdir; it is verified against remote.Hash and remote.Size before
// being trusted. Reports whether anything was mutated.
func (m *MessageSync) HashSync(ctx context.Context, tx *sql.Tx, remoteVV store.VersionVector, remote store.HashInfo, source io.Reader) (bool, error) {
	found, err := m.hash.Lookup(tx, remote.Hash)
	if err != nil {
		return false, errors.Wrap(err, "hash_sync: lookup")
	}

	var local store.Writestamp
	if found {
		local = m.hash.Info().Stamp
	}
	if !resolveWritestamp(remoteVV, local, found, remote.Stamp) {
		m.log.Debugf("hash_sync: %s stale or loses tie-break, ignoring", remote.Hash)
		return false, nil
	}

	if !found {
		if err := m.hash.Create(tx, store.HashInfo{
			Hash:      remote.Hash,
			Size:      remote.Size,
			MessageID: remote.MessageID,
			Stamp:     remote.Stamp,
		}); err != nil {
			return false, errors.Wrap(err, "hash_sync: create")
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE maildir_hashes SET size = ?, message_id = ?, replica = ?, version = ?
			WHERE hash_id = ?`,
			remote.Size, remote.MessageID, remote.Stamp.Replica, remote.Stamp.Version, m.hash.HashID()); err != nil {
			return false, errors.Wrap(err, "hash_sync: update")
		}
	}

	if err := m.ensureContent(remote, source); err != nil {
		return false, err
	}

	if err := m.reconcileLinks(ctx, tx, remote); err != nil {
		return false, errors.Wrap(err, "hash_sync: reconcile links")
	}

	return true, nil
}

// ensureContent guarantees a readable copy of remote's bytes exists
// either under a live link or the trashdir, fetching from source if
// necessary. Grounded on the content-fetch behavior of §4.4: write to a
// temp file, fsync, rename into the trashdir path, verify hash and size.
func (m *MessageSync) ensureContent(remote store.HashInfo, source io.Reader) error {
	if _, _, found := m.hash.ResolvePathname(); found {
		return nil
	}
	if source == nil {
		return nil
	}

	trash := TrashPath(m.maildir, remote.Hash)
	if err := os.MkdirAll(filepath.Dir(trash), 0o700); err != nil {
		return errors.Wrap(err, "creating trashdir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(trash), ".muchsync-fetch-*")
	if err != nil {
		return errors.Wrap(err, "creating temp fetch file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := hashsum.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), source)
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing fetched content")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsyncing fetched content")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing fetched content")
	}

	sum := h.Sum()
	if sum != remote.Hash || n != remote.Size {
		return fmt.Errorf("fetched content for %s failed verification (got hash %s, %d bytes)", remote.Hash, sum, n)
	}
	if err := os.Rename(tmpPath, trash); err != nil {
		return errors.Wrap(err, "renaming fetched content into trashdir")
	}
	return nil
}

// reconcileLinks brings the xapian_files/xapian_nlinks rows for this hash
// in line with remote.Dirs (a dir -> link-count map): directories whose
// count increased gain synthesized links backed by the trashdir/live
// copy; directories no longer present lose theirs. The wire format only
// carries per-directory counts, not exact filenames, so a link added
// here is named deterministically from the hash.
func (m *MessageSync) reconcileLinks(ctx context.Context, tx *sql.Tx, remote store.HashInfo) error {
	current := m.hash.Info().Dirs

	for dir, count := range remote.Dirs {
		if current[dir] == count {
			continue
		}
		docID, err := m.ensureLinkedFile(ctx, tx, dir, remote)
		if err != nil {
			return err
		}
		if err := m.setLinkCount(tx, m.hash.HashID(), dir, count, docID); err != nil {
			return err
		}
	}
	for dir := range current {
		if _, want := remote.Dirs[dir]; want {
			continue
		}
		if err := m.removeLinks(ctx, tx, dir, remote); err != nil {
			return err
		}
	}
	return nil
}

func (m *MessageSync) linkName(remote store.HashInfo) string {
	return remote.Hash[:16] + ":2,"
}

func (m *MessageSync) ensureLinkedFile(ctx context.Context, tx *sql.Tx, dir string, remote store.HashInfo) (int64, error) {
	name := m.linkName(remote)
	fullDir := filepath.Join(m.maildir, dir)
	if err := os.MkdirAll(fullDir, 0o700); err != nil {
		return 0, errors.Wrap(err, "creating maildir subdirectory")
	}
	dest := filepath.Join(fullDir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		src, _, ok := m.hash.ResolvePathname()
		if ok {
			if err := linkOrCopy(src, dest); err != nil {
				return 0, errors.Wrap(err, "materializing link")
			}
		}
	}
	return m.idx.AddFile(ctx, dest)
}

func (m *MessageSync) removeLinks(ctx context.Context, tx *sql.Tx, dir string, remote store.HashInfo) error {
	rows, err := tx.Query(`
		SELECT xapian_files.name, xapian_dirs.dir_docid
		FROM xapian_files JOIN xapian_dirs USING (dir_docid)
		WHERE xapian_files.hash_id = ? AND xapian_dirs.dir_path = ?`, m.hash.HashID(), dir)
	if err != nil {
		return err
	}
	var names []string
	var dirDocID int64
	for rows.Next() {
		var name string
		if err := rows.Scan(&name, &dirDocID); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		path := filepath.Join(m.maildir, dir, name)
		if err := m.idx.RemoveFile(ctx, path); err != nil {
			return err
		}
		os.Remove(path)
	}
	if _, err := tx.Exec(`DELETE FROM xapian_nlinks WHERE hash_id = ? AND dir_docid = ?`, m.hash.HashID(), dirDocID); err != nil {
		return err
	}
	return nil
}

func (m *MessageSync) setLinkCount(tx *sql.Tx, hashID int64, dir string, count, docID int64) error {
	dirDocID, err := m.dirDocID(tx, dir)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO xapian_nlinks (hash_id, dir_docid, link_count) VALUES (?, ?, ?)
		ON CONFLICT (hash_id, dir_docid) DO UPDATE SET link_count = excluded.link_count`,
		hashID, dirDocID, count)
	return err
}

func (m *MessageSync) dirDocID(tx *sql.Tx, dir string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT dir_docid FROM xapian_dirs WHERE dir_path = ?`, dir).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.Exec(`INSERT INTO xapian_dirs (dir_path, dir_mtime) VALUES (?, 0)`, dir)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	return id, err
}

// TagSync reconciles one incoming tag-info against the local model,
// applying the same conflict-resolution rule as HashSync but replacing
// the tag set wholesale (no element-wise union) on the losing side.
func (m *MessageSync) TagSync(ctx context.Context, tx *sql.Tx, remoteVV store.VersionVector, remote store.TagInfo) (bool, error) {
	found, err := m.tag.Lookup(tx, remote.MessageID)
	if err != nil {
		return false, errors.Wrap(err, "tag_sync: lookup")
	}

	var local store.Writestamp
	if found {
		local = m.tag.Info().Stamp
	}
	if !resolveWritestamp(remoteVV, local, found, remote.Stamp) {
		m.log.Debugf("tag_sync: %s stale or loses tie-break, ignoring", remote.MessageID)
		return false, nil
	}

	tags := make([]string, 0, len(remote.Tags))
	for t := range remote.Tags {
		tags = append(tags, t)
	}
	if err := m.idx.SetTags(ctx, remote.MessageID, tags); err != nil {
		return false, errors.Wrap(err, "tag_sync: updating indexer")
	}

	if !found {
		if _, err := tx.Exec(`
			INSERT INTO message_ids (message_id, docid, replica, version)
			VALUES (?, (SELECT COALESCE(MAX(docid), 0) + 1 FROM message_ids), ?, ?)`,
			remote.MessageID, remote.Stamp.Replica, remote.Stamp.Version); err != nil {
			return false, errors.Wrap(err, "tag_sync: inserting message id")
		}
		if _, err := m.tag.Lookup(tx, remote.MessageID); err != nil {
			return false, errors.Wrap(err, "tag_sync: reloading after insert")
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE message_ids SET replica = ?, version = ? WHERE message_id = ?`,
			remote.Stamp.Replica, remote.Stamp.Version, remote.MessageID); err != nil {
			return false, errors.Wrap(err, "tag_sync: updating writestamp")
		}
	}

	docID := m.tag.DocID()
	if _, err := tx.Exec(`DELETE FROM tags WHERE docid = ?`, docID); err != nil {
		return false, errors.Wrap(err, "tag_sync: clearing tags")
	}
	for _, t := range tags {
		if _, err := tx.Exec(`INSERT INTO tags (tag, docid) VALUES (?, ?)`, t, docID); err != nil {
			return false, errors.Wrap(err, "tag_sync: inserting tag")
		}
	}
	return true, nil
}

// linkOrCopy tries a hard link first (the cheap, identity-preserving
// path) and falls back to a copy across filesystem boundaries.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Package scan reconstructs the Shadow Model from the filesystem and the
// indexer, detecting additions, deletions, renames, and tag edits with
// minimum re-hashing. Grounded on maildir.cc's foreach_msg/scan_maildir
// and xapian_sync.cc's sync_table merge-join.
package scan

import (
	"context"
	"database/sql"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/alitto/pond"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/muchsync-go/hashsum"
	"github.com/rcowham/muchsync-go/indexer"
	"github.com/rcowham/muchsync-go/store"
)

// stamper hands out this scan's single local writestamp, bumping the
// sync vector at most once no matter how many rows end up changed --
// the Go expression of "one bump covers the whole scan atomically".
type stamper struct {
	db     *store.DB
	tx     *sql.Tx
	cached *store.Writestamp
}

func (st *stamper) get() (store.Writestamp, error) {
	if st.cached != nil {
		return *st.cached, nil
	}
	ws, err := st.db.Bump(st.tx)
	if err != nil {
		return store.Writestamp{}, err
	}
	st.cached = &ws
	return ws, nil
}

// Options tunes one scan run.
type Options struct {
	// FullScan disables the candidate pre-filter and re-examines every
	// file's metadata. The pre-filter compares only a file's mtime with
	// last_scan; ctime is not consulted.
	FullScan bool
	// TrustInode skips the re-hash-on-disagreement fallback and trusts a
	// metadata-only (inode, mtime, size) match outright. Without it, such
	// a match is still re-hashed and compared to the recorded hash
	// before being trusted, per the Design Notes' trust-the-inode option.
	TrustInode bool
}

// Scanner walks one maildir tree and reconciles store and idx against
// it and against each other.
type Scanner struct {
	db      *store.DB
	idx     indexer.Bridge
	maildir string
	log     *logrus.Logger
	opts    Options
}

// New returns a Scanner. A nil logger gets a default one at info level.
func New(db *store.DB, idx indexer.Bridge, maildir string, log *logrus.Logger, opts Options) *Scanner {
	if log == nil {
		log = logrus.New()
	}
	return &Scanner{db: db, idx: idx, maildir: maildir, log: log, opts: opts}
}

// Scan runs one full scan: maildir walk and per-file staleness test,
// indexer shadow sync, link-count reconciliation, all inside one
// transaction, stamped with a single new local writestamp if and only if
// something actually changed. Reports whether anything was mutated.
func (s *Scanner) Scan(ctx context.Context) (bool, error) {
	startedAt := time.Now()
	lastScanStr, err := s.db.GetConfig("last_scan")
	if err != nil {
		return false, errors.Wrap(err, "reading last_scan")
	}
	var lastScan time.Time
	if lastScanStr != "" {
		if t, perr := time.Parse(time.RFC3339Nano, lastScanStr); perr == nil {
			lastScan = t
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, errors.Wrap(err, "beginning scan transaction")
	}
	mutated := false
	st := &stamper{db: s.db, tx: tx}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	dirMTimes, derr := s.loadDirMTimes(tx)
	if derr != nil {
		err = derr
		return false, err
	}
	skipDir := func(rel string) bool {
		if s.opts.FullScan || lastScan.IsZero() {
			return false
		}
		known, ok := dirMTimes[rel]
		if !ok || known == 0 {
			return false
		}
		fi, serr := os.Stat(fullPath(s.maildir, rel))
		if serr != nil {
			return false
		}
		return fi.ModTime().UnixNano() == known
	}

	files, skippedDirs, werr := Walk(s.maildir, skipDir)
	if werr != nil {
		err = errors.Wrap(werr, "walking maildir")
		return false, err
	}

	hashesChanged, serr := s.syncFiles(ctx, tx, st, files, skippedDirs, lastScan)
	if serr != nil {
		err = serr
		return false, err
	}
	mutated = mutated || hashesChanged

	indexChanged, serr := s.syncIndexer(ctx, tx, st)
	if serr != nil {
		err = serr
		return false, err
	}
	mutated = mutated || indexChanged

	if mutated {
		// Guarantees the bump even when every change this scan made
		// (a pure rename, a link-count shuffle) happened to touch no
		// row that itself carries a writestamp column; st.get() is a
		// no-op if upsertHash or syncIndexer already bumped.
		if _, berr := st.get(); berr != nil {
			err = berr
			return false, err
		}
	}
	if serr := s.db.SetConfig(tx, "last_scan", startedAt.Format(time.RFC3339Nano)); serr != nil {
		err = serr
		return false, err
	}

	if cerr := tx.Commit(); cerr != nil {
		err = cerr
		return false, err
	}
	return mutated, nil
}

// cachedFile is the previously recorded state of one (dir, name) slot.
type cachedFile struct {
	dirDocID int64
	hashID   int64
	hash     string
	inode    int64
	mtime    float64
	size     int64
}

// syncFiles applies the three-step per-file staleness test from §4.3 to
// every discovered file, dispatching re-hashes to a bounded worker pool
// sized max(2, NumCPU), drained before returning (and therefore well
// before the caller commits), mirroring the original's work_queue usage
// and the teacher's pool.Submit/StopAndWait discipline.
func (s *Scanner) syncFiles(ctx context.Context, tx *sql.Tx, st *stamper, files []FileEntry, skippedDirs []string, lastScan time.Time) (bool, error) {
	cache, err := s.loadFileCache(tx)
	if err != nil {
		return false, err
	}
	byInodeSizeMTime := make(map[[3]int64]*cachedFile, len(cache))
	for _, c := range cache {
		byInodeSizeMTime[[3]int64{c.inode, int64(c.mtime), c.size}] = c
	}

	present := make(map[fileKey]struct{}, len(files))
	for _, f := range files {
		dir, name := splitRelPath(f.RelPath)
		present[fileKey{dir, name}] = struct{}{}
	}
	// A skipped directory's unchanged mtime guarantees nothing inside it
	// was added, removed, or renamed since the last scan, so every slot
	// the cache already knows about there is trusted present without a
	// diff against a (never-collected) file list.
	for _, dir := range skippedDirs {
		for key := range cache {
			if key.dir == dir {
				present[key] = struct{}{}
			}
		}
	}
	deleted := false
	for key := range cache {
		if _, ok := present[key]; ok {
			continue
		}
		if err := s.removeFile(tx, key.dir, key.name); err != nil {
			return false, err
		}
		deleted = true
	}

	poolSize := runtime.NumCPU()
	if poolSize < 2 {
		poolSize = 2
	}
	pool := pond.New(poolSize, 0, pond.MinWorkers(1))

	type hashResult struct {
		rel     string
		hash    string
		oldHash string
		err     error
	}
	results := make(chan hashResult, len(files))
	mutated := false

	for _, f := range files {
		dir, name := splitRelPath(f.RelPath)
		key, hasCache := cache[fileKey{dir, name}]

		if !s.opts.FullScan && !lastScan.IsZero() {
			// Fast-scan candidate filter: only files touched since the
			// last scan are worth re-examining at all.
			if hasCache && time.Unix(0, f.MTime).Before(lastScan) {
				continue
			}
		}

		if hasCache && key.inode == int64(f.Inode) && key.mtime == float64(f.MTime) && key.size == f.Size {
			if s.opts.TrustInode {
				// Step 1: cache hit, existing hash reused, no re-hash.
				continue
			}
			// Without TrustInode, a matching (inode, mtime, size) is
			// still only a candidate: it gets re-hashed and the result
			// is compared against the recorded hash before being
			// trusted, since inode reuse or coarse mtime resolution can
			// produce a false match.
			path := f.RelPath
			full := fullPath(s.maildir, path)
			oldHash := key.hash
			pool.Submit(func() {
				fh, err := os.Open(full)
				if err != nil {
					results <- hashResult{rel: path, err: err}
					return
				}
				defer fh.Close()
				sum, err := hashsum.File(fh)
				results <- hashResult{rel: path, hash: sum, oldHash: oldHash, err: err}
			})
			continue
		}

		if renamed, ok := byInodeSizeMTime[[3]int64{int64(f.Inode), int64(float64(f.MTime)), f.Size}]; ok && !hasRenameAmbiguity(cache, f) {
			// Step 2: unique (inode, mtime, size) match elsewhere:
			// treat as a hard-link/rename, reuse that hash, just
			// rewrite the file-in-dir row.
			if err := s.recordFile(tx, dir, name, f, renamed.hashID); err != nil {
				return false, err
			}
			mutated = true
			continue
		}

		// Step 3: re-hash.
		path := f.RelPath
		full := fullPath(s.maildir, path)
		pool.Submit(func() {
			fh, err := os.Open(full)
			if err != nil {
				results <- hashResult{rel: path, err: err}
				return
			}
			defer fh.Close()
			sum, err := hashsum.File(fh)
			results <- hashResult{rel: path, hash: sum, err: err}
		})
	}
	pool.StopAndWait()
	close(results)

	for r := range results {
		if r.err != nil {
			s.log.WithError(r.err).Warnf("scan: skipping unreadable file %s", r.rel)
			continue
		}
		if r.oldHash != "" && r.oldHash == r.hash {
			// Metadata-match candidate confirmed unchanged; nothing to
			// record.
			continue
		}
		dir, name := splitRelPath(r.rel)
		var f FileEntry
		for _, cand := range files {
			if cand.RelPath == r.rel {
				f = cand
				break
			}
		}
		hashID, changed, err := s.upsertHash(tx, st, r.hash, f.Size)
		if err != nil {
			return false, err
		}
		if err := s.recordFile(tx, dir, name, f, hashID); err != nil {
			return false, err
		}
		mutated = mutated || changed || r.oldHash != ""
	}

	if err := s.recordDirMTimes(tx, files); err != nil {
		return false, err
	}

	linksChanged, err := s.reconcileLinkCounts(tx)
	if err != nil {
		return false, err
	}
	return mutated || deleted || linksChanged, nil
}

// recordDirMTimes snapshots the current mtime of every "cur"/"new"
// directory that was actually walked this scan, so a later scan's
// skipDir check (see Scan) can trust the directory's contents without
// re-reading it as long as that mtime hasn't moved. Directories pruned
// this scan via skipDir are, by construction, absent from files and so
// keep whatever dir_mtime they already carry.
func (s *Scanner) recordDirMTimes(tx *sql.Tx, files []FileEntry) error {
	seen := make(map[string]struct{})
	for _, f := range files {
		dir, _ := splitRelPath(f.RelPath)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}

		fi, err := os.Stat(fullPath(s.maildir, dir))
		if err != nil {
			continue
		}
		dirDocID, err := s.dirDocID(tx, dir)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE xapian_dirs SET dir_mtime = ? WHERE dir_docid = ?`,
			fi.ModTime().UnixNano(), dirDocID); err != nil {
			return errors.Wrap(err, "recording directory mtime")
		}
	}
	return nil
}

// loadDirMTimes returns the last-recorded mtime for every known
// directory, keyed by dir_path, for Scan's skipDir fast path.
func (s *Scanner) loadDirMTimes(tx *sql.Tx) (map[string]int64, error) {
	rows, err := tx.Query(`SELECT dir_path, dir_mtime FROM xapian_dirs`)
	if err != nil {
		return nil, errors.Wrap(err, "loading directory mtimes")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var dir string
		var mtime sql.NullInt64
		if err := rows.Scan(&dir, &mtime); err != nil {
			return nil, err
		}
		out[dir] = mtime.Int64
	}
	return out, rows.Err()
}

// removeFile drops a file-in-dir row for a message no longer present on
// disk, the scan-side counterpart to the indexer merge-join deletes in
// syncMessageIDs: xapian_files rows don't persist once maildir.cc's
// foreach_msg stops seeing the path.
func (s *Scanner) removeFile(tx *sql.Tx, dir, name string) error {
	dirDocID, err := s.dirDocID(tx, dir)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM xapian_files WHERE dir_docid = ? AND name = ?`, dirDocID, name)
	return errors.Wrap(err, "removing deleted file-in-dir row")
}

// hasRenameAmbiguity reports whether more than one cached row shares f's
// (inode, mtime, size), so that a metadata match is not unique.
func hasRenameAmbiguity(cache map[fileKey]*cachedFile, f FileEntry) bool {
	n := 0
	for _, c := range cache {
		if c.inode == int64(f.Inode) && c.mtime == float64(f.MTime) && c.size == f.Size {
			n++
		}
	}
	return n > 1
}

type fileKey struct {
	dir, name string
}

func (s *Scanner) loadFileCache(tx *sql.Tx) (map[fileKey]*cachedFile, error) {
	rows, err := tx.Query(`
		SELECT xapian_dirs.dir_path, xapian_files.name, xapian_files.dir_docid,
		       xapian_files.hash_id, maildir_hashes.hash, xapian_files.inode,
		       xapian_files.mtime, maildir_hashes.size
		FROM xapian_files
		JOIN xapian_dirs USING (dir_docid)
		LEFT JOIN maildir_hashes ON maildir_hashes.hash_id = xapian_files.hash_id`)
	if err != nil {
		return nil, errors.Wrap(err, "loading file cache")
	}
	defer rows.Close()

	out := make(map[fileKey]*cachedFile)
	for rows.Next() {
		var dir, name string
		var c cachedFile
		var inode, hashID sql.NullInt64
		var hash sql.NullString
		var mtime sql.NullFloat64
		var size sql.NullInt64
		if err := rows.Scan(&dir, &name, &c.dirDocID, &hashID, &hash, &inode, &mtime, &size); err != nil {
			return nil, err
		}
		c.hashID = hashID.Int64
		c.hash = hash.String
		c.inode = inode.Int64
		c.mtime = mtime.Float64
		c.size = size.Int64
		out[fileKey{dir, name}] = &c
	}
	return out, rows.Err()
}

// upsertHash creates or updates a maildir_hashes row for sum, stamping it
// with this scan's single shared writestamp whenever the row is new or
// its size actually changed.
func (s *Scanner) upsertHash(tx *sql.Tx, st *stamper, sum string, size int64) (hashID int64, changed bool, err error) {
	var existing int64
	var existingSize int64
	err = tx.QueryRow(`SELECT hash_id, size FROM maildir_hashes WHERE hash = ?`, sum).Scan(&existing, &existingSize)
	if err == sql.ErrNoRows {
		ws, berr := st.get()
		if berr != nil {
			return 0, false, berr
		}
		res, ierr := tx.Exec(`
			INSERT INTO maildir_hashes (hash, size, replica, version) VALUES (?, ?, ?, ?)`,
			sum, size, ws.Replica, ws.Version)
		if ierr != nil {
			return 0, false, errors.Wrap(ierr, "inserting hash row")
		}
		id, _ := res.LastInsertId()
		return id, true, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "looking up hash for upsert")
	}
	if existingSize != size {
		ws, berr := st.get()
		if berr != nil {
			return 0, false, berr
		}
		if _, uerr := tx.Exec(`UPDATE maildir_hashes SET size = ?, replica = ?, version = ? WHERE hash_id = ?`,
			size, ws.Replica, ws.Version, existing); uerr != nil {
			return 0, false, errors.Wrap(uerr, "updating hash row")
		}
		return existing, true, nil
	}
	return existing, false, nil
}

func (s *Scanner) recordFile(tx *sql.Tx, dir, name string, f FileEntry, hashID int64) error {
	dirDocID, err := s.dirDocID(tx, dir)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO xapian_files (dir_docid, name, mtime, inode, hash_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dir_docid, name) DO UPDATE SET
		  mtime = excluded.mtime, inode = excluded.inode, hash_id = excluded.hash_id`,
		dirDocID, name, float64(f.MTime), int64(f.Inode), hashID)
	return errors.Wrap(err, "recording file-in-dir row")
}

func (s *Scanner) dirDocID(tx *sql.Tx, dir string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT dir_docid FROM xapian_dirs WHERE dir_path = ?`, dir).Scan(&id)
	if err == sql.ErrNoRows {
		res, ierr := tx.Exec(`INSERT INTO xapian_dirs (dir_path, dir_mtime) VALUES (?, ?)`, dir, time.Now().Unix())
		if ierr != nil {
			return 0, ierr
		}
		return res.LastInsertId()
	}
	return id, err
}

// reconcileLinkCounts recomputes (hash_id, dir_docid) -> count from the
// current xapian_files rows and reports whether any hash's total link
// count changed, per §4.3's "Link-count reconciliation". Link counts
// carry no writestamp of their own in the schema, so no stamper call is
// needed here -- the scan-level bump (driven by the returned bool)
// covers them.
func (s *Scanner) reconcileLinkCounts(tx *sql.Tx) (bool, error) {
	rows, err := tx.Query(`
		SELECT hash_id, dir_docid, COUNT(*) FROM xapian_files
		WHERE hash_id IS NOT NULL GROUP BY hash_id, dir_docid`)
	if err != nil {
		return false, errors.Wrap(err, "computing link counts")
	}
	type key struct{ hashID, dirDocID int64 }
	counts := make(map[key]int64)
	for rows.Next() {
		var k key
		var n int64
		if err := rows.Scan(&k.hashID, &k.dirDocID, &n); err != nil {
			rows.Close()
			return false, err
		}
		counts[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	changed := false
	for k, n := range counts {
		var existing sql.NullInt64
		err := tx.QueryRow(`SELECT link_count FROM xapian_nlinks WHERE hash_id = ? AND dir_docid = ?`, k.hashID, k.dirDocID).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return false, err
		}
		if existing.Int64 == n && err == nil {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO xapian_nlinks (hash_id, dir_docid, link_count) VALUES (?, ?, ?)
			ON CONFLICT (hash_id, dir_docid) DO UPDATE SET link_count = excluded.link_count`,
			k.hashID, k.dirDocID, n); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// syncIndexer reconciles the shadow message_ids and tags tables against
// the indexer's current view, per §4.3's "Indexer shadow sync": a
// docid-ordered merge-join for message ids and one tag-ordered merge-join
// per tag for postings, grounded on xapian_sync.cc's sync_table<T> run
// once over a ValueIterator (message ids) and once per TermIterator
// (tags). Every docid whose message id or tag set actually changed gets
// its message_ids writestamp bumped with this scan's single stamp.
func (s *Scanner) syncIndexer(ctx context.Context, tx *sql.Tx, st *stamper) (bool, error) {
	modified := make(map[int64]struct{})

	if err := s.syncMessageIDs(ctx, tx, modified); err != nil {
		return false, err
	}
	if err := s.syncTagPostings(ctx, tx, modified); err != nil {
		return false, err
	}
	if len(modified) == 0 {
		return false, nil
	}

	for docid := range modified {
		ws, err := st.get()
		if err != nil {
			return false, err
		}
		if _, err := tx.Exec(`UPDATE message_ids SET replica = ?, version = ? WHERE docid = ?`,
			ws.Replica, ws.Version, docid); err != nil {
			return false, errors.Wrapf(err, "stamping message_ids docid %d", docid)
		}
	}
	return true, nil
}

// syncMessageIDs merge-joins the indexer's message-id list against the
// shadow message_ids table, both ordered by docid, inserting new rows,
// deleting rows for docids the indexer no longer has, and re-pointing a
// docid whose message id changed underneath it (logged, since a docid
// keeping its slot but changing message id is unusual enough to be worth
// a trace). Every docid touched is added to modified.
func (s *Scanner) syncMessageIDs(ctx context.Context, tx *sql.Tx, modified map[int64]struct{}) error {
	remote, err := s.idx.MessageIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "listing indexer message ids")
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].DocID < remote[j].DocID })

	rows, err := tx.Query(`SELECT docid, message_id FROM message_ids ORDER BY docid`)
	if err != nil {
		return errors.Wrap(err, "loading shadow message ids")
	}
	type localMsg struct {
		docid int64
		msgID string
	}
	var local []localMsg
	for rows.Next() {
		var m localMsg
		if err := rows.Scan(&m.docid, &m.msgID); err != nil {
			rows.Close()
			return err
		}
		local = append(local, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var firstErr error
	mergeJoin(local, remote,
		func(l localMsg, r indexer.MessageIDEntry) int {
			switch {
			case l.docid < r.DocID:
				return -1
			case l.docid > r.DocID:
				return 1
			default:
				return 0
			}
		},
		func(l localMsg, r indexer.MessageIDEntry) {
			if l.msgID == r.MessageID {
				return
			}
			s.log.Warnf("scan: docid %d message id changed %q -> %q", l.docid, l.msgID, r.MessageID)
			if _, err := tx.Exec(`UPDATE message_ids SET message_id = ? WHERE docid = ?`, r.MessageID, l.docid); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "updating message id for docid %d", l.docid)
				return
			}
			modified[l.docid] = struct{}{}
		},
		func(l localMsg) {
			if _, err := tx.Exec(`DELETE FROM tags WHERE docid = ?`, l.docid); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "deleting tags for removed docid %d", l.docid)
				return
			}
			if _, err := tx.Exec(`DELETE FROM message_ids WHERE docid = ?`, l.docid); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "deleting message_ids docid %d", l.docid)
				return
			}
			modified[l.docid] = struct{}{}
		},
		func(r indexer.MessageIDEntry) {
			if _, err := tx.Exec(`INSERT INTO message_ids (message_id, docid) VALUES (?, ?)`, r.MessageID, r.DocID); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "inserting message_ids docid %d", r.DocID)
				return
			}
			modified[r.DocID] = struct{}{}
		},
	)
	return firstErr
}

// syncTagPostings merge-joins, one tag at a time, the indexer's postings
// against the shadow tags table, both grouped by tag and ordered by
// docid within the tag, mirroring sync_table<T> run once per
// TermIterator in the original. Any docid gaining or losing a tag is
// added to modified.
func (s *Scanner) syncTagPostings(ctx context.Context, tx *sql.Tx, modified map[int64]struct{}) error {
	postings, err := s.idx.TagPostings(ctx)
	if err != nil {
		return errors.Wrap(err, "listing indexer tag postings")
	}
	remoteByTag := make(map[string][]int64)
	for _, p := range postings {
		remoteByTag[p.Tag] = append(remoteByTag[p.Tag], p.DocID)
	}

	rows, err := tx.Query(`SELECT tag, docid FROM tags ORDER BY tag, docid`)
	if err != nil {
		return errors.Wrap(err, "loading shadow tags")
	}
	localByTag := make(map[string][]int64)
	for rows.Next() {
		var tag string
		var docid int64
		if err := rows.Scan(&tag, &docid); err != nil {
			rows.Close()
			return err
		}
		localByTag[tag] = append(localByTag[tag], docid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	allTags := make(map[string]struct{}, len(remoteByTag)+len(localByTag))
	for tag := range remoteByTag {
		allTags[tag] = struct{}{}
	}
	for tag := range localByTag {
		allTags[tag] = struct{}{}
	}
	tags := make([]string, 0, len(allTags))
	for tag := range allTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var firstErr error
	for _, tag := range tags {
		left := localByTag[tag]
		right := remoteByTag[tag]
		sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
		sort.Slice(right, func(i, j int) bool { return right[i] < right[j] })

		mergeJoin(left, right,
			func(l int64, r int64) int {
				switch {
				case l < r:
					return -1
				case l > r:
					return 1
				default:
					return 0
				}
			},
			func(int64, int64) {},
			func(l int64) {
				if _, err := tx.Exec(`DELETE FROM tags WHERE tag = ? AND docid = ?`, tag, l); err != nil && firstErr == nil {
					firstErr = errors.Wrapf(err, "dropping tag %q from docid %d", tag, l)
					return
				}
				modified[l] = struct{}{}
			},
			func(r int64) {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (tag, docid) VALUES (?, ?)`, tag, r); err != nil && firstErr == nil {
					firstErr = errors.Wrapf(err, "adding tag %q to docid %d", tag, r)
					return
				}
				modified[r] = struct{}{}
			},
		)
	}
	return firstErr
}

func splitRelPath(rel string) (dir, name string) {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[:i], rel[i+1:]
		}
	}
	return "", rel
}

func fullPath(maildir, rel string) string {
	return maildir + string(os.PathSeparator) + rel
}

package protocol

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/muchsync-go/indexer"
	"github.com/rcowham/muchsync-go/shadow"
	"github.com/rcowham/muchsync-go/store"
)

func writeLine(bw *bufio.Writer, format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(bw, format, args...); err != nil {
		return err
	}
	return bw.Flush()
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// exceeds reports whether ws should be sent to a peer whose vector is
// peerVV: P[r] defaults to -1 for a replica the peer has never heard
// from, per spec.md's "absent replica -> P[r] = -1".
func exceeds(ws store.Writestamp, peerVV store.VersionVector) bool {
	v, ok := peerVV[ws.Replica]
	if !ok {
		return true
	}
	return ws.Version > v
}

// Serve runs the server side of one session to completion: greeting,
// then command loop (vect/conf/sync/send/quit) until the peer quits or
// the stream errors. Grounded on protocol.cc's muchsync_server loop. The
// server never touches the indexer directly -- everything it streams or
// sends already lives in the shadow database and the maildir/trashdir.
func Serve(ctx context.Context, db *store.DB, maildir string, r io.Reader, w io.Writer, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	if err := writeLine(bw, "200 %s\n", store.SchemaVersion()); err != nil {
		return err
	}

	st := stateIdle
	for st != stateClosed {
		line, err := readLine(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		verb, args := splitVerb(line)

		switch verb {
		case "vect":
			vv, err := db.SyncVector()
			if err != nil {
				return err
			}
			if err := writeLine(bw, "200 %s\n", EncodeSyncVector(vv)); err != nil {
				return err
			}

		case "conf":
			value, err := db.GetConfig(args)
			if err != nil {
				return err
			}
			if value == "" {
				if err := writeLine(bw, "500 no such configuration key %q\n", args); err != nil {
					return err
				}
			} else if err := writeLine(bw, "200 %s\n", value); err != nil {
				return err
			}

		case "sync":
			st = stateStreamingSync
			if err := serveSyncStream(db, bw, args); err != nil {
				return err
			}
			st = stateIdle

		case "send":
			st = stateFetching
			if err := serveSend(db, maildir, bw, args); err != nil {
				return err
			}
			st = stateIdle

		case "quit":
			st = stateQuitting
			if err := writeLine(bw, "200 goodbye\n"); err != nil {
				return err
			}
			st = stateClosed

		default:
			log.Warnf("protocol: unknown command %q", verb)
			if err := writeLine(bw, "500 unknown command %q\n", verb); err != nil {
				return err
			}
		}
	}
	return nil
}

// serveSyncStream streams every hash-info and tag-info record the peer
// (whose vector is peerVectorStr) doesn't already have, then the
// terminal "Synchronized <own-vector>" line.
func serveSyncStream(db *store.DB, bw *bufio.Writer, peerVectorStr string) error {
	peerVV, err := DecodeSyncVector(peerVectorStr)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	rows, err := db.Conn().Query(`
		SELECT hash_id, hash, size, message_id, replica, version
		FROM maildir_hashes WHERE replica IS NOT NULL`)
	if err != nil {
		return err
	}
	type hashRow struct {
		id   int64
		info store.HashInfo
	}
	var hashRows []hashRow
	for rows.Next() {
		var hr hashRow
		var msgid sql.NullString
		var replica, version int64
		if err := rows.Scan(&hr.id, &hr.info.Hash, &hr.info.Size, &msgid, &replica, &version); err != nil {
			rows.Close()
			return err
		}
		hr.info.MessageID = msgid.String
		hr.info.Stamp = store.Writestamp{Replica: replica, Version: version}
		hashRows = append(hashRows, hr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, hr := range hashRows {
		if !exceeds(hr.info.Stamp, peerVV) {
			continue
		}
		dirs, err := dirCountsForHash(db, hr.id)
		if err != nil {
			return err
		}
		hr.info.Dirs = dirs
		if err := writeLine(bw, "200-%s\n", EncodeHashInfo(hr.info)); err != nil {
			return err
		}
	}

	tagRows, err := db.Conn().Query(`
		SELECT docid, message_id, replica, version
		FROM message_ids WHERE replica IS NOT NULL`)
	if err != nil {
		return err
	}
	type tagRow struct {
		docid int64
		info  store.TagInfo
	}
	var tagRecords []tagRow
	for tagRows.Next() {
		var tr tagRow
		var replica, version int64
		if err := tagRows.Scan(&tr.docid, &tr.info.MessageID, &replica, &version); err != nil {
			tagRows.Close()
			return err
		}
		tr.info.Stamp = store.Writestamp{Replica: replica, Version: version}
		tagRecords = append(tagRecords, tr)
	}
	tagRows.Close()
	if err := tagRows.Err(); err != nil {
		return err
	}

	for _, tr := range tagRecords {
		if !exceeds(tr.info.Stamp, peerVV) {
			continue
		}
		tagset, err := tagsForDocID(db, tr.docid)
		if err != nil {
			return err
		}
		tr.info.Tags = tagset
		if err := writeLine(bw, "200-%s\n", EncodeTagInfo(tr.info)); err != nil {
			return err
		}
	}

	vv, err := db.SyncVector()
	if err != nil {
		return err
	}
	return writeLine(bw, "200 Synchronized %s\n", EncodeSyncVector(vv))
}

func dirCountsForHash(db *store.DB, hashID int64) (map[string]int64, error) {
	rows, err := db.Conn().Query(`
		SELECT xapian_dirs.dir_path, xapian_nlinks.link_count
		FROM xapian_nlinks JOIN xapian_dirs USING (dir_docid)
		WHERE xapian_nlinks.hash_id = ?`, hashID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dirs := make(map[string]int64)
	for rows.Next() {
		var dir string
		var n int64
		if err := rows.Scan(&dir, &n); err != nil {
			return nil, err
		}
		dirs[dir] = n
	}
	return dirs, rows.Err()
}

func tagsForDocID(db *store.DB, docID int64) (map[string]struct{}, error) {
	rows, err := db.Conn().Query(`SELECT tag FROM tags WHERE docid = ?`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := make(map[string]struct{})
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags[tag] = struct{}{}
	}
	return tags, rows.Err()
}

// serveSend answers one "send <hash>" request: "220 <size>" then exactly
// that many bytes then LF, or "500 missing".
func serveSend(db *store.DB, maildir string, bw *bufio.Writer, hash string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	hl := shadow.NewHashLookup(db, maildir)
	found, err := hl.Lookup(tx, hash)
	if err != nil {
		return err
	}
	if !found {
		return writeLine(bw, "500 missing\n")
	}
	path, _, ok := hl.ResolvePathname()
	if !ok {
		return writeLine(bw, "500 missing\n")
	}
	f, err := os.Open(path)
	if err != nil {
		return writeLine(bw, "500 missing\n")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return writeLine(bw, "500 missing\n")
	}

	if _, err := fmt.Fprintf(bw, "220 %d\n", info.Size()); err != nil {
		return err
	}
	if _, err := io.Copy(bw, f); err != nil {
		return err
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// fetchReader lazily issues "send <hash>" the first time it is read
// from, so a hash-info record whose content the local replica already
// has under a live link or in the trashdir never triggers a fetch at
// all (mirrors MessageSync.ensureContent's local-first check).
type fetchReader struct {
	br        *bufio.Reader
	bw        *bufio.Writer
	hash      string
	started   bool
	remaining int64
	err       error
}

func (fr *fetchReader) Read(p []byte) (int, error) {
	if fr.err != nil {
		return 0, fr.err
	}
	if !fr.started {
		fr.started = true
		if err := writeLine(fr.bw, "send %s\n", fr.hash); err != nil {
			fr.err = err
			return 0, err
		}
		resp, err := readLine(fr.br)
		if err != nil {
			fr.err = err
			return 0, err
		}
		if strings.HasPrefix(resp, "500") {
			fr.err = fmt.Errorf("send %s: %s", fr.hash, resp)
			return 0, fr.err
		}
		if !strings.HasPrefix(resp, "220 ") {
			fr.err = fmt.Errorf("send %s: unexpected response %q", fr.hash, resp)
			return 0, fr.err
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(resp, "220 "), 10, 64)
		if err != nil {
			fr.err = err
			return 0, err
		}
		fr.remaining = n
		if fr.remaining == 0 {
			fr.br.ReadByte()
			fr.err = io.EOF
			return 0, io.EOF
		}
	}
	if fr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > fr.remaining {
		p = p[:fr.remaining]
	}
	n, err := io.ReadFull(fr.br, p)
	fr.remaining -= int64(n)
	if fr.remaining == 0 {
		fr.br.ReadByte()
		if err == nil {
			err = io.EOF
		}
	}
	if err != nil {
		fr.err = err
	}
	return n, err
}

// Pull runs the client side of one session to completion: greeting
// check, vect/sync exchange, applying every streamed record (fetching
// content lazily as needed), committing, then quit. Grounded on
// protocol.cc's cmd_sync client path.
func Pull(ctx context.Context, db *store.DB, idx indexer.Bridge, maildir string, r io.Reader, w io.Writer, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	greeting, err := readLine(br)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(greeting, "200 ") {
		return fmt.Errorf("pull: bad greeting %q", greeting)
	}
	peerVers := strings.TrimPrefix(greeting, "200 ")
	if peerVers != store.SchemaVersion() {
		return fmt.Errorf("pull: schema version mismatch: peer %q, local %q", peerVers, store.SchemaVersion())
	}

	if err := writeLine(bw, "vect\n"); err != nil {
		return err
	}
	vectResp, err := readLine(br)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(vectResp, "200 ") {
		return fmt.Errorf("pull: vect failed: %q", vectResp)
	}
	peerVV, err := DecodeSyncVector(strings.TrimPrefix(vectResp, "200 "))
	if err != nil {
		return err
	}

	ownVV, err := db.SyncVector()
	if err != nil {
		return err
	}
	if err := writeLine(bw, "sync %s\n", EncodeSyncVector(ownVV)); err != nil {
		return err
	}

	var hashRecords []store.HashInfo
	var tagRecords []store.TagInfo
	var peerFinalVV store.VersionVector
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(line, "200-L "):
			hi, err := DecodeHashInfo(line[4:])
			if err != nil {
				return err
			}
			hashRecords = append(hashRecords, hi)
		case strings.HasPrefix(line, "200-T "):
			ti, err := DecodeTagInfo(line[4:])
			if err != nil {
				return err
			}
			tagRecords = append(tagRecords, ti)
		case strings.HasPrefix(line, "200 Synchronized "):
			peerFinalVV, err = DecodeSyncVector(strings.TrimPrefix(line, "200 Synchronized "))
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("pull: unexpected line in sync stream: %q", line)
		}
		if peerFinalVV != nil {
			break
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	ms := shadow.NewMessageSync(db, idx, maildir, log)
	for _, hi := range hashRecords {
		fr := &fetchReader{br: br, bw: bw, hash: hi.Hash}
		if _, err := ms.HashSync(ctx, tx, peerVV, hi, fr); err != nil {
			return err
		}
	}
	for _, ti := range tagRecords {
		if _, err := ms.TagSync(ctx, tx, peerVV, ti); err != nil {
			return err
		}
	}

	for replica, version := range peerFinalVV {
		if err := db.MergeRemote(tx, store.Writestamp{Replica: replica, Version: version}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	if err := writeLine(bw, "quit\n"); err != nil {
		return err
	}
	bye, err := readLine(br)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(bye, "200") {
		log.Warnf("pull: unexpected goodbye response %q", bye)
	}
	return nil
}

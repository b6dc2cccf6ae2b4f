// Package store is the shadow database: a SQLite-backed record of what
// the indexer last showed this replica, kept so a scan or a sync can tell
// "what changed" without re-reading everything. Grounded on sql_db.cc/.h
// (dbcreate/dbopen, hash_lookup, tag_lookup, msg_sync) from the original
// implementation.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the shadow sqlite database plus the replica identity recorded
// in it. A DB is not safe for concurrent use by multiple goroutines; the
// caller (scan/protocol) serializes access the same way the original
// serializes through a single sqlite3* connection.
type DB struct {
	conn *sql.DB
	self int64
}

// Open opens the shadow database at path, creating and initializing it
// (schema plus a freshly minted replica identity) if it does not exist.
// Locking mirrors the original's choice of an exclusive sqlite lock: a
// shadow database is never meant to be touched by two muchsync processes
// at once.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA locking_mode=EXCLUSIVE;`); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "setting exclusive lock")
	}
	if _, err := conn.Exec(`PRAGMA secure_delete = 0;`); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "disabling secure_delete")
	}

	db := &DB{conn: conn}
	vers, err := db.getConfig("dbvers")
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "reading schema version")
	}
	if vers == "" {
		if err := db.create(); err != nil {
			conn.Close()
			return nil, err
		}
	} else if vers != schemaVersion {
		conn.Close()
		return nil, fmt.Errorf("%s: invalid database version %q (want %q)", path, vers, schemaVersion)
	}

	self, err := db.getConfigInt("self")
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "reading replica identity")
	}
	db.self = self
	return db, nil
}

// SchemaVersion is the dbvers compatibility token every shadow database
// is stamped with and every protocol greeting advertises.
func SchemaVersion() string {
	return schemaVersion
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Self returns this replica's own identity, a positive 63-bit integer
// chosen once at database creation and never reused.
func (db *DB) Self() int64 {
	return db.self
}

// Conn exposes the underlying connection for packages (shadow, scan)
// that prepare and run their own statements against the shadow schema.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// create lays down the schema, mints a replica identity, and seeds the
// sync vector with this replica's own starting version -- the Go
// equivalent of dbcreate() in sql_db.cc.
func (db *DB) create() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning schema transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return errors.Wrap(err, "creating schema")
	}

	self, err := randomReplicaID()
	if err != nil {
		return errors.Wrap(err, "generating replica identity")
	}

	if _, err := tx.Exec(`INSERT INTO configuration (key, value) VALUES ('dbvers', ?)`, schemaVersion); err != nil {
		return errors.Wrap(err, "stamping schema version")
	}
	if _, err := tx.Exec(`INSERT INTO configuration (key, value) VALUES ('self', ?)`, fmt.Sprint(self)); err != nil {
		return errors.Wrap(err, "recording replica identity")
	}
	if _, err := tx.Exec(`INSERT INTO sync_vector (replica, version) VALUES (?, 1)`, self); err != nil {
		return errors.Wrap(err, "seeding sync vector")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing schema transaction")
	}
	db.self = self
	return nil
}

// randomReplicaID draws a positive 63-bit integer from a CSPRNG, the same
// shape as dbcreate()'s RAND_pseudo_bytes-derived self, masked to discard
// the sign bit.
func randomReplicaID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(buf[:]))
	v &^= int64(1) << 63
	if v == 0 {
		return randomReplicaID()
	}
	return v, nil
}

func (db *DB) getConfig(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (db *DB) getConfigInt(key string) (int64, error) {
	s, err := db.getConfig(key)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	var v int64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return 0, errors.Wrapf(err, "parsing configuration key %q", key)
	}
	return v, nil
}

// GetConfig reads a well-known configuration value (e.g. "last_scan"),
// returning "" if it has never been set.
func (db *DB) GetConfig(key string) (string, error) {
	return db.getConfig(key)
}

// SetConfig upserts a configuration value within tx.
func (db *DB) SetConfig(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO configuration (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrapf(err, "setting configuration key %q", key)
}

// Begin starts a transaction. Callers use this to group a scan's or a
// sync's writes the way msg_sync::commit() does in the original: every
// row change lands atomically, including the bump to this replica's own
// sync_vector entry.
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// SyncVector reads the replica's full view of how far every known
// replica has progressed.
func (db *DB) SyncVector() (VersionVector, error) {
	rows, err := db.conn.Query(`SELECT replica, version FROM sync_vector`)
	if err != nil {
		return nil, errors.Wrap(err, "reading sync vector")
	}
	defer rows.Close()

	vv := make(VersionVector)
	for rows.Next() {
		var replica, version int64
		if err := rows.Scan(&replica, &version); err != nil {
			return nil, err
		}
		vv[replica] = version
	}
	return vv, rows.Err()
}

// Bump increments this replica's own version counter within tx and
// returns the writestamp that should be stamped onto whatever row tx is
// about to write. Each call advances the version by exactly one; a scan
// calls it at most once and stamps every row it changes with the result.
func (db *DB) Bump(tx *sql.Tx) (Writestamp, error) {
	res, err := tx.Exec(`UPDATE sync_vector SET version = version + 1 WHERE replica = ?`, db.self)
	if err != nil {
		return Writestamp{}, errors.Wrap(err, "bumping sync vector")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Writestamp{}, fmt.Errorf("sync_vector has no row for replica %d", db.self)
	}
	var version int64
	if err := tx.QueryRow(`SELECT version FROM sync_vector WHERE replica = ?`, db.self).Scan(&version); err != nil {
		return Writestamp{}, errors.Wrap(err, "reading bumped version")
	}
	return Writestamp{Replica: db.self, Version: version}, nil
}

// MergeRemote folds a peer's writestamp into the local sync vector: it is
// how a replica that just accepted a row from a peer records that it is
// now caught up to that peer's version for that replica id.
func (db *DB) MergeRemote(tx *sql.Tx, ws Writestamp) error {
	_, err := tx.Exec(`
		INSERT INTO sync_vector (replica, version) VALUES (?, ?)
		ON CONFLICT (replica) DO UPDATE SET version = MAX(version, excluded.version)
	`, ws.Replica, ws.Version)
	return errors.Wrap(err, "merging remote writestamp")
}

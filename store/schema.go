package store

// schemaVersion is stamped into the configuration table and checked on
// every reopen; bumping it invalidates every shadow database on disk.
const schemaVersion = "muchsync-go 0"

// schema is the DDL for a freshly created shadow database. It mirrors the
// eight tables the original keeps in sql_db.cc's muchsync_schema: one pair
// for replica bookkeeping (configuration, sync_vector) and six that shadow
// the indexer's own tables so changes to it can be detected without
// re-reading everything (xapian_dirs, tags, message_ids, xapian_files,
// maildir_hashes, xapian_nlinks).
const schema = `
CREATE TABLE configuration (
  key   TEXT PRIMARY KEY NOT NULL,
  value TEXT
);

CREATE TABLE sync_vector (
  replica INTEGER PRIMARY KEY,
  version INTEGER NOT NULL
);

CREATE TABLE xapian_dirs (
  dir_path  TEXT UNIQUE NOT NULL,
  dir_docid INTEGER PRIMARY KEY,
  dir_mtime INTEGER
);

CREATE TABLE tags (
  tag   TEXT NOT NULL,
  docid INTEGER NOT NULL,
  UNIQUE (docid, tag),
  UNIQUE (tag, docid)
);

CREATE TABLE message_ids (
  message_id TEXT UNIQUE NOT NULL,
  docid      INTEGER PRIMARY KEY,
  replica    INTEGER,
  version    INTEGER
);
CREATE INDEX message_ids_writestamp ON message_ids (replica, version);

CREATE TABLE xapian_files (
  dir_docid INTEGER NOT NULL,
  name      TEXT NOT NULL,
  docid     INTEGER,
  mtime     REAL,
  inode     INTEGER,
  hash_id   INTEGER,
  PRIMARY KEY (dir_docid, name)
);
CREATE INDEX xapian_files_hash_id ON xapian_files (hash_id, dir_docid);

CREATE TABLE maildir_hashes (
  hash_id    INTEGER PRIMARY KEY,
  hash       TEXT UNIQUE NOT NULL,
  size       INTEGER,
  message_id TEXT,
  replica    INTEGER,
  version    INTEGER
);
CREATE INDEX maildir_hashes_message_id ON maildir_hashes (message_id);
CREATE INDEX maildir_hashes_writestamp ON maildir_hashes (replica, version);

CREATE TABLE xapian_nlinks (
  hash_id    INTEGER NOT NULL,
  dir_docid  INTEGER NOT NULL,
  link_count INTEGER,
  PRIMARY KEY (hash_id, dir_docid)
);
`

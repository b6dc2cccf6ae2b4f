package shadow

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/rcowham/muchsync-go/store"
)

// TagLookup answers "what tags does this message currently carry",
// grounded on sql_db.cc's tag_lookup class (getmsg_, gettags_).
type TagLookup struct {
	db *sql.DB

	ok    bool
	docID int64
	info  store.TagInfo
}

// NewTagLookup returns an empty TagLookup.
func NewTagLookup() *TagLookup {
	return &TagLookup{}
}

// Lookup loads the docid, tag writestamp, and tag set for messageID.
func (t *TagLookup) Lookup(tx *sql.Tx, messageID string) (bool, error) {
	t.ok = false
	var docID, replica, version sql.NullInt64
	row := tx.QueryRow(`
		SELECT docid, replica, version FROM message_ids WHERE message_id = ?`, messageID)
	if err := row.Scan(&docID, &replica, &version); err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "looking up message id")
	}
	t.docID = docID.Int64
	t.info = store.TagInfo{
		MessageID: messageID,
		Stamp:     store.Writestamp{Replica: replica.Int64, Version: version.Int64},
		Tags:      make(map[string]struct{}),
	}

	rows, err := tx.Query(`SELECT tag FROM tags WHERE docid = ?`, t.docID)
	if err != nil {
		return false, errors.Wrap(err, "looking up tags")
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return false, err
		}
		t.info.Tags[tag] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	t.ok = true
	return true, nil
}

func (t *TagLookup) Ok() bool            { return t.ok }
func (t *TagLookup) DocID() int64        { return t.docID }
func (t *TagLookup) Info() store.TagInfo { return t.info }

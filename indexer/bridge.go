// Package indexer narrows the mail indexer (notmuch) down to the handful
// of operations the shadow database needs to stay in sync with it:
// reading its tag and message-id postings in docid order, and pushing
// file and tag changes back into it. Grounded on notmuch_db.h (the
// original's libnotmuch wrapper) and xapian_sync.cc (the scan that walks
// Xapian's TermIterator/PostingIterator/ValueIterator); here the C++
// iterator pairs become plain sorted slices returned over one Bridge
// call, since a CLI round trip gives no cheaper way to stream them.
package indexer

import "context"

// TagPosting is one (tag, docid) pair from the indexer's tag postings
// list, the shadow of xapian_scan_tags's TermIterator/PostingIterator
// walk over terms prefixed "K".
type TagPosting struct {
	Tag   string
	DocID int64
}

// MessageIDEntry is one (message_id, docid) pair, the shadow of
// xapian_scan_message_ids's ValueIterator walk over the message-id
// value slot.
type MessageIDEntry struct {
	MessageID string
	DocID     int64
}

// Bridge is the narrow surface muchsync-go needs from a mail indexer.
// NotmuchCLI implements it against a real notmuch database; Fake
// implements it in memory for tests.
type Bridge interface {
	// TagPostings returns every (tag, docid) pair, ordered by tag then
	// docid ascending -- the order sync_table's merge-join relies on.
	TagPostings(ctx context.Context) ([]TagPosting, error)

	// MessageIDs returns every (message_id, docid) pair, ordered by
	// docid ascending.
	MessageIDs(ctx context.Context) ([]MessageIDEntry, error)

	// Tags returns the current tag set for a message, or nil if the
	// indexer has no record of it.
	Tags(ctx context.Context, messageID string) ([]string, error)

	// SetTags replaces a message's tag set wholesale. It is how a
	// replica applies a peer's tag_sync onto the local indexer.
	SetTags(ctx context.Context, messageID string, tags []string) error

	// AddFile tells the indexer to pick up a newly written maildir
	// file, returning the docid it assigned.
	AddFile(ctx context.Context, path string) (docid int64, err error)

	// RemoveFile tells the indexer a maildir file is gone.
	RemoveFile(ctx context.Context, path string) error
}

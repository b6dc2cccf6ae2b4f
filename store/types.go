package store

import (
	"fmt"
	"sort"
)

// Writestamp pairs a replica identity with the version counter that
// replica had reached when it last touched a row. It is the unit the
// whole system uses to decide "who wrote this, and how recently".
type Writestamp struct {
	Replica int64
	Version int64
}

func (w Writestamp) String() string {
	return fmt.Sprintf("R%d=%d", w.Replica, w.Version)
}

// Less orders writestamps the way the conflict resolver breaks ties:
// higher version wins, and on a version tie the higher replica id wins.
func (w Writestamp) Less(o Writestamp) bool {
	if w.Version != o.Version {
		return w.Version < o.Version
	}
	return w.Replica < o.Replica
}

// VersionVector is a replica's view of how far every replica (including
// itself) has progressed. It is exchanged wholesale during a sync and
// used to decide which rows on either side are novel to the peer.
type VersionVector map[int64]int64

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for k, v := range vv {
		out[k] = v
	}
	return out
}

// Covers reports whether vv already knows about ws, i.e. ws could not
// possibly be new information for a peer holding vv.
func (vv VersionVector) Covers(ws Writestamp) bool {
	return vv[ws.Replica] >= ws.Version
}

// HashInfo is the shadow record for one content hash: the set of
// directory entries (hard links) that currently point at it, the message
// it was last known to belong to, and the writestamp of the replica that
// last changed that association.
type HashInfo struct {
	Hash      string
	Size      int64
	MessageID string
	Stamp     Writestamp
	// Dirs maps a relative directory path to the number of hard links
	// this hash has within it.
	Dirs map[string]int64
}

// TagInfo is the shadow record for one message's tag set.
type TagInfo struct {
	MessageID string
	Stamp     Writestamp
	Tags      map[string]struct{}
}

// SortedTags returns the tag set as a sorted slice, the form the wire
// protocol and diffing logic both want.
func (t TagInfo) SortedTags() []string {
	out := make([]string, 0, len(t.Tags))
	for tag := range t.Tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

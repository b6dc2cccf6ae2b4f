package shadow

import "github.com/rcowham/muchsync-go/store"

// resolveWritestamp decides whether an incoming (remote) writestamp
// should replace a row currently stamped local, given the full sync
// vector the peer advertised alongside it. Grounded on spec's
// conflict-resolution rule (same rule for both hash-level and
// tag-level records):
//
//   - no local row yet: always apply.
//   - the peer's vector already covers the local writestamp (the peer
//     built its record knowing everything we knew): the peer's record is
//     strictly newer information, apply.
//   - same replica: apply only if the remote version is ahead; otherwise
//     it is a stale duplicate, ignore.
//   - otherwise distinct replicas and neither dominates: deterministic
//     tie-break, higher replica id wins.
func resolveWritestamp(remoteVV store.VersionVector, local store.Writestamp, hasLocal bool, remote store.Writestamp) bool {
	if !hasLocal {
		return true
	}
	if remoteVV.Covers(local) {
		return true
	}
	if remote.Replica == local.Replica {
		return remote.Version > local.Version
	}
	return remote.Replica > local.Replica
}

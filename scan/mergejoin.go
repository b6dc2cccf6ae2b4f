package scan

// mergeJoin walks two already-sorted slices in lockstep and reports,
// for each position, whether the item exists on the left only, the
// right only, or both. Grounded on xapian_sync.cc's generic sync_table<T>
// template, which runs the same streaming left-outer merge-join against
// two different cursor types (TermIterator/PostingIterator for tags,
// ValueIterator for message ids); here both cursors are plain slices
// compared by a caller-supplied key function, since a CLI-backed indexer
// adapter has no live cursor to stream.
//
// cmp(a, b) follows the usual convention: negative if a sorts before b,
// zero if equal, positive if a sorts after b.
func mergeJoin[L any, R any](left []L, right []R, cmp func(L, R) int, onMatch func(L, R), onLeftOnly func(L), onRightOnly func(R)) {
	i, j := 0, 0
	for i < len(left) && j < len(right) {
		switch c := cmp(left[i], right[j]); {
		case c == 0:
			onMatch(left[i], right[j])
			i++
			j++
		case c < 0:
			onLeftOnly(left[i])
			i++
		default:
			onRightOnly(right[j])
			j++
		}
	}
	for ; i < len(left); i++ {
		onLeftOnly(left[i])
	}
	for ; j < len(right); j++ {
		onRightOnly(right[j])
	}
}

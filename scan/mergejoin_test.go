package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeJoinMatchesLeftOnlyRightOnly(t *testing.T) {
	left := []int{1, 2, 4, 6}
	right := []int{2, 3, 4, 5}
	var matched, leftOnly, rightOnly []int

	mergeJoin(left, right,
		func(l, r int) int { return l - r },
		func(l, r int) { matched = append(matched, l) },
		func(l int) { leftOnly = append(leftOnly, l) },
		func(r int) { rightOnly = append(rightOnly, r) },
	)

	assert.Equal(t, []int{2, 4}, matched)
	assert.Equal(t, []int{1, 6}, leftOnly)
	assert.Equal(t, []int{3, 5}, rightOnly)
}

func TestMergeJoinEmptySides(t *testing.T) {
	var leftOnly, rightOnly []int
	mergeJoin([]int{1, 2}, []int{},
		func(l, r int) int { return l - r },
		func(l, r int) {},
		func(l int) { leftOnly = append(leftOnly, l) },
		func(r int) { rightOnly = append(rightOnly, r) },
	)
	assert.Equal(t, []int{1, 2}, leftOnly)
	assert.Empty(t, rightOnly)

	leftOnly, rightOnly = nil, nil
	mergeJoin([]int{}, []int{1, 2},
		func(l, r int) int { return l - r },
		func(l, r int) {},
		func(l int) { leftOnly = append(leftOnly, l) },
		func(r int) { rightOnly = append(rightOnly, r) },
	)
	assert.Empty(t, leftOnly)
	assert.Equal(t, []int{1, 2}, rightOnly)
}

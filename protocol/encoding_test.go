package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/muchsync-go/store"
)

func TestWritestampRoundTrip(t *testing.T) {
	ws := store.Writestamp{Replica: 42, Version: 7}
	decoded, err := DecodeWritestamp(EncodeWritestamp(ws))
	assert.NoError(t, err)
	assert.Equal(t, ws, decoded)
}

func TestSyncVectorRoundTrip(t *testing.T) {
	vv := store.VersionVector{1: 5, 99: 2}
	decoded, err := DecodeSyncVector(EncodeSyncVector(vv))
	assert.NoError(t, err)
	assert.Equal(t, vv, decoded)
}

func TestEmptySyncVector(t *testing.T) {
	assert.Equal(t, "<>", EncodeSyncVector(store.VersionVector{}))
	vv, err := DecodeSyncVector("<>")
	assert.NoError(t, err)
	assert.Empty(t, vv)
}

func TestPercentEncodeRoundTripThroughMessageID(t *testing.T) {
	hi := store.HashInfo{
		Hash:      "deadbeef",
		Size:      1234,
		MessageID: "weird id with spaces/and(parens)@host",
		Stamp:     store.Writestamp{Replica: 1, Version: 2},
		Dirs:      map[string]int64{"inbox/cur": 1, "archive/cur": 2},
	}
	decoded, err := DecodeHashInfo(EncodeHashInfo(hi))
	assert.NoError(t, err)
	assert.Equal(t, hi, decoded)
}

func TestHashInfoEmptyDirs(t *testing.T) {
	hi := store.HashInfo{
		Hash:      "cafef00d",
		Size:      1,
		MessageID: "m@h",
		Stamp:     store.Writestamp{Replica: 1, Version: 1},
		Dirs:      map[string]int64{},
	}
	line := EncodeHashInfo(hi)
	assert.Contains(t, line, "()")
	decoded, err := DecodeHashInfo(line)
	assert.NoError(t, err)
	assert.Empty(t, decoded.Dirs)
}

func TestTagInfoRoundTrip(t *testing.T) {
	ti := store.TagInfo{
		MessageID: "m@h (parenthesized)",
		Stamp:     store.Writestamp{Replica: 3, Version: 9},
		Tags:      map[string]struct{}{"inbox": {}, "unread": {}},
	}
	decoded, err := DecodeTagInfo(EncodeTagInfo(ti))
	assert.NoError(t, err)
	assert.Equal(t, ti, decoded)
}

func TestDecodeRejectsIncompleteEscape(t *testing.T) {
	_, err := percentDecode("abc%2")
	assert.Error(t, err)
	_, err = percentDecode("abc%zz")
	assert.Error(t, err)
}

func TestDecodeWritestampRejectsMalformed(t *testing.T) {
	_, err := DecodeWritestamp("X1=2")
	assert.Error(t, err)
	_, err = DecodeWritestamp("R1")
	assert.Error(t, err)
	_, err = DecodeWritestamp("Rabc=2")
	assert.Error(t, err)
}

func TestDecodeHashInfoRejectsMissingPrefix(t *testing.T) {
	_, err := DecodeHashInfo("T foo R1=1 ()")
	assert.Error(t, err)
}

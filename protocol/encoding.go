// Package protocol implements the line-oriented sync protocol described
// in sql_db.cc's operator<</operator>> (wire encoding of hash-info,
// tag-info, and sync-vectors) and protocol.cc's cmd_sync/muchsync_server
// loop (the client/server exchange built on top of that encoding).
package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rcowham/muchsync-go/store"
)

// percentEncode escapes every byte outside the safe alphabet
// [A-Za-z0-9+,\-./_@=] as a lowercase %xx triplet. This is a single
// fixed alphabet, replacing the original's two divergent encoders
// (permissive_percent_encode differs slightly between hash-info and
// tag-info call sites in sql_db.cc).
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafeByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

func isSafeByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '+', ',', '-', '.', '/', '_', '@', '=':
		return true
	}
	return false
}

// percentDecode reverses percentEncode, rejecting a trailing or
// malformed escape instead of silently truncating it.
func percentDecode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("percent decode: incomplete escape at offset %d", i)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("percent decode: invalid escape %q", s[i:i+3])
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// EncodeWritestamp renders a writestamp as "R<replica>=<version>".
func EncodeWritestamp(ws store.Writestamp) string {
	return ws.String()
}

// DecodeWritestamp parses "R<replica>=<version>".
func DecodeWritestamp(s string) (store.Writestamp, error) {
	if len(s) == 0 || s[0] != 'R' {
		return store.Writestamp{}, fmt.Errorf("writestamp: missing R prefix in %q", s)
	}
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return store.Writestamp{}, fmt.Errorf("writestamp: missing '=' in %q", s)
	}
	replica, err := strconv.ParseInt(s[1:eq], 10, 64)
	if err != nil {
		return store.Writestamp{}, fmt.Errorf("writestamp: bad replica in %q: %w", s, err)
	}
	version, err := strconv.ParseInt(s[eq+1:], 10, 64)
	if err != nil {
		return store.Writestamp{}, fmt.Errorf("writestamp: bad version in %q: %w", s, err)
	}
	return store.Writestamp{Replica: replica, Version: version}, nil
}

// EncodeSyncVector renders "<R<r>=<v>,...>", or "<>" when empty.
func EncodeSyncVector(vv store.VersionVector) string {
	replicas := make([]int64, 0, len(vv))
	for r := range vv {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	var b strings.Builder
	b.WriteByte('<')
	for i, r := range replicas {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "R%d=%d", r, vv[r])
	}
	b.WriteByte('>')
	return b.String()
}

// DecodeSyncVector parses "<R<r>=<v>,...>".
func DecodeSyncVector(s string) (store.VersionVector, error) {
	if len(s) < 2 || s[0] != '<' || s[len(s)-1] != '>' {
		return nil, fmt.Errorf("sync-vector: missing angle brackets in %q", s)
	}
	inner := s[1 : len(s)-1]
	vv := make(store.VersionVector)
	if inner == "" {
		return vv, nil
	}
	for _, tok := range strings.Split(inner, ",") {
		ws, err := DecodeWritestamp(tok)
		if err != nil {
			return nil, err
		}
		vv[ws.Replica] = ws.Version
	}
	return vv, nil
}

// EncodeHashInfo renders:
// "L <hash> <size> <message-id-enc> R<r>=<v> (<n>*<dir-enc> ...)".
func EncodeHashInfo(hi store.HashInfo) string {
	dirs := make([]string, 0, len(hi.Dirs))
	for d := range hi.Dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	parts := make([]string, 0, len(dirs))
	for _, d := range dirs {
		parts = append(parts, fmt.Sprintf("%d*%s", hi.Dirs[d], percentEncode(d)))
	}
	return fmt.Sprintf("L %s %d %s %s (%s)",
		hi.Hash, hi.Size, percentEncode(hi.MessageID), hi.Stamp.String(), strings.Join(parts, " "))
}

// DecodeHashInfo parses one hash-info line.
func DecodeHashInfo(line string) (store.HashInfo, error) {
	if !strings.HasPrefix(line, "L ") {
		return store.HashInfo{}, fmt.Errorf("hash-info: missing L prefix in %q", line)
	}
	rest := line[2:]
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return store.HashInfo{}, fmt.Errorf("hash-info: missing dir list in %q", line)
	}
	head := strings.Fields(strings.TrimSpace(rest[:open]))
	if len(head) != 4 {
		return store.HashInfo{}, fmt.Errorf("hash-info: expected 4 fields before dir list, got %d in %q", len(head), line)
	}
	size, err := strconv.ParseInt(head[1], 10, 64)
	if err != nil {
		return store.HashInfo{}, fmt.Errorf("hash-info: bad size in %q: %w", line, err)
	}
	msgid, err := percentDecode(head[2])
	if err != nil {
		return store.HashInfo{}, err
	}
	ws, err := DecodeWritestamp(head[3])
	if err != nil {
		return store.HashInfo{}, err
	}

	inner := strings.TrimSpace(rest[open+1 : len(rest)-1])
	dirs := make(map[string]int64)
	if inner != "" {
		for _, tok := range strings.Fields(inner) {
			star := strings.IndexByte(tok, '*')
			if star < 0 {
				return store.HashInfo{}, fmt.Errorf("hash-info: malformed dir entry %q in %q", tok, line)
			}
			n, err := strconv.ParseInt(tok[:star], 10, 64)
			if err != nil {
				return store.HashInfo{}, fmt.Errorf("hash-info: bad link count in %q: %w", tok, err)
			}
			dir, err := percentDecode(tok[star+1:])
			if err != nil {
				return store.HashInfo{}, err
			}
			dirs[dir] = n
		}
	}

	return store.HashInfo{
		Hash:      head[0],
		Size:      size,
		MessageID: msgid,
		Stamp:     ws,
		Dirs:      dirs,
	}, nil
}

// EncodeTagInfo renders "T <message-id-enc> R<r>=<v> (<tag> <tag> ...)".
func EncodeTagInfo(ti store.TagInfo) string {
	return fmt.Sprintf("T %s %s (%s)",
		percentEncode(ti.MessageID), ti.Stamp.String(), strings.Join(ti.SortedTags(), " "))
}

// DecodeTagInfo parses one tag-info line.
func DecodeTagInfo(line string) (store.TagInfo, error) {
	if !strings.HasPrefix(line, "T ") {
		return store.TagInfo{}, fmt.Errorf("tag-info: missing T prefix in %q", line)
	}
	rest := line[2:]
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return store.TagInfo{}, fmt.Errorf("tag-info: missing tag list in %q", line)
	}
	head := strings.Fields(strings.TrimSpace(rest[:open]))
	if len(head) != 2 {
		return store.TagInfo{}, fmt.Errorf("tag-info: expected 2 fields before tag list, got %d in %q", len(head), line)
	}
	msgid, err := percentDecode(head[0])
	if err != nil {
		return store.TagInfo{}, err
	}
	ws, err := DecodeWritestamp(head[1])
	if err != nil {
		return store.TagInfo{}, err
	}

	inner := strings.TrimSpace(rest[open+1 : len(rest)-1])
	tags := make(map[string]struct{})
	if inner != "" {
		for _, t := range strings.Fields(inner) {
			tags[t] = struct{}{}
		}
	}
	return store.TagInfo{MessageID: msgid, Stamp: ws, Tags: tags}, nil
}

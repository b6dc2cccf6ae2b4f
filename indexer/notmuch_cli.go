package indexer

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NotmuchCLI drives a real notmuch database by shelling out to the
// notmuch binary, the same way the original linked directly against
// libnotmuch: every Bridge call here corresponds to one notmuch
// sub-command run against ConfigPath.
type NotmuchCLI struct {
	// Binary is the notmuch executable to invoke; defaults to "notmuch"
	// on the PATH if empty.
	Binary string
	// ConfigPath is passed as notmuch --config; empty uses notmuch's
	// own default resolution (NOTMUCH_CONFIG, ~/.notmuch-config).
	ConfigPath string
	Log        *logrus.Logger
}

func (n *NotmuchCLI) binary() string {
	if n.Binary != "" {
		return n.Binary
	}
	return "notmuch"
}

func (n *NotmuchCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	if n.ConfigPath != "" {
		args = append([]string{"--config", n.ConfigPath}, args...)
	}
	cmd := exec.CommandContext(ctx, n.binary(), args...)
	if n.Log != nil {
		n.Log.Debugf("indexer: %s %s", n.binary(), strings.Join(args, " "))
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "notmuch %s: %s", strings.Join(args, " "), stderr.String())
	}
	return stdout.Bytes(), nil
}

// TagPostings shells out to `notmuch search --output=tags` per distinct
// tag found via `notmuch search --output=tags '*'`, then `--output=messages`
// for each, since the CLI has no single command that dumps the full
// postings list the way xdb.allterms_begin did in the original.
func (n *NotmuchCLI) TagPostings(ctx context.Context) ([]TagPosting, error) {
	out, err := n.run(ctx, "search", "--output=tags", "*")
	if err != nil {
		return nil, err
	}
	var postings []TagPosting
	for _, tag := range splitLines(out) {
		docids, err := n.docIDsForTag(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, id := range docids {
			postings = append(postings, TagPosting{Tag: tag, DocID: id})
		}
	}
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].Tag != postings[j].Tag {
			return postings[i].Tag < postings[j].Tag
		}
		return postings[i].DocID < postings[j].DocID
	})
	return postings, nil
}

func (n *NotmuchCLI) docIDsForTag(ctx context.Context, tag string) ([]int64, error) {
	out, err := n.run(ctx, "search", "--output=messages", "tag:"+quoteTerm(tag))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, line := range splitLines(out) {
		msgid := messageIDFromLine(line)
		if msgid == "" {
			continue
		}
		ids = append(ids, docIDFromMessageID(msgid))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// MessageIDs shells out to `notmuch search --output=messages '*'`, which
// prints notmuch's internal id:<message-id> form; we don't have a true
// docid to hand back over the CLI boundary, so we synthesize one from
// a hash of the message id, the same synthetic docid TagPostings uses.
func (n *NotmuchCLI) MessageIDs(ctx context.Context) ([]MessageIDEntry, error) {
	out, err := n.run(ctx, "search", "--output=messages", "--sort=oldest-first", "*")
	if err != nil {
		return nil, err
	}
	var entries []MessageIDEntry
	for _, line := range splitLines(out) {
		msgid := messageIDFromLine(line)
		if msgid == "" {
			continue
		}
		entries = append(entries, MessageIDEntry{MessageID: msgid, DocID: docIDFromMessageID(msgid)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
	return entries, nil
}

func (n *NotmuchCLI) Tags(ctx context.Context, messageID string) ([]string, error) {
	out, err := n.run(ctx, "search", "--output=tags", "id:"+quoteTerm(messageID))
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (n *NotmuchCLI) SetTags(ctx context.Context, messageID string, tags []string) error {
	args := []string{"tag", "--remove-all"}
	for _, t := range tags {
		args = append(args, "+"+t)
	}
	args = append(args, "--", "id:"+quoteTerm(messageID))
	_, err := n.run(ctx, args...)
	return err
}

func (n *NotmuchCLI) AddFile(ctx context.Context, path string) (int64, error) {
	if _, err := n.run(ctx, "new", "--quiet"); err != nil {
		return 0, err
	}
	out, err := n.run(ctx, "search", "--output=messages", "path:"+quoteTerm(path))
	if err != nil {
		return 0, err
	}
	lines := splitLines(out)
	if len(lines) == 0 {
		return 0, errors.Errorf("notmuch did not index %s", path)
	}
	msgid := messageIDFromLine(lines[0])
	if msgid == "" {
		return 0, errors.Errorf("could not parse notmuch output for %s", path)
	}
	return docIDFromMessageID(msgid), nil
}

func (n *NotmuchCLI) RemoveFile(ctx context.Context, path string) error {
	_, err := n.run(ctx, "new", "--quiet")
	return err
}

func splitLines(out []byte) []string {
	var lines []string
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func quoteTerm(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// messageIDFromLine extracts the message id out of notmuch's
// `id:"<message-id>"` search output form.
func messageIDFromLine(line string) string {
	id := strings.TrimPrefix(line, "id:")
	return strings.Trim(id, `"`)
}

// docIDFromMessageID derives a stable, positive synthetic docid from a
// message id; the CLI never exposes Xapian's real internal docid, and
// the shadow schema only needs *some* stable integer to key xapian_files
// and tags rows on.
func docIDFromMessageID(msgid string) int64 {
	var sum int64
	for _, b := range []byte(msgid) {
		sum = sum*31 + int64(b)
	}
	if sum < 0 {
		sum = -sum
	}
	return sum
}

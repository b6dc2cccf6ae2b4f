package indexer

import (
	"context"
	"sort"
	"sync"
)

// Fake is an in-memory Bridge for tests: it behaves like a tiny indexer
// holding exactly the files and tags the test gave it, with no
// subprocess and no real notmuch database involved.
type Fake struct {
	mu       sync.Mutex
	tags     map[string]map[string]struct{} // message id -> tag set
	docids   map[string]int64               // message id -> synthetic docid
	files    map[string]string               // path -> message id
	nextDoc  int64
}

// NewFake returns an empty Fake indexer.
func NewFake() *Fake {
	return &Fake{
		tags:   make(map[string]map[string]struct{}),
		docids: make(map[string]int64),
		files:  make(map[string]string),
	}
}

// Seed pre-registers a message id (as AddFile would for a real file,
// without requiring a path) and returns its docid.
func (f *Fake) Seed(messageID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docidLocked(messageID)
}

func (f *Fake) docidLocked(messageID string) int64 {
	if id, ok := f.docids[messageID]; ok {
		return id
	}
	f.nextDoc++
	f.docids[messageID] = f.nextDoc
	f.tags[messageID] = make(map[string]struct{})
	return f.nextDoc
}

func (f *Fake) TagPostings(ctx context.Context) ([]TagPosting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TagPosting
	for msgid, tagset := range f.tags {
		docid := f.docids[msgid]
		for tag := range tagset {
			out = append(out, TagPosting{Tag: tag, DocID: docid})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

func (f *Fake) MessageIDs(ctx context.Context) ([]MessageIDEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MessageIDEntry
	for msgid, docid := range f.docids {
		out = append(out, MessageIDEntry{MessageID: msgid, DocID: docid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (f *Fake) Tags(ctx context.Context, messageID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tagset, ok := f.tags[messageID]
	if !ok {
		return nil, nil
	}
	var out []string
	for tag := range tagset {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) SetTags(ctx context.Context, messageID string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docidLocked(messageID)
	tagset := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagset[t] = struct{}{}
	}
	f.tags[messageID] = tagset
	return nil
}

func (f *Fake) AddFile(ctx context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	messageID := path
	if existing, ok := f.files[path]; ok {
		messageID = existing
	}
	f.files[path] = messageID
	return f.docidLocked(messageID), nil
}

func (f *Fake) RemoveFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

var _ Bridge = (*Fake)(nil)
var _ Bridge = (*NotmuchCLI)(nil)

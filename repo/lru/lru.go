// Package lru implements a blob source that acts as a least-recently-used cache for a nested blob source.
package lru

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
)

var _ snapdir.Source = &Store{}

// Store implements a memory-based least-recently-used cache for a blob source.
// It caches blob contents and the entry lists of committed revisions,
// both of which are immutable once visible.
// Writes pass through to the underlying blob source.
type Store struct {
	blobs *lru.Cache // Ref->[]byte
	revs  *lru.Cache // Revision->[]FileEntry
	s     snapdir.Source
}

// New produces a new Store backed by `s` and caching up to `size` blobs and `size` revisions.
func New(s snapdir.Source, size int) (*Store, error) {
	blobs, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating blob cache")
	}
	revs, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating revision cache")
	}
	return &Store{blobs: blobs, revs: revs, s: s}, nil
}

// HasBlob implements snapdir.Getter.
func (s *Store) HasBlob(ctx context.Context, ref snapdir.Ref) (bool, error) {
	if s.blobs.Contains(ref) {
		return true, nil
	}
	return s.s.HasBlob(ctx, ref)
}

// BlobReader implements snapdir.Getter.
func (s *Store) BlobReader(ctx context.Context, ref snapdir.Ref) (io.ReadCloser, error) {
	if got, ok := s.blobs.Get(ref); ok {
		return ioutil.NopCloser(bytes.NewReader(got.([]byte))), nil
	}
	b, err := snapdir.ReadBlob(ctx, s.s, ref)
	if err != nil {
		return nil, err
	}
	s.blobs.Add(ref, b)
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

// SessionBlobs implements snapdir.Getter.
func (s *Store) SessionBlobs(ctx context.Context, rev snapdir.Revision) ([]snapdir.FileEntry, error) {
	if got, ok := s.revs.Get(rev); ok {
		return copyEntries(got.([]snapdir.FileEntry)), nil
	}
	entries, err := s.s.SessionBlobs(ctx, rev)
	if err != nil {
		return nil, err
	}
	s.revs.Add(rev, copyEntries(entries))
	return entries, nil
}

func copyEntries(entries []snapdir.FileEntry) []snapdir.FileEntry {
	result := make([]snapdir.FileEntry, len(entries))
	copy(result, entries)
	return result
}

// CreateSession implements snapdir.Source.
func (s *Store) CreateSession(ctx context.Context, parent snapdir.Revision) (snapdir.Session, error) {
	sess, err := s.s.CreateSession(ctx, parent)
	if err != nil {
		return nil, err
	}
	return &pending{Session: sess, s: s, added: make(map[snapdir.Ref][]byte)}, nil
}

// Blobs added to a session enter the cache only once the session commits.
type pending struct {
	snapdir.Session
	s     *Store
	added map[snapdir.Ref][]byte
}

func (p *pending) Add(ctx context.Context, data []byte, e snapdir.FileEntry) error {
	if err := p.Session.Add(ctx, data, e); err != nil {
		return err
	}
	b := make([]byte, len(data))
	copy(b, data)
	p.added[e.Ref] = b
	return nil
}

func (p *pending) Commit(ctx context.Context, info snapdir.SessionInfo) (snapdir.Revision, error) {
	rev, err := p.Session.Commit(ctx, info)
	if err != nil {
		return rev, err
	}
	for ref, b := range p.added {
		p.s.blobs.Add(ref, b)
	}
	p.added = nil
	return rev, nil
}

func (p *pending) Cancel(ctx context.Context) error {
	p.added = nil
	return p.Session.Cancel(ctx)
}

func init() {
	repo.Register("lru", func(ctx context.Context, conf map[string]interface{}) (snapdir.Source, error) {
		var size int
		switch v := conf["size"].(type) {
		case int:
			size = v
		case float64:
			size = int(v)
		default:
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := repo.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested source")
		}
		return New(nested, size)
	})
}

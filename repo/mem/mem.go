// Package mem implements an in-memory blob source.
package mem

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
)

var _ snapdir.Source = &Store{}

// Store is a memory-based implementation of a blob source.
type Store struct {
	mu       sync.Mutex
	blobs    map[snapdir.Ref][]byte
	sessions []session // sessions[i] is revision i+1
}

type session struct {
	parent  snapdir.Revision
	info    snapdir.SessionInfo
	entries []snapdir.FileEntry
}

// New produces a new Store.
func New() *Store {
	return &Store{
		blobs: make(map[snapdir.Ref][]byte),
	}
}

// HasBlob implements snapdir.Getter.
func (s *Store) HasBlob(_ context.Context, ref snapdir.Ref) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blobs[ref]
	return ok, nil
}

// BlobReader implements snapdir.Getter.
func (s *Store) BlobReader(_ context.Context, ref snapdir.Ref) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[ref]
	if !ok {
		return nil, snapdir.ErrNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

// SessionBlobs implements snapdir.Getter.
func (s *Store) SessionBlobs(_ context.Context, rev snapdir.Revision) ([]snapdir.FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(rev)
	if err != nil {
		return nil, err
	}
	result := make([]snapdir.FileEntry, len(sess.entries))
	copy(result, sess.entries)
	return result, nil
}

// Info returns the metadata committed with a revision.
func (s *Store) Info(_ context.Context, rev snapdir.Revision) (snapdir.SessionInfo, snapdir.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(rev)
	if err != nil {
		return snapdir.SessionInfo{}, snapdir.NoRevision, err
	}
	return sess.info, sess.parent, nil
}

// Caller must obtain a lock.
func (s *Store) get(rev snapdir.Revision) (*session, error) {
	if rev < 1 || int(rev) > len(s.sessions) {
		return nil, snapdir.ErrNotFound
	}
	return &s.sessions[rev-1], nil
}

// Blobs returns the number of distinct blobs in the store.
func (s *Store) Blobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// CreateSession implements snapdir.Source.
func (s *Store) CreateSession(_ context.Context, parent snapdir.Revision) (snapdir.Session, error) {
	if parent != snapdir.NoRevision {
		s.mu.Lock()
		_, err := s.get(parent)
		s.mu.Unlock()
		if err != nil {
			return nil, errors.Wrapf(err, "getting parent revision %d", parent)
		}
	}
	return &pending{s: s, parent: parent, blobs: make(map[snapdir.Ref][]byte)}, nil
}

type pending struct {
	s       *Store
	parent  snapdir.Revision
	blobs   map[snapdir.Ref][]byte
	entries []snapdir.FileEntry
	paths   snapdir.PathSet
	closed  bool
}

func (p *pending) Add(_ context.Context, data []byte, e snapdir.FileEntry) error {
	if p.closed {
		return snapdir.ErrSessionClosed
	}
	if err := snapdir.CheckEntry(data, e); err != nil {
		return err
	}
	if err := p.paths.Claim(e.Path); err != nil {
		return err
	}
	b := make([]byte, len(data))
	copy(b, data)
	p.blobs[e.Ref] = b
	p.entries = append(p.entries, e)
	return nil
}

func (p *pending) AddExisting(ctx context.Context, e snapdir.FileEntry) error {
	if p.closed {
		return snapdir.ErrSessionClosed
	}
	if _, ok := p.blobs[e.Ref]; !ok {
		has, err := p.s.HasBlob(ctx, e.Ref)
		if err != nil {
			return err
		}
		if !has {
			return errors.Wrapf(snapdir.ErrNotFound, "blob %s for %s", e.Ref, e.Path)
		}
	}
	if err := p.paths.Claim(e.Path); err != nil {
		return err
	}
	p.entries = append(p.entries, e)
	return nil
}

func (p *pending) Commit(_ context.Context, info snapdir.SessionInfo) (snapdir.Revision, error) {
	if p.closed {
		return snapdir.NoRevision, snapdir.ErrSessionClosed
	}
	p.closed = true

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	for ref, b := range p.blobs {
		if _, ok := p.s.blobs[ref]; !ok {
			p.s.blobs[ref] = b
		}
	}
	p.s.sessions = append(p.s.sessions, session{
		parent:  p.parent,
		info:    info,
		entries: p.entries,
	})
	return snapdir.Revision(len(p.s.sessions)), nil
}

func (p *pending) Cancel(context.Context) error {
	p.closed = true
	p.blobs = nil
	p.entries = nil
	return nil
}

func init() {
	repo.Register("mem", func(context.Context, map[string]interface{}) (snapdir.Source, error) {
		return New(), nil
	})
}

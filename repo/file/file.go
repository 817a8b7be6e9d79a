// Package file implements a blob source as a file hierarchy.
package file

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobg/flock"
	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
)

var _ snapdir.Source = &Store{}

// Store is a file-based blob source.
//
// Blobs live at blobs/ab/abcd/abcdef... beneath the root.
// Each committed session is a JSON file sessions/<rev>.json,
// and the file "latest" holds the highest committed revision.
// Committers serialize on the file "lock".
// Nothing is written until a session commits.
type Store struct {
	root    string
	flocker flock.Locker
}

// New produces a new Store storing data beneath `root`.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) blobroot() string {
	return filepath.Join(s.root, "blobs")
}

func (s *Store) blobpath(ref snapdir.Ref) string {
	h := ref.String()
	return filepath.Join(s.blobroot(), h[:2], h[:4], h)
}

func (s *Store) sessionroot() string {
	return filepath.Join(s.root, "sessions")
}

func (s *Store) sessionpath(rev snapdir.Revision) string {
	return filepath.Join(s.sessionroot(), strconv.FormatInt(int64(rev), 10)+".json")
}

func (s *Store) latestpath() string {
	return filepath.Join(s.root, "latest")
}

// HasBlob implements snapdir.Getter.
func (s *Store) HasBlob(_ context.Context, ref snapdir.Ref) (bool, error) {
	path := s.blobpath(ref)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "statting %s", path)
}

// BlobReader implements snapdir.Getter.
func (s *Store) BlobReader(_ context.Context, ref snapdir.Ref) (io.ReadCloser, error) {
	path := s.blobpath(ref)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, snapdir.ErrNotFound
	}
	return f, errors.Wrapf(err, "opening %s", path)
}

type sessionFile struct {
	Parent  snapdir.Revision    `json:"parent"`
	Info    snapdir.SessionInfo `json:"info"`
	Entries []snapdir.FileEntry `json:"entries"`
}

func (s *Store) readSession(rev snapdir.Revision) (*sessionFile, error) {
	if rev < 1 {
		return nil, snapdir.ErrNotFound
	}
	path := s.sessionpath(rev)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, snapdir.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var sf sessionFile
	err = json.Unmarshal(b, &sf)
	return &sf, errors.Wrapf(err, "decoding %s", path)
}

// SessionBlobs implements snapdir.Getter.
func (s *Store) SessionBlobs(_ context.Context, rev snapdir.Revision) ([]snapdir.FileEntry, error) {
	sf, err := s.readSession(rev)
	if err != nil {
		return nil, err
	}
	return sf.Entries, nil
}

// Info returns the metadata committed with a revision, and its parent.
func (s *Store) Info(_ context.Context, rev snapdir.Revision) (snapdir.SessionInfo, snapdir.Revision, error) {
	sf, err := s.readSession(rev)
	if err != nil {
		return snapdir.SessionInfo{}, snapdir.NoRevision, err
	}
	return sf.Info, sf.Parent, nil
}

// The lock file is never replaced,
// unlike "latest", which is rewritten atomically under the lock.
func (s *Store) lockpath() string {
	return filepath.Join(s.root, "lock")
}

func (s *Store) lock() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", s.root)
	}
	path := s.lockpath()
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	f.Close()
	return s.flocker.Lock(path)
}

func (s *Store) unlock() error {
	return s.flocker.Unlock(s.lockpath())
}

// File lock must be held.
func (s *Store) latest() (snapdir.Revision, error) {
	b, err := os.ReadFile(s.latestpath())
	if os.IsNotExist(err) {
		return snapdir.NoRevision, nil
	}
	if err != nil {
		return snapdir.NoRevision, errors.Wrap(err, "reading latest revision")
	}
	str := strings.TrimSpace(string(b))
	if str == "" {
		return snapdir.NoRevision, nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	return snapdir.Revision(n), errors.Wrapf(err, "parsing latest revision %q", str)
}

// CreateSession implements snapdir.Source.
func (s *Store) CreateSession(ctx context.Context, parent snapdir.Revision) (snapdir.Session, error) {
	if parent != snapdir.NoRevision {
		if _, err := s.readSession(parent); err != nil {
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

func (p *pending) Commit(ctx context.Context, info snapdir.SessionInfo) (snapdir.Revision, error) {
	if p.closed {
		return snapdir.NoRevision, snapdir.ErrSessionClosed
	}
	p.closed = true

	for ref, b := range p.blobs {
		if err := p.s.putBlob(ref, b); err != nil {
			return snapdir.NoRevision, err
		}
	}

	if err := p.s.lock(); err != nil {
		return snapdir.NoRevision, errors.Wrap(err, "locking revision counter")
	}
	defer p.s.unlock()

	latest, err := p.s.latest()
	if err != nil {
		return snapdir.NoRevision, err
	}
	rev := latest + 1

	entries := p.entries
	if entries == nil {
		entries = []snapdir.FileEntry{}
	}
	b, err := json.Marshal(sessionFile{Parent: p.parent, Info: info, Entries: entries})
	if err != nil {
		return snapdir.NoRevision, errors.Wrapf(err, "encoding revision %d", rev)
	}
	if err = os.MkdirAll(p.s.sessionroot(), 0755); err != nil {
		return snapdir.NoRevision, errors.Wrapf(err, "ensuring %s exists", p.s.sessionroot())
	}
	path := p.s.sessionpath(rev)
	if err = renameio.WriteFile(path, b, 0644); err != nil {
		return snapdir.NoRevision, errors.Wrapf(err, "writing %s", path)
	}
	err = renameio.WriteFile(p.s.latestpath(), []byte(strconv.FormatInt(int64(rev), 10)+"\n"), 0644)
	return rev, errors.Wrapf(err, "recording revision %d", rev)
}

// Blobs are written under their final names atomically,
// so a blob file that exists is always complete.
func (s *Store) putBlob(ref snapdir.Ref, b []byte) error {
	path := s.blobpath(ref)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}
	return errors.Wrapf(renameio.WriteFile(path, b, 0644), "writing %s", path)
}

func (p *pending) Cancel(context.Context) error {
	p.closed = true
	p.blobs = nil
	p.entries = nil
	return nil
}

func init() {
	repo.Register("file", func(_ context.Context, conf map[string]interface{}) (snapdir.Source, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}

package snapdir

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

// Getter is the read-only side of a blob source.
type Getter interface {
	// HasBlob tells whether the source holds the blob with the given ref.
	HasBlob(context.Context, Ref) (bool, error)

	// BlobReader returns a reader for the bytes of the blob with the given ref.
	// The caller must close it.
	// If no such blob exists, the error is ErrNotFound.
	BlobReader(context.Context, Ref) (io.ReadCloser, error)

	// SessionBlobs returns the entries of a committed revision,
	// in the order in which they were added.
	// If no such revision exists, the error is ErrNotFound.
	SessionBlobs(context.Context, Revision) ([]FileEntry, error)
}

// Source is a blob source:
// a content-addressed repository of blobs and committed sessions.
type Source interface {
	Getter

	// CreateSession opens a pending session whose parent is the given revision
	// (NoRevision for the first revision of a repository).
	// Nothing added to a pending session is visible as a revision until Commit succeeds.
	CreateSession(ctx context.Context, parent Revision) (Session, error)
}

// Session is a pending session produced by Source.CreateSession.
type Session interface {
	// Add adds a file whose blob is not yet in the source.
	// Implementations must verify data against e (see CheckEntry).
	Add(ctx context.Context, data []byte, e FileEntry) error

	// AddExisting adds a file whose blob the source already holds.
	AddExisting(ctx context.Context, e FileEntry) error

	// Commit makes the session visible as a new revision and returns it.
	Commit(context.Context, SessionInfo) (Revision, error)

	// Cancel discards a pending session.
	// It is a no-op on a session that has already been committed or canceled.
	Cancel(context.Context) error
}

var (
	// ErrNotFound is the error returned
	// when a Getter tries to access a non-existent blob or revision.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed is the error returned
	// when adding to or committing a session that was already committed or canceled.
	ErrSessionClosed = errors.New("session closed")
)

// ReadBlob reads the complete contents of a blob.
func ReadBlob(ctx context.Context, g Getter, ref Ref) ([]byte, error) {
	r, err := g.BlobReader(ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(err, "opening blob %s", ref)
	}
	defer r.Close()

	b, err := ioutil.ReadAll(r)
	return b, errors.Wrapf(err, "reading blob %s", ref)
}

// DuplicatePathError is returned by Session implementations
// when the same path is added twice to one session.
type DuplicatePathError struct {
	Path string
}

func (e *DuplicatePathError) Error() string {
	return "duplicate path " + e.Path + " in session"
}

// PathSet tracks the paths added to a pending session.
// The zero value is ready to use.
type PathSet map[string]struct{}

// Claim records p, returning a *DuplicatePathError if it was already claimed
// and an error if p is not a valid entry path.
func (ps *PathSet) Claim(p string) error {
	if !ValidPath(p) {
		return errors.Errorf("invalid entry path %q", p)
	}
	if *ps == nil {
		*ps = make(PathSet)
	}
	if _, ok := (*ps)[p]; ok {
		return &DuplicatePathError{Path: p}
	}
	(*ps)[p] = struct{}{}
	return nil
}

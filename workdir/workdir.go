// Package workdir binds a directory on disk to a session in a blob source.
//
// A Workdir is either unbound, with no revision recorded,
// or bound to a repository, a session name, and a revision.
// Checkout and Checkin both leave it bound.
// The binding is kept in a small JSON file beneath MetaDir in the tree,
// so that Load can pick it up again later.
package workdir

import (
	"context"
	"crypto/md5"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/snapdir"
)

// ErrUnbound is the error returned by Load
// for a directory with no recorded binding.
var ErrUnbound = errors.New("working tree is not bound to a revision")

// Workdir is a working tree and its binding.
type Workdir struct {
	Root     string // absolute
	Repo     string // where the blob source lives, as recorded in the metadata
	Session  string
	Revision snapdir.Revision

	src       snapdir.Source
	ignore    IgnoreFunc
	log       *zap.Logger
	now       func() time.Time
	cacheSize int
	hashes    *HashCache
}

// Option is the type of an option passed to New or Load.
type Option func(*Workdir)

// WithIgnore sets the predicate for paths to leave out of sessions.
// MetaDir is left out regardless.
func WithIgnore(f IgnoreFunc) Option {
	return func(w *Workdir) {
		w.ignore = f
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(w *Workdir) {
		w.log = log
	}
}

// WithClock sets the source of commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workdir) {
		w.now = now
	}
}

func WithHashCacheSize(n int) Option {
	return func(w *Workdir) {
		w.cacheSize = n
	}
}

// New produces a Workdir rooted at the absolute path root.
// A revision of snapdir.NoRevision makes it unbound.
func New(root, repo, session string, rev snapdir.Revision, src snapdir.Source, opts ...Option) (*Workdir, error) {
	if !filepath.IsAbs(root) {
		return nil, errors.Errorf("workdir path must be absolute, got %s", root)
	}
	// The walk does not follow symlinks, so resolve one at the root itself.
	// A root that does not exist yet is kept as given.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "resolving %s", root)
	}
	w := &Workdir{
		Root:      filepath.Clean(root),
		Repo:      repo,
		Session:   session,
		Revision:  rev,
		src:       src,
		ignore:    ignoreNothing,
		log:       zap.NewNop(),
		now:       time.Now,
		cacheSize: DefaultHashCacheSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	hashes, err := NewHashCache(w.Root, w.cacheSize)
	if err != nil {
		return nil, err
	}
	w.hashes = hashes
	return w, nil
}

// Load produces a Workdir from the metadata recorded beneath root.
// It returns ErrUnbound if there is none.
func Load(root string, src snapdir.Source, opts ...Option) (*Workdir, error) {
	m, err := readMetadata(root)
	if err != nil {
		return nil, err
	}
	return New(root, m.RepoPath, m.SessionName, m.SessionID, src, opts...)
}

// Bound tells whether w has a revision.
func (w *Workdir) Bound() bool {
	return w.Revision != snapdir.NoRevision
}

func (w *Workdir) abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Binds w to rev once the binding is on disk.
func (w *Workdir) bind(rev snapdir.Revision) error {
	err := writeMetadata(w.Root, metadata{
		RepoPath:    w.Repo,
		SessionName: w.Session,
		SessionID:   rev,
	})
	if err != nil {
		return err
	}
	w.Revision = rev
	return nil
}

// Checkout writes every file of the given revision into the tree,
// creating directories as needed,
// and binds w to the revision.
// Files not in the revision are left alone.
// It is not transactional, but running it again is safe.
func (w *Workdir) Checkout(ctx context.Context, rev snapdir.Revision) error {
	w.hashes.Refresh()

	info, err := os.Stat(w.Root)
	if err != nil {
		return errors.Wrapf(err, "statting %s", w.Root)
	}
	if !info.IsDir() {
		return errors.Errorf("%s is not a directory", w.Root)
	}

	entries, err := w.src.SessionBlobs(ctx, rev)
	if err != nil {
		return errors.Wrapf(err, "getting entries of revision %d", rev)
	}
	for _, e := range entries {
		if !snapdir.ValidPath(e.Path) || e.Path == MetaDir || strings.HasPrefix(e.Path, MetaDir+"/") {
			return errors.Errorf("refusing to check out path %q", e.Path)
		}
	}

	for _, e := range entries {
		if err = w.checkoutFile(ctx, e); err != nil {
			return err
		}
		w.hashes.Invalidate(e.Path)
		w.log.Debug("checked out", zap.String("path", e.Path), zap.Stringer("ref", e.Ref))
	}

	if err = w.bind(rev); err != nil {
		return err
	}
	w.log.Info("checkout", zap.String("root", w.Root), zap.Int64("rev", int64(rev)), zap.Int("files", len(entries)))
	return nil
}

// The blob is streamed into the file and rehashed on the way.
func (w *Workdir) checkoutFile(ctx context.Context, e snapdir.FileEntry) (err error) {
	path := w.abs(e.Path)
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	// Never write through a symlink.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err = os.Remove(path); err != nil {
			return errors.Wrapf(err, "removing symlink %s", path)
		}
	}

	r, err := w.src.BlobReader(ctx, e.Ref)
	if err != nil {
		return errors.Wrapf(err, "getting blob %s for %s", e.Ref, e.Path)
	}
	defer r.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = errors.Wrapf(closeErr, "closing %s", path)
		}
	}()

	hasher := md5.New()
	n, err := io.CopyBuffer(io.MultiWriter(f, hasher), r, make([]byte, chunkSize))
	if err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	var got snapdir.Ref
	copy(got[:], hasher.Sum(nil))
	if got != e.Ref || n != e.Size {
		return &snapdir.IntegrityError{Path: e.Path, Want: e.Ref, Got: got, WantSize: e.Size, GotSize: n}
	}
	return nil
}

// Checkin commits every tracked file in the tree as a new session
// whose parent is the given revision (or none),
// binds w to the new revision,
// and returns it.
//
// Content the source already has is not sent again.
// If any file cannot be read,
// or changes between being hashed and being read,
// nothing is committed.
func (w *Workdir) Checkin(ctx context.Context, parent snapdir.Revision) (snapdir.Revision, error) {
	w.hashes.Refresh()

	sess, err := w.src.CreateSession(ctx, parent)
	if err != nil {
		return snapdir.NoRevision, errors.Wrapf(err, "creating session with parent %d", parent)
	}

	if err = w.checkinTree(ctx, sess); err != nil {
		if cancelErr := sess.Cancel(ctx); cancelErr != nil {
			w.log.Error("canceling session", zap.Error(cancelErr))
		}
		return snapdir.NoRevision, err
	}

	now := w.now()
	rev, err := sess.Commit(ctx, snapdir.SessionInfo{
		Name:      w.Session,
		Timestamp: now.Unix(),
		Date:      now.Format(time.ANSIC),
	})
	if err != nil {
		return snapdir.NoRevision, errors.Wrap(err, "committing session")
	}

	if err = w.bind(rev); err != nil {
		return rev, err
	}
	w.log.Info("checkin", zap.String("root", w.Root), zap.String("session", w.Session), zap.Int64("rev", int64(rev)))
	return rev, nil
}

func (w *Workdir) checkinTree(ctx context.Context, sess snapdir.Session) error {
	sent := make(map[snapdir.Ref]bool)

	return w.walk(func(rel string, tracked bool) error {
		if !tracked {
			return nil
		}
		ref, size, err := w.hashes.Get(rel)
		if err != nil {
			return err
		}
		e := snapdir.FileEntry{Path: rel, Ref: ref, Size: size}

		has := sent[ref]
		if !has {
			if has, err = w.src.HasBlob(ctx, ref); err != nil {
				return err
			}
		}
		if has {
			w.log.Debug("adding existing", zap.String("path", rel), zap.Stringer("ref", ref))
			return errors.Wrapf(sess.AddExisting(ctx, e), "adding %s", rel)
		}

		path := w.abs(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		if err = snapdir.CheckEntry(data, e); err != nil {
			return errors.Wrapf(err, "%s changed during checkin", rel)
		}
		w.log.Debug("adding", zap.String("path", rel), zap.Stringer("ref", ref), zap.Int64("size", size))
		if err = sess.Add(ctx, data, e); err != nil {
			return errors.Wrapf(err, "adding %s", rel)
		}
		sent[ref] = true
		return nil
	})
}

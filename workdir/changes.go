package workdir

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
)

// ChangeSet classifies the files of a working tree
// against the revision it is bound to.
// Every list is sorted,
// and no path appears in more than one.
type ChangeSet struct {
	Unchanged []string
	New       []string
	Modified  []string
	Deleted   []string

	// Ignored holds files that exist but are not tracked:
	// those the ignore predicate rejects,
	// anything that is not a regular file,
	// and recorded files beneath ignored directories.
	Ignored []string
}

// The visit function is called once for every non-directory beneath the root,
// except those under MetaDir or an ignored directory.
// Tracked is false for ignored paths and for anything that is not a regular file.
// Entries that vanish during the walk are skipped.
func (w *Workdir) walk(visit func(rel string, tracked bool) error) error {
	return filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != w.Root && os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(err, "walking %s", path)
		}
		if path == w.Root {
			return nil
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return errors.Wrapf(err, "relativizing %s", path)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == MetaDir || w.ignore(rel, d) {
				return filepath.SkipDir
			}
			return nil
		}
		return visit(rel, d.Type().IsRegular() && !w.ignore(rel, d))
	})
}

// Tree lists the tracked files of the working tree.
func (w *Workdir) Tree(context.Context) ([]string, error) {
	var result []string
	err := w.walk(func(rel string, tracked bool) error {
		if tracked {
			result = append(result, rel)
		}
		return nil
	})
	sort.Strings(result)
	return result, err
}

// Changes compares the working tree with its revision by content hash.
// If w is unbound, every tracked file is new.
func (w *Workdir) Changes(ctx context.Context) (*ChangeSet, error) {
	w.hashes.Refresh()

	var (
		tracked = make(map[string]bool)
		ignored = make(map[string]bool)
	)
	err := w.walk(func(rel string, isTracked bool) error {
		if isTracked {
			tracked[rel] = true
		} else {
			ignored[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entries []snapdir.FileEntry
	if w.Bound() {
		entries, err = w.src.SessionBlobs(ctx, w.Revision)
		if err != nil {
			return nil, errors.Wrapf(err, "getting entries of revision %d", w.Revision)
		}
	}

	cs := new(ChangeSet)
	for _, e := range entries {
		if tracked[e.Path] {
			delete(tracked, e.Path)
			ref, _, err := w.hashes.Get(e.Path)
			if os.IsNotExist(errors.Cause(err)) {
				cs.Deleted = append(cs.Deleted, e.Path)
				continue
			}
			if err != nil {
				return nil, err
			}
			if ref == e.Ref {
				cs.Unchanged = append(cs.Unchanged, e.Path)
			} else {
				cs.Modified = append(cs.Modified, e.Path)
			}
			continue
		}
		if ignored[e.Path] {
			continue
		}
		if info, err := os.Lstat(w.abs(e.Path)); err == nil && info.Mode().IsRegular() {
			// Beneath an ignored directory.
			ignored[e.Path] = true
			continue
		}
		cs.Deleted = append(cs.Deleted, e.Path)
	}
	for rel := range tracked {
		cs.New = append(cs.New, rel)
	}
	for rel := range ignored {
		cs.Ignored = append(cs.Ignored, rel)
	}

	for _, l := range [][]string{cs.Unchanged, cs.New, cs.Modified, cs.Deleted, cs.Ignored} {
		sort.Strings(l)
	}

	if !w.Bound() && (len(cs.Unchanged) > 0 || len(cs.Modified) > 0 || len(cs.Deleted) > 0) {
		return nil, errors.New("internal error: unbound working tree has recorded files")
	}
	return cs, nil
}

// ExistsInSession tells whether any file of w's revision has the given ref.
func (w *Workdir) ExistsInSession(ctx context.Context, ref snapdir.Ref) (bool, error) {
	if !w.Bound() {
		return false, nil
	}
	entries, err := w.src.SessionBlobs(ctx, w.Revision)
	if err != nil {
		return false, errors.Wrapf(err, "getting entries of revision %d", w.Revision)
	}
	for _, e := range entries {
		if e.Ref == ref {
			return true, nil
		}
	}
	return false, nil
}

// ExistsInWorkdir tells whether any tracked file in the tree has the given ref.
func (w *Workdir) ExistsInWorkdir(_ context.Context, ref snapdir.Ref) (bool, error) {
	w.hashes.Refresh()

	errFound := errors.New("found")
	err := w.walk(func(rel string, tracked bool) error {
		if !tracked {
			return nil
		}
		got, _, err := w.hashes.Get(rel)
		if err != nil {
			return err
		}
		if got == ref {
			return errFound
		}
		return nil
	})
	if err == errFound {
		return true, nil
	}
	return false, err
}

// BlobInfo returns the entry for the given path in w's revision.
// The file need not exist in the tree.
// The boolean result is false if the revision has no such path.
func (w *Workdir) BlobInfo(ctx context.Context, rel string) (snapdir.FileEntry, bool, error) {
	if !w.Bound() {
		return snapdir.FileEntry{}, false, nil
	}
	entries, err := w.src.SessionBlobs(ctx, w.Revision)
	if err != nil {
		return snapdir.FileEntry{}, false, errors.Wrapf(err, "getting entries of revision %d", w.Revision)
	}
	for _, e := range entries {
		if e.Path == rel {
			return e, true, nil
		}
	}
	return snapdir.FileEntry{}, false, nil
}

package workdir

import (
	"io/fs"
	"path"

	"github.com/pkg/errors"
)

// MetaDir is the name of the directory holding a working tree's metadata.
// It is never part of a session.
const MetaDir = ".snapdir"

// IgnoreFunc tells whether to leave a path out of sessions.
// The path is slash-separated and relative to the working tree root.
// When an IgnoreFunc returns true for a directory,
// nothing beneath it is visited.
type IgnoreFunc func(rel string, d fs.DirEntry) bool

// IgnorePatterns produces an IgnoreFunc matching any of the given glob patterns
// (in the syntax of path.Match)
// against either the base name of a path or the whole relative path.
func IgnorePatterns(patterns ...string) (IgnoreFunc, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, errors.Wrapf(err, "pattern %q", p)
		}
	}
	return func(rel string, _ fs.DirEntry) bool {
		base := path.Base(rel)
		for _, p := range patterns {
			if ok, _ := path.Match(p, base); ok {
				return true
			}
			if ok, _ := path.Match(p, rel); ok {
				return true
			}
		}
		return false
	}, nil
}

func ignoreNothing(string, fs.DirEntry) bool { return false }

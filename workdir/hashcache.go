package workdir

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
)

// DefaultHashCacheSize is the number of file hashes a HashCache remembers
// unless WithHashCacheSize says otherwise.
const DefaultHashCacheSize = 4096

const chunkSize = 64 * 1024

// HashCache memoizes the MD5 hashes of files beneath a root.
// A memoized hash describes the file as it was when first hashed;
// callers that may have changed a file since must Invalidate it,
// or Refresh the whole cache.
// Every Workdir operation begins with a Refresh.
type HashCache struct {
	root string
	c    *lru.Cache // relative path -> fileHash
}

type fileHash struct {
	ref  snapdir.Ref
	size int64
}

// NewHashCache produces a HashCache for files beneath root
// holding at most size entries.
func NewHashCache(root string, size int) (*HashCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating hash cache")
	}
	return &HashCache{root: root, c: c}, nil
}

// Get returns the hash and size of the file at rel,
// a slash-separated path relative to the root.
func (h *HashCache) Get(rel string) (snapdir.Ref, int64, error) {
	if got, ok := h.c.Get(rel); ok {
		fh := got.(fileHash)
		return fh.ref, fh.size, nil
	}
	ref, size, err := hashFile(filepath.Join(h.root, filepath.FromSlash(rel)))
	if err != nil {
		return snapdir.Zero, 0, err
	}
	h.c.Add(rel, fileHash{ref: ref, size: size})
	return ref, size, nil
}

// Invalidate forgets the hash of the file at rel.
func (h *HashCache) Invalidate(rel string) {
	h.c.Remove(rel)
}

// Refresh forgets every hash.
func (h *HashCache) Refresh() {
	h.c.Purge()
}

func hashFile(path string) (snapdir.Ref, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return snapdir.Zero, 0, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	hasher := md5.New()
	n, err := io.CopyBuffer(hasher, f, make([]byte, chunkSize))
	if err != nil {
		return snapdir.Zero, 0, errors.Wrapf(err, "hashing %s", path)
	}
	var ref snapdir.Ref
	copy(ref[:], hasher.Sum(nil))
	return ref, n, nil
}

// Package checksum maintains a persistent cache mapping blob refs (MD5)
// to SHA2-256 digests of the same bytes.
//
// The cache is an accelerator only.
// Any fault in its storage is handled by discarding the store and starting over,
// and every digest it computes is checked against the blob's ref first.
package checksum

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/snapdir"
)

// FileName is the name of the cache database within its directory.
const FileName = "sha256cache"

const chunkSize = 64 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS checksums (
  md5 CHAR(32) PRIMARY KEY NOT NULL,
  sha256 CHAR(64) NOT NULL
);
`

// StorageError is a failure of the cache's own store.
// Only errors of this type cause the store to be reset.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("checksum store: %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Cache is a persistent MD5-to-SHA256 cache.
// It is safe for concurrent use by the goroutines of one process.
// It must not be written by more than one process at a time.
//
// Writes are buffered in a transaction until Sync or Close.
// A Cache should be closed when no longer needed,
// typically with defer c.Close().
type Cache struct {
	src  snapdir.Getter
	path string
	log  *zap.Logger

	mu         sync.Mutex
	db         *sql.DB
	tx         *sql.Tx
	persistent bool
	closed     bool
}

// Option is the type of an option passed to Open.
type Option func(*Cache)

// WithLogger sets the logger for reporting storage faults.
// The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// Open opens or creates the cache in dir,
// reading blob contents from src on a miss.
// It never fails.
// If the store cannot be opened it is reset;
// if it cannot be recreated on disk the cache lives in memory only,
// and failing that it caches nothing.
//
// The cache does not own src and never closes it.
func Open(ctx context.Context, dir string, src snapdir.Getter, opts ...Option) *Cache {
	c := &Cache{
		src:  src,
		path: filepath.Join(dir, FileName),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	err := os.MkdirAll(dir, 0755)
	if err == nil {
		err = c.open(ctx, c.path)
	} else {
		err = storageErr("creating directory", err)
	}
	if err != nil {
		c.log.Warn("opening checksum cache", zap.String("path", c.path), zap.Error(err))
		c.reset(ctx)
	}
	return c
}

// Mutex must be held.
func (c *Cache) open(ctx context.Context, conn string) error {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return storageErr("opening", err)
	}
	// All access goes through one connection,
	// which is also what keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return storageErr("creating schema", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return storageErr("beginning transaction", err)
	}
	c.db, c.tx = db, tx
	c.persistent = conn != ":memory:"
	return nil
}

// Mutex must be held.
func (c *Cache) drop() {
	if c.tx != nil {
		c.tx.Rollback()
	}
	if c.db != nil {
		c.db.Close()
	}
	c.db, c.tx = nil, nil
	c.persistent = false
}

// Mutex must be held.
func (c *Cache) reset(ctx context.Context) {
	c.drop()

	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(c.path + suffix); err != nil && !os.IsNotExist(err) {
			c.log.Warn("removing checksum cache", zap.String("path", c.path+suffix), zap.Error(err))
		}
	}

	err := c.open(ctx, c.path)
	if err == nil {
		return
	}
	c.log.Warn("recreating checksum cache, continuing in memory", zap.String("path", c.path), zap.Error(err))

	if err = c.open(ctx, ":memory:"); err != nil {
		c.log.Warn("creating in-memory checksum cache, continuing without one", zap.Error(err))
	}
}

// Mutex must be held.
// Storage errors reset the store and are absorbed.
// Anything else is returned.
func (c *Cache) absorb(ctx context.Context, err error) error {
	var serr *StorageError
	if !errors.As(err, &serr) {
		return err
	}
	c.log.Warn("checksum cache fault, resetting", zap.String("path", c.path), zap.Error(err))
	c.reset(ctx)
	return nil
}

// Mutex must be held.
func (c *Cache) lookup(ctx context.Context, ref snapdir.Ref) (snapdir.Digest, bool, error) {
	if c.tx == nil {
		return snapdir.Digest{}, false, nil
	}

	const q = `SELECT sha256 FROM checksums WHERE md5 = $1`

	var s string
	err := c.tx.QueryRowContext(ctx, q, ref.String()).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return snapdir.Digest{}, false, nil
	}
	if err != nil {
		return snapdir.Digest{}, false, storageErr("reading", err)
	}
	d, err := snapdir.DigestFromHex(s)
	if err != nil {
		return snapdir.Digest{}, false, storageErr("decoding", err)
	}
	return d, true, nil
}

// Mutex must be held.
func (c *Cache) store(ctx context.Context, ref snapdir.Ref, d snapdir.Digest) error {
	if c.tx == nil {
		return nil
	}

	const q = `INSERT OR REPLACE INTO checksums (md5, sha256) VALUES ($1, $2)`

	_, err := c.tx.ExecContext(ctx, q, ref.String(), d.String())
	return storageErr("writing", err)
}

// Secondary returns the SHA2-256 digest of the blob with the given ref.
// On a miss it streams the blob from the source,
// and returns a *snapdir.IntegrityError if the bytes do not hash to ref.
// Errors from the source are returned unchanged.
func (c *Cache) Secondary(ctx context.Context, ref snapdir.Ref) (snapdir.Digest, error) {
	c.mu.Lock()
	d, ok, err := c.lookup(ctx, ref)
	if err = c.absorb(ctx, err); err != nil {
		c.mu.Unlock()
		return snapdir.Digest{}, err
	}
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err = c.compute(ctx, ref)
	if err != nil {
		return snapdir.Digest{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return d, c.absorb(ctx, c.store(ctx, ref, d))
}

// The blob is read in bounded chunks,
// so memory use does not depend on its size.
func (c *Cache) compute(ctx context.Context, ref snapdir.Ref) (snapdir.Digest, error) {
	r, err := c.src.BlobReader(ctx, ref)
	if err != nil {
		return snapdir.Digest{}, errors.Wrapf(err, "getting blob %s", ref)
	}
	defer r.Close()

	var (
		m    = md5.New()
		s    = sha256.New()
		buf  = make([]byte, chunkSize)
		size int64
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.Write(buf[:n])
			s.Write(buf[:n])
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return snapdir.Digest{}, errors.Wrapf(err, "reading blob %s", ref)
		}
	}

	var got snapdir.Ref
	copy(got[:], m.Sum(nil))
	if got != ref {
		return snapdir.Digest{}, &snapdir.IntegrityError{Want: ref, Got: got, WantSize: -1, GotSize: size}
	}

	var d snapdir.Digest
	copy(d[:], s.Sum(nil))
	return d, nil
}

// VerifyAll recomputes every cached digest from the source.
// It returns false, after logging the offending ref, at the first mismatch.
// A fault in the cache's own store resets it and also yields false.
// Errors from the source, including integrity errors, are returned.
func (c *Cache) VerifyAll(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return true, nil
	}

	type record struct{ md5, sha256 string }

	const q = `SELECT md5, sha256 FROM checksums ORDER BY md5`

	var records []record
	err := sqlutil.ForQueryRows(ctx, c.tx, q, func(m, s string) {
		records = append(records, record{md5: m, sha256: s})
	})
	if err != nil {
		c.absorb(ctx, storageErr("listing", err))
		return false, nil
	}

	for _, rec := range records {
		ref, err := snapdir.RefFromHex(rec.md5)
		if err != nil {
			c.log.Warn("malformed ref in checksum cache", zap.String("md5", rec.md5))
			return false, nil
		}
		got, err := c.compute(ctx, ref)
		if err != nil {
			return false, err
		}
		if got.String() != rec.sha256 {
			c.log.Warn("checksum cache mismatch", zap.Stringer("ref", ref), zap.String("cached", rec.sha256), zap.Stringer("computed", got))
			return false, nil
		}
	}
	return true, nil
}

// Len returns the number of cached digests,
// including those not yet synced.
func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return 0, nil
	}

	var n int
	err := c.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM checksums`).Scan(&n)
	return n, c.absorb(ctx, storageErr("counting", err))
}

// Persistent tells whether the cache is currently backed by its file on disk.
func (c *Cache) Persistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistent
}

// Reset discards the store and reopens it empty.
func (c *Cache) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(ctx)
}

// Sync flushes buffered writes to the store.
// A failure resets the store and is otherwise only logged.
func (c *Cache) Sync(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync(ctx)
}

// Mutex must be held.
func (c *Cache) sync(ctx context.Context) {
	if c.tx == nil {
		return
	}
	err := storageErr("committing", c.tx.Commit())
	if err == nil {
		var tx *sql.Tx
		tx, err = c.db.BeginTx(ctx, nil)
		c.tx = tx
		err = storageErr("beginning transaction", err)
	}
	c.absorb(ctx, err)
}

// Close syncs the cache and releases its store.
// Closing a closed cache does nothing.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.sync(context.Background())
	if c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.persistent = false
	return storageErr("closing", err)
}

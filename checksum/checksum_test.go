package checksum

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo/mem"
	"github.com/bobg/snapdir/testutil"
)

func withTestDir(t *testing.T, f func(dir string)) {
	dir, err := os.MkdirTemp("", "checksum")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	f(dir)
}

// Commits each blob to src and returns their refs.
func populate(ctx context.Context, t *testing.T, src snapdir.Source, blobs ...[]byte) []snapdir.Ref {
	sess, err := src.CreateSession(ctx, snapdir.NoRevision)
	if err != nil {
		t.Fatal(err)
	}
	var refs []snapdir.Ref
	for i, b := range blobs {
		e := snapdir.FileEntry{Path: fmt.Sprintf("f%d", i), Ref: snapdir.BlobRef(b), Size: int64(len(b))}
		if err = sess.Add(ctx, b, e); err != nil {
			t.Fatal(err)
		}
		refs = append(refs, e.Ref)
	}
	if _, err = sess.Commit(ctx, snapdir.SessionInfo{Name: "main"}); err != nil {
		t.Fatal(err)
	}
	return refs
}

func checkSecondary(ctx context.Context, t *testing.T, c *Cache, ref snapdir.Ref, data []byte) {
	t.Helper()
	got, err := c.Secondary(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if want := snapdir.Digest(sha256.Sum256(data)); got != want {
		t.Errorf("got digest %s for %s, want %s", got, ref, want)
	}
}

func TestSecondary(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		blobs := [][]byte{[]byte("hello"), {}, testutil.Data(3*chunkSize + 17)}
		refs := populate(ctx, t, src, blobs...)

		c := Open(ctx, dir, src)
		defer c.Close()

		if !c.Persistent() {
			t.Error("cache is not persistent")
		}

		for i, ref := range refs {
			checkSecondary(ctx, t, c, ref, blobs[i])
			// Again, from the cache this time.
			checkSecondary(ctx, t, c, ref, blobs[i])
		}
		n, err := c.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(blobs) {
			t.Errorf("got %d cached records, want %d", n, len(blobs))
		}
	})
}

func TestPersistence(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		data := []byte("hello")
		refs := populate(ctx, t, src, data)

		c := Open(ctx, dir, src)
		checkSecondary(ctx, t, c, refs[0], data)
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("second Close: %s", err)
		}

		// A hit never consults the source.
		c = Open(ctx, dir, mem.New())
		defer c.Close()
		checkSecondary(ctx, t, c, refs[0], data)
	})
}

func TestCorruptStore(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		data := []byte("hello")
		refs := populate(ctx, t, src, data)

		if err := ioutil.WriteFile(filepath.Join(dir, FileName), []byte("this is not a database"), 0644); err != nil {
			t.Fatal(err)
		}

		core, logs := observer.New(zapcore.WarnLevel)
		c := Open(ctx, dir, src, WithLogger(zap.New(core)))
		defer c.Close()

		if logs.Len() == 0 {
			t.Error("no warning logged for corrupt store")
		}
		if !c.Persistent() {
			t.Error("cache did not recover its file")
		}
		checkSecondary(ctx, t, c, refs[0], data)
	})
}

func TestFaultResets(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		hello, world := []byte("hello"), []byte("world!")
		refs := populate(ctx, t, src, hello, world)

		c := Open(ctx, dir, src)
		defer c.Close()

		checkSecondary(ctx, t, c, refs[0], hello)

		// Pull the transaction out from under the cache.
		c.tx.Rollback()

		checkSecondary(ctx, t, c, refs[1], world)
		n, err := c.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("got %d records after reset, want 1", n)
		}
		checkSecondary(ctx, t, c, refs[0], hello)
	})
}

func TestUnwritableDir(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		data := []byte("hello")
		refs := populate(ctx, t, src, data)

		notDir := filepath.Join(dir, "file")
		if err := ioutil.WriteFile(notDir, nil, 0644); err != nil {
			t.Fatal(err)
		}

		c := Open(ctx, filepath.Join(notDir, "sub"), src)
		defer c.Close()

		if c.Persistent() {
			t.Error("cache claims to be persistent beneath a regular file")
		}
		checkSecondary(ctx, t, c, refs[0], data)
		checkSecondary(ctx, t, c, refs[0], data)
	})
}

func TestReset(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		data := []byte("hello")
		refs := populate(ctx, t, src, data)

		c := Open(ctx, dir, src)
		defer c.Close()

		checkSecondary(ctx, t, c, refs[0], data)
		c.Sync(ctx)
		c.Reset(ctx)

		n, err := c.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("got %d records after reset, want 0", n)
		}
		checkSecondary(ctx, t, c, refs[0], data)
	})
}

// Serves the wrong bytes for every blob.
type tamperedGetter struct {
	snapdir.Getter
}

func (tamperedGetter) BlobReader(context.Context, snapdir.Ref) (io.ReadCloser, error) {
	return ioutil.NopCloser(bytes.NewReader([]byte("tampered"))), nil
}

func TestIntegrity(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		data := []byte("hello")
		refs := populate(ctx, t, src, data)

		c := Open(ctx, dir, tamperedGetter{Getter: src})
		defer c.Close()

		_, err := c.Secondary(ctx, refs[0])
		var intErr *snapdir.IntegrityError
		if !errors.As(err, &intErr) {
			t.Fatalf("got error %v, want IntegrityError", err)
		}
		if intErr.Want != refs[0] {
			t.Errorf("integrity error names %s, want %s", intErr.Want, refs[0])
		}

		n, err := c.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("got %d records after integrity failure, want 0", n)
		}
	})
}

func TestSourceErrors(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		c := Open(ctx, dir, mem.New())
		defer c.Close()

		_, err := c.Secondary(ctx, snapdir.BlobRef([]byte("missing")))
		if !errors.Is(err, snapdir.ErrNotFound) {
			t.Errorf("got error %v, want ErrNotFound", err)
		}
	})
}

func TestVerifyAll(t *testing.T) {
	withTestDir(t, func(dir string) {
		ctx := context.Background()
		src := mem.New()
		hello, world := []byte("hello"), []byte("world!")
		refs := populate(ctx, t, src, hello, world)

		core, logs := observer.New(zapcore.WarnLevel)
		c := Open(ctx, dir, src, WithLogger(zap.New(core)))
		defer c.Close()

		ok, err := c.VerifyAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("empty cache failed verification")
		}

		for i, ref := range refs {
			checkSecondary(ctx, t, c, ref, [][]byte{hello, world}[i])
		}
		ok, err = c.VerifyAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("good cache failed verification")
		}

		// Poison one record.
		const q = `UPDATE checksums SET sha256 = $1 WHERE md5 = $2`
		if _, err = c.tx.ExecContext(ctx, q, snapdir.Digest{}.String(), refs[1].String()); err != nil {
			t.Fatal(err)
		}
		ok, err = c.VerifyAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("poisoned cache passed verification")
		}
		if logs.FilterMessage("checksum cache mismatch").Len() != 1 {
			t.Errorf("got %d mismatch warnings, want 1", logs.FilterMessage("checksum cache mismatch").Len())
		}

		c.Reset(ctx)
		checkSecondary(ctx, t, c, refs[1], world)
	})
}

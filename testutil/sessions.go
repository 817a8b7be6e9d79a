package testutil

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
)

// Sessions tests the session lifecycle of a Source implementation:
// revision numbering, deduplication, parent checking,
// verification of added data, and the invisibility of canceled sessions.
// The source must be empty when Sessions is called.
func Sessions(ctx context.Context, t *testing.T, src snapdir.Source) {
	var (
		hello = []byte("hello")
		world = []byte("world!")
		a     = snapdir.FileEntry{Path: "a.txt", Ref: snapdir.BlobRef(hello), Size: 5}
		c     = snapdir.FileEntry{Path: "b/c.txt", Ref: snapdir.BlobRef(hello), Size: 5}
		empty = snapdir.FileEntry{Path: "empty", Ref: snapdir.EmptyRef, Size: 0}
	)

	_, err := src.SessionBlobs(ctx, 1)
	if !errors.Is(err, snapdir.ErrNotFound) {
		t.Fatalf("got error %v for nonexistent revision, want ErrNotFound", err)
	}

	_, err = src.CreateSession(ctx, 17)
	if err == nil {
		t.Fatal("created a session with a nonexistent parent")
	}

	sess, err := src.CreateSession(ctx, snapdir.NoRevision)
	if err != nil {
		t.Fatal(err)
	}
	if err = sess.Add(ctx, hello, a); err != nil {
		t.Fatal(err)
	}
	if err = sess.AddExisting(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err = sess.Add(ctx, nil, empty); err != nil {
		t.Fatal(err)
	}

	err = sess.AddExisting(ctx, a)
	var dupErr *snapdir.DuplicatePathError
	if !errors.As(err, &dupErr) {
		t.Fatalf("got error %v adding a duplicate path, want DuplicatePathError", err)
	}

	err = sess.Add(ctx, world, snapdir.FileEntry{Path: "bad", Ref: a.Ref, Size: 5})
	var intErr *snapdir.IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("got error %v adding mismatched data, want IntegrityError", err)
	}

	rev1, err := sess.Commit(ctx, snapdir.SessionInfo{Name: "main", Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if rev1 != 1 {
		t.Errorf("got first revision %d, want 1", rev1)
	}
	if _, err = sess.Commit(ctx, snapdir.SessionInfo{Name: "main"}); !errors.Is(err, snapdir.ErrSessionClosed) {
		t.Errorf("got error %v committing twice, want ErrSessionClosed", err)
	}

	got, err := src.SessionBlobs(ctx, rev1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]snapdir.FileEntry{a, c, empty}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, ref := range []snapdir.Ref{a.Ref, snapdir.EmptyRef} {
		has, err := src.HasBlob(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if !has {
			t.Errorf("blob %s missing after commit", ref)
		}
	}
	b, err := snapdir.ReadBlob(ctx, src, snapdir.EmptyRef)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Errorf("empty blob has %d bytes", len(b))
	}

	// A canceled session leaves no trace.
	worldRef := snapdir.BlobRef(world)
	sess, err = src.CreateSession(ctx, rev1)
	if err != nil {
		t.Fatal(err)
	}
	if err = sess.Add(ctx, world, snapdir.FileEntry{Path: "a.txt", Ref: worldRef, Size: 6}); err != nil {
		t.Fatal(err)
	}
	if err = sess.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if err = sess.Cancel(ctx); err != nil {
		t.Fatalf("second Cancel: %s", err)
	}
	if _, err = sess.Commit(ctx, snapdir.SessionInfo{Name: "main"}); !errors.Is(err, snapdir.ErrSessionClosed) {
		t.Errorf("got error %v committing a canceled session, want ErrSessionClosed", err)
	}
	has, err := src.HasBlob(ctx, worldRef)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("blob from canceled session is visible")
	}
	if _, err = src.SessionBlobs(ctx, rev1+1); !errors.Is(err, snapdir.ErrNotFound) {
		t.Errorf("got error %v for canceled revision, want ErrNotFound", err)
	}

	// Adding an existing blob that the source lacks fails.
	sess, err = src.CreateSession(ctx, rev1)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Cancel(ctx)
	if err = sess.AddExisting(ctx, snapdir.FileEntry{Path: "x", Ref: worldRef, Size: 6}); err == nil {
		t.Error("AddExisting succeeded for a missing blob")
	}
	if err = sess.AddExisting(ctx, a); err != nil {
		t.Fatal(err)
	}
	rev2, err := sess.Commit(ctx, snapdir.SessionInfo{Name: "main", Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}
	if rev2 != rev1+1 {
		t.Errorf("got second revision %d, want %d", rev2, rev1+1)
	}
}

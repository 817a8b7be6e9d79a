package lru

import (
	"context"
	"testing"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo/mem"
	"github.com/bobg/snapdir/testutil"
)

func TestStore(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(context.Background(), t, s, testutil.Data(1<<20))
}

func TestSessions(t *testing.T) {
	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Sessions(context.Background(), t, s)
}

func TestAllBlobs(t *testing.T) {
	s, err := New(mem.New(), 10)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AllBlobs(context.Background(), t, s)
}

func TestCachedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	s, err := New(mem.New(), 10)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello")
	sess, err := s.CreateSession(ctx, snapdir.NoRevision)
	if err != nil {
		t.Fatal(err)
	}
	if err = sess.Add(ctx, data, snapdir.FileEntry{Path: "a", Ref: snapdir.BlobRef(data), Size: 5}); err != nil {
		t.Fatal(err)
	}
	rev, err := sess.Commit(ctx, snapdir.SessionInfo{Name: "main"})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.SessionBlobs(ctx, rev)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Path = "clobbered"

	entries, err = s.SessionBlobs(ctx, rev)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Path != "a" {
		t.Errorf("got path %q, want a", entries[0].Path)
	}
}

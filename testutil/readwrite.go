package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bobg/snapdir"
)

// ReadWrite permits testing a Source implementation
// by committing some data to it as a one-file session,
// then reading it back out to make sure it's the same.
func ReadWrite(ctx context.Context, t *testing.T, src snapdir.Source, data []byte) {
	entry := snapdir.FileEntry{
		Path: "testdata/blob",
		Ref:  snapdir.BlobRef(data),
		Size: int64(len(data)),
	}

	t1 := time.Now()
	sess, err := src.CreateSession(ctx, snapdir.NoRevision)
	if err != nil {
		t.Fatal(err)
	}
	err = sess.Add(ctx, data, entry)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := sess.Commit(ctx, snapdir.SessionInfo{Name: "readwrite", Timestamp: t1.Unix(), Date: t1.Format(time.ANSIC)})
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	entries, err := src.SessionBlobs(ctx, rev)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != entry {
		t.Fatalf("got entries %v, want [%v]", entries, entry)
	}

	t2 := time.Now()
	got, err := snapdir.ReadBlob(ctx, src, entry.Ref)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else if !bytes.Equal(got, data) {
		for i := 0; i < len(got); i++ {
			if got[i] != data[i] {
				t.Fatalf("mismatch at position %d (of %d)", i, len(got))
			}
		}
	}
}

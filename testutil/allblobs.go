package testutil

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"testing/quick"

	"github.com/bobg/snapdir"
)

// AllBlobs commits a random set of random blobs to a source, one file per blob,
// and makes sure that each one comes back byte for byte
// and that the session lists every file in order.
func AllBlobs(ctx context.Context, t *testing.T, src snapdir.Source) {
	if err := quick.Check(allBlobsHelper(ctx, t, src), nil); err != nil {
		t.Error(err)
	}
}

func allBlobsHelper(ctx context.Context, t *testing.T, src snapdir.Source) func([][]byte) bool {
	return func(blobs [][]byte) bool {
		sess, err := src.CreateSession(ctx, snapdir.NoRevision)
		if err != nil {
			t.Fatal(err)
		}

		var (
			want []snapdir.FileEntry
			sent = make(map[snapdir.Ref]bool)
		)
		for i, blob := range blobs {
			e := snapdir.FileEntry{
				Path: fmt.Sprintf("f%03d", i),
				Ref:  snapdir.BlobRef(blob),
				Size: int64(len(blob)),
			}
			has, err := src.HasBlob(ctx, e.Ref)
			if err != nil {
				t.Fatal(err)
			}
			if has || sent[e.Ref] {
				err = sess.AddExisting(ctx, e)
			} else {
				err = sess.Add(ctx, blob, e)
				sent[e.Ref] = true
			}
			if err != nil {
				t.Fatal(err)
			}
			want = append(want, e)
		}

		rev, err := sess.Commit(ctx, snapdir.SessionInfo{Name: "allblobs"})
		if err != nil {
			t.Fatal(err)
		}

		got, err := src.SessionBlobs(ctx, rev)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Logf("got %d entries, want %d", len(got), len(want))
			return false
		}
		for i, e := range got {
			if e != want[i] {
				t.Logf("entry %d: got %v, want %v", i, e, want[i])
				return false
			}
			data, err := snapdir.ReadBlob(ctx, src, e.Ref)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(data, blobs[i]) {
				t.Logf("blob %s of %s does not match", e.Ref, e.Path)
				return false
			}
		}
		return true
	}
}

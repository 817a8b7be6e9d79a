package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/testutil"
)

func withTestStore(t *testing.T, f func(*Store)) {
	dirname, err := os.MkdirTemp("", "filestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	f(New(dirname))
}

func TestStore(t *testing.T) {
	withTestStore(t, func(s *Store) {
		testutil.ReadWrite(context.Background(), t, s, testutil.Data(1<<20))
	})
}

func TestSessions(t *testing.T) {
	withTestStore(t, func(s *Store) {
		ctx := context.Background()
		testutil.Sessions(ctx, t, s)

		info, parent, err := s.Info(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if parent != 1 || info.Name != "main" || info.Timestamp != 2 {
			t.Errorf("got parent %d, info %+v", parent, info)
		}
	})
}

func TestAllBlobs(t *testing.T) {
	withTestStore(t, func(s *Store) {
		testutil.AllBlobs(context.Background(), t, s)
	})
}

func TestCancelWritesNothing(t *testing.T) {
	withTestStore(t, func(s *Store) {
		ctx := context.Background()
		sess, err := s.CreateSession(ctx, snapdir.NoRevision)
		if err != nil {
			t.Fatal(err)
		}
		data := []byte("hello")
		if err = sess.Add(ctx, data, snapdir.FileEntry{Path: "a", Ref: snapdir.BlobRef(data), Size: 5}); err != nil {
			t.Fatal(err)
		}
		if err = sess.Cancel(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err = os.Stat(filepath.Join(s.root, "blobs")); !os.IsNotExist(err) {
			t.Errorf("got error %v statting blob dir, want not-exist", err)
		}
	})
}

func TestLockFileSurvivesCommit(t *testing.T) {
	withTestStore(t, func(s *Store) {
		ctx := context.Background()
		commit := func(content string) os.FileInfo {
			t.Helper()
			sess, err := s.CreateSession(ctx, snapdir.NoRevision)
			if err != nil {
				t.Fatal(err)
			}
			data := []byte(content)
			if err = sess.Add(ctx, data, snapdir.FileEntry{Path: "a", Ref: snapdir.BlobRef(data), Size: int64(len(data))}); err != nil {
				t.Fatal(err)
			}
			if _, err = sess.Commit(ctx, snapdir.SessionInfo{Name: "main"}); err != nil {
				t.Fatal(err)
			}
			info, err := os.Stat(s.lockpath())
			if err != nil {
				t.Fatal(err)
			}
			return info
		}

		first := commit("hello")
		second := commit("world")
		if !os.SameFile(first, second) {
			t.Error("lock file was replaced by a commit")
		}
		latest, err := s.latest()
		if err != nil {
			t.Fatal(err)
		}
		if latest != 2 {
			t.Errorf("got latest revision %d, want 2", latest)
		}
	})
}

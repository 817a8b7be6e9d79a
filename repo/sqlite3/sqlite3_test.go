package sqlite3

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
	"github.com/bobg/snapdir/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	err := withTestStore(ctx, t, func(s *Store) error {
		testutil.ReadWrite(ctx, t, s, testutil.Data(1<<20))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	err := withTestStore(ctx, t, func(s *Store) error {
		testutil.Sessions(ctx, t, s)

		info, parent, err := s.Info(ctx, 2)
		if err != nil {
			return err
		}
		if parent != 1 {
			t.Errorf("got parent %d, want 1", parent)
		}
		if info.Name != "main" || info.Timestamp != 2 {
			t.Errorf("got info %+v", info)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAllBlobs(t *testing.T) {
	ctx := context.Background()
	err := withTestStore(ctx, t, func(s *Store) error {
		testutil.AllBlobs(ctx, t, s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReopen(t *testing.T) {
	var (
		ctx  = context.Background()
		path = filepath.Join(t.TempDir(), "repo.db")
	)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(ctx, t, s, []byte("persistent"))
	db.Close()

	db, err = sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s, err = New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	has, err := s.HasBlob(ctx, snapdir.BlobRef([]byte("persistent")))
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("blob missing after reopening")
	}
}

func withTestStore(ctx context.Context, t *testing.T, fn func(*Store) error) error {
	f, err := os.CreateTemp("", "snapdirsqlite3test")
	if err != nil {
		return err
	}

	tmpfile := f.Name()
	f.Close()
	defer os.Remove(tmpfile)

	db, err := sql.Open("sqlite3", tmpfile)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := New(ctx, db)
	if err != nil {
		return err
	}

	return fn(s)
}

func TestInMemoryRejected(t *testing.T) {
	ctx := context.Background()
	for _, conn := range []string{":memory:", "file::memory:?cache=shared", "file:x?mode=memory"} {
		if !InMemory(conn) {
			t.Errorf("InMemory(%q) is false", conn)
		}
		if _, err := repo.Create(ctx, "sqlite3", map[string]interface{}{"conn": conn}); err == nil {
			t.Errorf("created a repository in %q", conn)
		}
	}

	conn := filepath.Join(t.TempDir(), "repo.db")
	if InMemory(conn) {
		t.Errorf("InMemory(%q) is true", conn)
	}
	src, err := repo.Create(ctx, "sqlite3", map[string]interface{}{"conn": conn})
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(ctx, t, src, []byte("hello"))
}

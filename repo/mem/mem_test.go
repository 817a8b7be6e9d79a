package mem

import (
	"context"
	"testing"

	"github.com/bobg/snapdir/testutil"
)

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New(), testutil.Data(1<<20))
}

func TestSessions(t *testing.T) {
	testutil.Sessions(context.Background(), t, New())
}

func TestAllBlobs(t *testing.T) {
	testutil.AllBlobs(context.Background(), t, New())
}

func TestDedup(t *testing.T) {
	var (
		ctx = context.Background()
		s   = New()
	)
	testutil.ReadWrite(ctx, t, s, []byte("hello"))
	testutil.ReadWrite(ctx, t, s, []byte("hello"))
	if n := s.Blobs(); n != 1 {
		t.Errorf("got %d blobs, want 1", n)
	}
}

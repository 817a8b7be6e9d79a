package snapdir

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestRefHex(t *testing.T) {
	const h = "5d41402abc4b2a76b9719d911017c592" // md5("hello")

	ref := BlobRef([]byte("hello"))
	if ref.String() != h {
		t.Errorf("got %s, want %s", ref, h)
	}
	got, err := RefFromHex(h)
	if err != nil {
		t.Fatal(err)
	}
	if got != ref {
		t.Errorf("got %s, want %s", got, ref)
	}

	for _, bad := range []string{"", "5d41", h + "00", strings.Repeat("zz", 16)} {
		if _, err := RefFromHex(bad); err == nil {
			t.Errorf("parsed bad ref %q", bad)
		}
	}

	if EmptyRef.String() != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("got empty ref %s", EmptyRef)
	}
	if !Zero.IsZero() || EmptyRef.IsZero() {
		t.Error("IsZero is wrong")
	}
}

func TestFileEntryJSON(t *testing.T) {
	e := FileEntry{Path: "b/c.txt", Ref: BlobRef([]byte("hello")), Size: 5}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	const want = `{"filename":"b/c.txt","md5sum":"5d41402abc4b2a76b9719d911017c592","size":5}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestRefScan(t *testing.T) {
	want := BlobRef([]byte("hello"))
	for _, src := range []interface{}{want.String(), []byte(want.String())} {
		var got Ref
		if err := got.Scan(src); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("scanning %T: got %s, want %s", src, got, want)
		}
	}
	var r Ref
	if err := r.Scan(17); err == nil {
		t.Error("scanned an int into a Ref")
	}
}

func TestDigestHex(t *testing.T) {
	const h = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")
	d, err := DigestFromHex(h)
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != h {
		t.Errorf("got %s, want %s", d, h)
	}
	if _, err = DigestFromHex(h[:10]); err == nil {
		t.Error("parsed a short digest")
	}
}

func TestValidPath(t *testing.T) {
	cases := map[string]bool{
		"a.txt":      true,
		"b/c.txt":    true,
		"..foo":      true,
		"":           false,
		".":          false,
		"..":         false,
		"../x":       false,
		"/etc":       false,
		"a/../b":     false,
		"a//b":       false,
		"a/":         false,
		"./a":        false,
		"x/y/z/deep": true,
	}
	// Backslash is an ordinary character on hosts where it does not separate paths.
	cases[`we\ird.txt`] = filepath.Separator != '\\'

	for p, want := range cases {
		if got := ValidPath(p); got != want {
			t.Errorf("ValidPath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestPathSet(t *testing.T) {
	var ps PathSet
	if err := ps.Claim("a"); err != nil {
		t.Fatal(err)
	}
	if err := ps.Claim("b/a"); err != nil {
		t.Fatal(err)
	}
	err := ps.Claim("a")
	var dupErr *DuplicatePathError
	if !errors.As(err, &dupErr) {
		t.Fatalf("got error %v, want DuplicatePathError", err)
	}
	if dupErr.Path != "a" {
		t.Errorf("got duplicate path %q, want a", dupErr.Path)
	}
	if err = ps.Claim("../a"); err == nil {
		t.Error("claimed an invalid path")
	}
}

func TestCheckEntry(t *testing.T) {
	hello := []byte("hello")
	e := FileEntry{Path: "a.txt", Ref: BlobRef(hello), Size: 5}
	if err := CheckEntry(hello, e); err != nil {
		t.Fatal(err)
	}
	if err := CheckEntry(nil, FileEntry{Path: "empty", Ref: EmptyRef}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		data    []byte
		e       FileEntry
		wantErr *IntegrityError
	}{
		{
			data:    []byte("world"),
			e:       e,
			wantErr: &IntegrityError{Path: "a.txt", Want: e.Ref, Got: BlobRef([]byte("world")), WantSize: 5, GotSize: 5},
		},
		{
			data:    hello,
			e:       FileEntry{Path: "a.txt", Ref: e.Ref, Size: 6},
			wantErr: &IntegrityError{Path: "a.txt", Want: e.Ref, Got: e.Ref, WantSize: 6, GotSize: 5},
		},
	}
	for i, c := range cases {
		err := CheckEntry(c.data, c.e)
		var got *IntegrityError
		if !errors.As(err, &got) {
			t.Fatalf("case %d: got error %v, want IntegrityError", i, err)
		}
		if diff := cmp.Diff(c.wantErr, got); diff != "" {
			t.Errorf("case %d mismatch (-want +got):\n%s", i, diff)
		}
		if !strings.Contains(err.Error(), "a.txt") {
			t.Errorf("case %d: error %q does not name the path", i, err)
		}
	}
}

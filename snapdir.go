package snapdir

import (
	"crypto/md5"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type (
	// Ref is the primary hash of a blob: the MD5 digest of its bytes.
	// It is the blob's content address and its identity for deduplication.
	Ref [md5.Size]byte

	// Digest is the secondary hash of a blob: its SHA2-256 digest.
	// It is derived on demand and used only for integrity auditing.
	Digest [sha256.Size]byte

	// Revision identifies a committed session.
	// Revisions are assigned by the blob source starting at 1.
	Revision int64
)

// NoRevision is the Revision of a working tree that was never checked in or out,
// and the parent of the first revision in a repository.
const NoRevision Revision = 0

// BlobRef computes the Ref of a blob.
func BlobRef(b []byte) Ref {
	return md5.Sum(b)
}

// Zero is the zero value of a Ref.
var Zero Ref

// EmptyRef is the Ref of the zero-length blob.
var EmptyRef = BlobRef(nil)

func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

func (r Ref) IsZero() bool {
	return r == Zero
}

// FromHex parses s into r.
func (r *Ref) FromHex(s string) error {
	if len(s) != 2*md5.Size {
		return errors.Errorf("wrong length %d for ref %q", len(s), s)
	}
	_, err := hex.Decode(r[:], []byte(s))
	return errors.Wrapf(err, "decoding ref %q", s)
}

// MarshalText implements encoding.TextMarshaler,
// so Refs appear as hex strings in JSON.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(b []byte) error {
	return r.FromHex(string(b))
}

// Value implements driver.Valuer.
// Refs are stored in SQL databases as fixed-length hex strings.
func (r Ref) Value() (driver.Value, error) {
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *Ref) Scan(src interface{}) error {
	switch src := src.(type) {
	case string:
		return r.FromHex(src)
	case []byte:
		return r.FromHex(string(src))
	}
	return fmt.Errorf("cannot scan %T into a Ref", src)
}

func RefFromHex(s string) (Ref, error) {
	var out Ref
	err := out.FromHex(s)
	return out, err
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func DigestFromHex(s string) (Digest, error) {
	var out Digest
	if len(s) != 2*sha256.Size {
		return out, errors.Errorf("wrong length %d for digest %q", len(s), s)
	}
	_, err := hex.Decode(out[:], []byte(s))
	return out, errors.Wrapf(err, "decoding digest %q", s)
}

// FileEntry records one file of a session.
// Path is slash-separated and relative to the root of the tree.
type FileEntry struct {
	Path string `json:"filename"`
	Ref  Ref    `json:"md5sum"`
	Size int64  `json:"size"`
}

// SessionInfo is the metadata stored with a commit.
type SessionInfo struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
}

// ValidPath tells whether p may be used as a FileEntry path:
// relative, slash-separated, clean, and not escaping the tree root.
// A backslash is an ordinary filename character
// except where it is the host's path separator.
func ValidPath(p string) bool {
	if p == "" || p == "." || strings.HasPrefix(p, "/") {
		return false
	}
	if filepath.Separator == '\\' && strings.Contains(p, "\\") {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return p != ".." && !strings.HasPrefix(p, "../")
}

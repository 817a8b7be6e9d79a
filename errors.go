package snapdir

import "fmt"

// IntegrityError reports bytes whose primary hash or size
// does not match the identity they are claimed to have.
// It is never recoverable:
// the operation that produced it must be abandoned.
type IntegrityError struct {
	Path     string // file path, if the bytes came from a file; else empty
	Want     Ref
	Got      Ref
	WantSize int64 // -1 when the size was not checked
	GotSize  int64
}

func (e *IntegrityError) Error() string {
	what := "blob " + e.Want.String()
	if e.Path != "" {
		what = fmt.Sprintf("%s (blob %s)", e.Path, e.Want)
	}
	if e.WantSize >= 0 && e.WantSize != e.GotSize {
		return fmt.Sprintf("integrity error: %s: size is %d, want %d", what, e.GotSize, e.WantSize)
	}
	return fmt.Sprintf("integrity error: %s: content hashes to %s", what, e.Got)
}

// CheckEntry verifies that data has the size and primary hash recorded in e.
func CheckEntry(data []byte, e FileEntry) error {
	got := BlobRef(data)
	if int64(len(data)) != e.Size || got != e.Ref {
		return &IntegrityError{
			Path:     e.Path,
			Want:     e.Ref,
			Got:      got,
			WantSize: e.Size,
			GotSize:  int64(len(data)),
		}
	}
	return nil
}

package workdir

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
)

const infoFile = "info"

// Unknown fields are ignored when reading.
type metadata struct {
	RepoPath    string           `json:"repo_path"`
	SessionName string           `json:"session_name"`
	SessionID   snapdir.Revision `json:"session_id"`
}

func metadataPath(root string) string {
	return filepath.Join(root, MetaDir, infoFile)
}

func readMetadata(root string) (*metadata, error) {
	path := metadataPath(root)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrUnbound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var m metadata
	err = json.Unmarshal(b, &m)
	return &m, errors.Wrapf(err, "decoding %s", path)
}

func writeMetadata(root string, m metadata) error {
	dir := filepath.Join(root, MetaDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encoding metadata")
	}
	path := metadataPath(root)
	return errors.Wrapf(renameio.WriteFile(path, append(b, '\n'), 0644), "writing %s", path)
}

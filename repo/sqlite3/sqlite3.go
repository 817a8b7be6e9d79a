// Package sqlite3 implements a blob source in a Sqlite database.
package sqlite3

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"io/ioutil"
	"strings"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
)

var _ snapdir.Source = &Store{}

// Store is a Sqlite-based blob source.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs`, `sessions`, and `entries` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  ref CHAR(32) PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  rev INTEGER PRIMARY KEY NOT NULL,
  parent INTEGER NOT NULL,
  name TEXT NOT NULL,
  timestamp INTEGER NOT NULL,
  date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
  rev INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  path TEXT NOT NULL,
  ref CHAR(32) NOT NULL,
  size INTEGER NOT NULL,
  PRIMARY KEY (rev, seq),
  UNIQUE (rev, path)
);
`

// New produces a new Store using `db` for storage.
// It expects to create tables `blobs`, `sessions`, and `entries`,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// HasBlob implements snapdir.Getter.
func (s *Store) HasBlob(ctx context.Context, ref snapdir.Ref) (bool, error) {
	return hasBlob(ctx, s.db, ref)
}

type queryRower interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func hasBlob(ctx context.Context, db queryRower, ref snapdir.Ref) (bool, error) {
	const q = `SELECT COUNT(*) FROM blobs WHERE ref = $1`

	var n int
	err := db.QueryRowContext(ctx, q, ref).Scan(&n)
	return n > 0, errors.Wrapf(err, "checking for blob %s", ref)
}

// BlobReader implements snapdir.Getter.
func (s *Store) BlobReader(ctx context.Context, ref snapdir.Ref) (io.ReadCloser, error) {
	const q = `SELECT data FROM blobs WHERE ref = $1`

	var data []byte
	err := s.db.QueryRowContext(ctx, q, ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapdir.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting blob %s", ref)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

// SessionBlobs implements snapdir.Getter.
func (s *Store) SessionBlobs(ctx context.Context, rev snapdir.Revision) ([]snapdir.FileEntry, error) {
	const q = `SELECT COUNT(*) FROM sessions WHERE rev = $1`

	var n int
	err := s.db.QueryRowContext(ctx, q, rev).Scan(&n)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up revision %d", rev)
	}
	if n == 0 {
		return nil, snapdir.ErrNotFound
	}

	const q2 = `SELECT path, ref, size FROM entries WHERE rev = $1 ORDER BY seq`

	var result []snapdir.FileEntry
	err = sqlutil.ForQueryRows(ctx, s.db, q2, rev, func(path string, ref snapdir.Ref, size int64) {
		result = append(result, snapdir.FileEntry{Path: path, Ref: ref, Size: size})
	})
	return result, errors.Wrapf(err, "querying entries of revision %d", rev)
}

// Info returns the metadata committed with a revision, and its parent.
func (s *Store) Info(ctx context.Context, rev snapdir.Revision) (snapdir.SessionInfo, snapdir.Revision, error) {
	const q = `SELECT parent, name, timestamp, date FROM sessions WHERE rev = $1`

	var (
		info   snapdir.SessionInfo
		parent int64
	)
	err := s.db.QueryRowContext(ctx, q, rev).Scan(&parent, &info.Name, &info.Timestamp, &info.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return info, snapdir.NoRevision, snapdir.ErrNotFound
	}
	return info, snapdir.Revision(parent), errors.Wrapf(err, "getting revision %d", rev)
}

// CreateSession implements snapdir.Source.
// The pending session is a database transaction.
func (s *Store) CreateSession(ctx context.Context, parent snapdir.Revision) (snapdir.Session, error) {
	if parent != snapdir.NoRevision {
		if _, _, err := s.Info(ctx, parent); err != nil {
			return nil, errors.Wrapf(err, "getting parent revision %d", parent)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	return &pending{tx: tx, parent: parent}, nil
}

type pending struct {
	tx      *sql.Tx
	parent  snapdir.Revision
	entries []snapdir.FileEntry
	paths   snapdir.PathSet
	closed  bool
}

func (p *pending) Add(ctx context.Context, data []byte, e snapdir.FileEntry) error {
	if p.closed {
		return snapdir.ErrSessionClosed
	}
	if err := snapdir.CheckEntry(data, e); err != nil {
		return err
	}
	if err := p.paths.Claim(e.Path); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	const q = `INSERT INTO blobs (ref, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	_, err := p.tx.ExecContext(ctx, q, e.Ref, data)
	if err != nil {
		return errors.Wrapf(err, "inserting blob %s", e.Ref)
	}
	p.entries = append(p.entries, e)
	return nil
}

func (p *pending) AddExisting(ctx context.Context, e snapdir.FileEntry) error {
	if p.closed {
		return snapdir.ErrSessionClosed
	}
	has, err := hasBlob(ctx, p.tx, e.Ref)
	if err != nil {
		return err
	}
	if !has {
		return errors.Wrapf(snapdir.ErrNotFound, "blob %s for %s", e.Ref, e.Path)
	}
	if err := p.paths.Claim(e.Path); err != nil {
		return err
	}
	p.entries = append(p.entries, e)
	return nil
}

func (p *pending) Commit(ctx context.Context, info snapdir.SessionInfo) (rev snapdir.Revision, err error) {
	if p.closed {
		return snapdir.NoRevision, snapdir.ErrSessionClosed
	}
	p.closed = true
	defer func() {
		if err != nil {
			p.tx.Rollback()
		}
	}()

	const q = `SELECT COALESCE(MAX(rev), 0) + 1 FROM sessions`

	if err = p.tx.QueryRowContext(ctx, q).Scan(&rev); err != nil {
		return snapdir.NoRevision, errors.Wrap(err, "allocating revision")
	}

	const q2 = `INSERT INTO sessions (rev, parent, name, timestamp, date) VALUES ($1, $2, $3, $4, $5)`

	if _, err = p.tx.ExecContext(ctx, q2, rev, p.parent, info.Name, info.Timestamp, info.Date); err != nil {
		return snapdir.NoRevision, errors.Wrapf(err, "inserting revision %d", rev)
	}

	const q3 = `INSERT INTO entries (rev, seq, path, ref, size) VALUES ($1, $2, $3, $4, $5)`

	for i, e := range p.entries {
		if _, err = p.tx.ExecContext(ctx, q3, rev, i, e.Path, e.Ref, e.Size); err != nil {
			return snapdir.NoRevision, errors.Wrapf(err, "inserting entry %s", e.Path)
		}
	}

	err = p.tx.Commit()
	return rev, errors.Wrapf(err, "committing revision %d", rev)
}

func (p *pending) Cancel(context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rolling back session")
}

// InMemory tells whether a sqlite3 connection string names an in-memory database.
// Each pooled connection to such a database sees a database of its own,
// so a pending session could not see the store's blobs, nor the store its session's.
func InMemory(conn string) bool {
	return conn == ":memory:" || strings.HasPrefix(conn, "file::memory:") || strings.Contains(conn, "mode=memory")
}

func init() {
	repo.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (snapdir.Source, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		if InMemory(conn) {
			return nil, errors.Errorf(`in-memory database %q cannot hold a repository, use a file (or the "mem" type)`, conn)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}

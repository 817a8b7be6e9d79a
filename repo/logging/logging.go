// Package logging implements a blob source that delegates everything to a nested source,
// logging operations as they happen.
package logging

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/repo"
)

var _ snapdir.Source = &Store{}

type Store struct {
	s   snapdir.Source
	log *zap.Logger
}

func New(s snapdir.Source, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{s: s, log: log}
}

func (s *Store) HasBlob(ctx context.Context, ref snapdir.Ref) (bool, error) {
	has, err := s.s.HasBlob(ctx, ref)
	if err != nil {
		s.log.Error("HasBlob", zap.Stringer("ref", ref), zap.Error(err))
	} else {
		s.log.Debug("HasBlob", zap.Stringer("ref", ref), zap.Bool("has", has))
	}
	return has, err
}

func (s *Store) BlobReader(ctx context.Context, ref snapdir.Ref) (io.ReadCloser, error) {
	r, err := s.s.BlobReader(ctx, ref)
	if err != nil {
		s.log.Error("BlobReader", zap.Stringer("ref", ref), zap.Error(err))
	} else {
		s.log.Debug("BlobReader", zap.Stringer("ref", ref))
	}
	return r, err
}

func (s *Store) SessionBlobs(ctx context.Context, rev snapdir.Revision) ([]snapdir.FileEntry, error) {
	entries, err := s.s.SessionBlobs(ctx, rev)
	if err != nil {
		s.log.Error("SessionBlobs", zap.Int64("rev", int64(rev)), zap.Error(err))
	} else {
		s.log.Debug("SessionBlobs", zap.Int64("rev", int64(rev)), zap.Int("entries", len(entries)))
	}
	return entries, err
}

func (s *Store) CreateSession(ctx context.Context, parent snapdir.Revision) (snapdir.Session, error) {
	sess, err := s.s.CreateSession(ctx, parent)
	if err != nil {
		s.log.Error("CreateSession", zap.Int64("parent", int64(parent)), zap.Error(err))
		return nil, err
	}
	s.log.Debug("CreateSession", zap.Int64("parent", int64(parent)))
	return &pending{s: sess, log: s.log.With(zap.Int64("parent", int64(parent)))}, nil
}

type pending struct {
	s   snapdir.Session
	log *zap.Logger
}

func (p *pending) Add(ctx context.Context, data []byte, e snapdir.FileEntry) error {
	err := p.s.Add(ctx, data, e)
	if err != nil {
		p.log.Error("Add", zap.String("path", e.Path), zap.Stringer("ref", e.Ref), zap.Error(err))
	} else {
		p.log.Debug("Add", zap.String("path", e.Path), zap.Stringer("ref", e.Ref), zap.Int64("size", e.Size))
	}
	return err
}

func (p *pending) AddExisting(ctx context.Context, e snapdir.FileEntry) error {
	err := p.s.AddExisting(ctx, e)
	if err != nil {
		p.log.Error("AddExisting", zap.String("path", e.Path), zap.Stringer("ref", e.Ref), zap.Error(err))
	} else {
		p.log.Debug("AddExisting", zap.String("path", e.Path), zap.Stringer("ref", e.Ref))
	}
	return err
}

func (p *pending) Commit(ctx context.Context, info snapdir.SessionInfo) (snapdir.Revision, error) {
	rev, err := p.s.Commit(ctx, info)
	if err != nil {
		p.log.Error("Commit", zap.String("session", info.Name), zap.Error(err))
	} else {
		p.log.Info("Commit", zap.String("session", info.Name), zap.Int64("rev", int64(rev)))
	}
	return rev, err
}

func (p *pending) Cancel(ctx context.Context) error {
	err := p.s.Cancel(ctx)
	if err != nil {
		p.log.Error("Cancel", zap.Error(err))
	} else {
		p.log.Debug("Cancel")
	}
	return err
}

func init() {
	repo.Register("logging", func(ctx context.Context, conf map[string]interface{}) (snapdir.Source, error) {
		nested, err := repo.Nested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested source")
		}
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, errors.Wrap(err, "creating logger")
		}
		return New(nested, log), nil
	})
}

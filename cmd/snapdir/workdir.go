package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/workdir"
)

func (c maincmd) workdirOpts() ([]workdir.Option, error) {
	opts := []workdir.Option{workdir.WithLogger(c.log)}
	if len(c.conf.ignore) > 0 {
		ignore, err := workdir.IgnorePatterns(c.conf.ignore...)
		if err != nil {
			return nil, errors.Wrap(err, "parsing ignore patterns")
		}
		opts = append(opts, workdir.WithIgnore(ignore))
	}
	return opts, nil
}

// Loads the binding of dir if it has one,
// else produces an unbound workdir for the given session.
func (c maincmd) openWorkdir(dir, session string) (*workdir.Workdir, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "absolutizing %s", dir)
	}
	opts, err := c.workdirOpts()
	if err != nil {
		return nil, err
	}
	w, err := workdir.Load(root, c.src, opts...)
	if errors.Is(err, workdir.ErrUnbound) {
		return workdir.New(root, c.conf.path, session, snapdir.NoRevision, c.src, opts...)
	}
	return w, err
}

func (c maincmd) checkout(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		dir     = fs.String("dir", ".", "working tree to check out into")
		session = fs.String("session", "main", "session name")
		rev     = fs.Int64("rev", 0, "revision to check out (default: the tree's current revision)")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	w, err := c.openWorkdir(*dir, *session)
	if err != nil {
		return err
	}
	target := snapdir.Revision(*rev)
	if target == snapdir.NoRevision {
		if !w.Bound() {
			return errors.New("must supply -rev for an unbound tree")
		}
		target = w.Revision
	}
	if err = w.Checkout(ctx, target); err != nil {
		return errors.Wrapf(err, "checking out revision %d", target)
	}
	fmt.Printf("checked out revision %d\n", target)
	return nil
}

func (c maincmd) checkin(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		dir     = fs.String("dir", ".", "working tree to check in")
		session = fs.String("session", "main", "session name for an unbound tree")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	w, err := c.openWorkdir(*dir, *session)
	if err != nil {
		return err
	}
	rev, err := w.Checkin(ctx, w.Revision)
	if err != nil {
		return errors.Wrap(err, "checking in")
	}
	fmt.Printf("committed revision %d\n", rev)
	return nil
}

func (c maincmd) status(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		dir     = fs.String("dir", ".", "working tree to examine")
		verbose = fs.Bool("v", false, "also list unchanged and ignored files")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	w, err := c.openWorkdir(*dir, "")
	if err != nil {
		return err
	}
	cs, err := w.Changes(ctx)
	if err != nil {
		return errors.Wrap(err, "computing changes")
	}

	list := func(tag string, paths []string) {
		for _, p := range paths {
			fmt.Printf("%s %s\n", tag, p)
		}
	}
	if *verbose {
		list("=", cs.Unchanged)
	}
	list("A", cs.New)
	list("M", cs.Modified)
	list("D", cs.Deleted)
	if *verbose {
		list("I", cs.Ignored)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/checksum"
)

func (c maincmd) sha256(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing ref")
	}

	cache := checksum.Open(ctx, c.conf.cacheDir, c.src, checksum.WithLogger(c.log))
	defer cache.Close()

	for _, arg := range args {
		ref, err := snapdir.RefFromHex(arg)
		if err != nil {
			return errors.Wrapf(err, "decoding ref %s", arg)
		}
		d, err := cache.Secondary(ctx, ref)
		if err != nil {
			return errors.Wrapf(err, "getting digest of %s", ref)
		}
		fmt.Printf("%s %s\n", d, ref)
	}
	return nil
}

func (c maincmd) verify(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	cache := checksum.Open(ctx, c.conf.cacheDir, c.src, checksum.WithLogger(c.log))
	defer cache.Close()

	ok, err := cache.VerifyAll(ctx)
	if err != nil {
		return errors.Wrap(err, "verifying checksum cache")
	}
	if !ok {
		return errors.New("checksum cache verification failed")
	}
	fmt.Println("checksum cache ok")
	return nil
}

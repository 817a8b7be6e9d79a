// Command snapdir checks working trees in and out of a blob repository.
//
// Usage:
//
//	snapdir [-config FILE] SUBCOMMAND [ARGS]
//
// Subcommands are checkout, checkin, status, sha256, and verify.
// The config file names the repository
// (a "repo" object with a "type" and whatever parameters that type needs),
// and optionally "cache_dir", "ignore", and "log_level".
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/bobg/subcmd"
	"go.uber.org/zap"

	"github.com/bobg/snapdir"
	"github.com/bobg/snapdir/internal/dlog"
	"github.com/bobg/snapdir/repo"
	_ "github.com/bobg/snapdir/repo/file"
	_ "github.com/bobg/snapdir/repo/logging"
	_ "github.com/bobg/snapdir/repo/lru"
	_ "github.com/bobg/snapdir/repo/mem"
	_ "github.com/bobg/snapdir/repo/pg"
	_ "github.com/bobg/snapdir/repo/sqlite3"
)

type maincmd struct {
	conf *config
	src  snapdir.Source
	log  *zap.Logger
}

func main() {
	configPath := flag.String("config", "snapdir.json", "path to config file")
	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := dlog.GetLogger(conf.logLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	typ := conf.repo["type"].(string)
	src, err := repo.Create(ctx, typ, conf.repo)
	if err != nil {
		log.Fatalf("Creating %s-type repo: %s (known types: %s)", typ, err, strings.Join(repo.Types(), ", "))
	}

	err = subcmd.Run(ctx, maincmd{conf: conf, src: src, log: logger}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"checkin":  c.checkin,
		"checkout": c.checkout,
		"sha256":   c.sha256,
		"status":   c.status,
		"verify":   c.verify,
	}
}

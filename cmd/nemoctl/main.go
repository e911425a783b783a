package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/unkn0wn-root/nemocache"
	c "github.com/unkn0wn-root/nemocache/codec"
	"github.com/unkn0wn-root/nemocache/config"
	nlogrus "github.com/unkn0wn-root/nemocache/log/logrus"
	"github.com/unkn0wn-root/nemocache/registry"
)

var (
	// Version of nemoctl. will be set by the build
	version string

	app = kingpin.New("nemoctl", "CLI for inspecting and operating a nemocache namespace")

	configFiles = app.Flag(
		"config",
		"YAML config file; specify multiple times to merge (set $NEMOCTL_CONFIG to override)").
		Short('c').
		Envar("NEMOCTL_CONFIG").
		Required().
		ExistingFiles()

	debug = app.Flag(
		"debug",
		"log cache internals").
		Short('d').
		Default("false").
		Bool()

	timeout = app.Flag(
		"timeout",
		"per command timeout").
		Default("10s").
		Short('t').
		Duration()

	get      = app.Command("get", "read a key")
	getKey   = get.Arg("key", "cache key").Required().String()
	getStale = get.Flag("stale", "serve entries past their freshness").Default("false").Bool()

	set      = app.Command("set", "write a key")
	setKey   = set.Arg("key", "cache key").Required().String()
	setValue = set.Arg("value", "value").Required().String()

	add      = app.Command("add", "write a key only if absent")
	addKey   = add.Arg("key", "cache key").Required().String()
	addValue = add.Arg("value", "value").Required().String()

	remove    = app.Command("remove", "remove a key from both tiers")
	removeKey = remove.Arg("key", "cache key").Required().String()

	index        = app.Command("index", "read an index entry")
	indexKey     = index.Arg("key", "index key").Required().String()
	setIndex     = app.Command("set-index", "write an index entry")
	setIndexKey  = setIndex.Arg("key", "index key").Required().String()
	setIndexKeys = setIndex.Arg("members", "member keys").Required().Strings()

	lock     = app.Command("lock", "take the lock on a key, hold it, then release it")
	lockKey  = lock.Arg("key", "cache key").Required().String()
	lockHold = lock.Flag("hold", "how long to hold the lock").Default("0s").Duration()
	lockWait = lock.Flag("wait", "wait for the lock instead of failing").Default("false").Bool()

	revision     = app.Command("revision", "show revisions")
	revisionKeys = revision.Arg("keys", "cache keys").Required().Strings()

	bump      = app.Command("bump", "increment a revision")
	bumpKey   = bump.Arg("key", "cache key").Required().String()
	bumpDelta = bump.Flag("delta", "increment").Default("1").Uint64()

	flush    = app.Command("flush", "flush the whole backend and the local tier")
	flushYes = flush.Flag("yes", "confirm").Default("false").Bool()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configFiles...)
	app.FatalIfError(err, "")

	reg := registry.New(nil)
	defer reg.Close()
	app.FatalIfError(cfg.RegisterClusters(reg), "")

	opts, err := config.Options[string](cfg, reg, c.String{})
	app.FatalIfError(err, "")
	// one-shot process: writes must land before exit
	opts.WriteMode = nemocache.WriteSync
	opts.Logger = nlogrus.New(log)

	cache, err := nemocache.New(opts)
	app.FatalIfError(err, "")
	defer cache.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout+*lockHold)
	defer cancel()

	o := &ops{cache: cache, out: os.Stdout, log: log}
	switch cmd {
	case get.FullCommand():
		err = o.get(ctx, *getKey, *getStale)
	case set.FullCommand():
		err = o.set(ctx, *setKey, *setValue)
	case add.FullCommand():
		err = o.add(ctx, *addKey, *addValue)
	case remove.FullCommand():
		err = o.remove(ctx, *removeKey)
	case index.FullCommand():
		err = o.index(ctx, *indexKey)
	case setIndex.FullCommand():
		err = o.setIndex(ctx, *setIndexKey, *setIndexKeys)
	case lock.FullCommand():
		err = o.lock(ctx, *lockKey, *lockWait, *lockHold)
	case revision.FullCommand():
		err = o.revisions(ctx, *revisionKeys)
	case bump.FullCommand():
		err = o.bump(ctx, *bumpKey, *bumpDelta)
	case flush.FullCommand():
		err = o.flush(ctx, *flushYes)
	default:
		app.Fatalf("Unknown command %s", cmd)
	}
	app.FatalIfError(err, "")
}

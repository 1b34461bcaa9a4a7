// Command mdcache inspects and fills an mdcache store from the shell.
//
//	mdcache [-config file] fetch <url> [accept]
//	mdcache [-config file] get <key>
//	mdcache [-config file] set <key> <value> [ttl]
//	mdcache [-config file] delete <key>
//	mdcache [-config file] clear
//	mdcache [-config file] size
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdpipe/mdcache"
	mdlogrus "github.com/mdpipe/mdcache/log/logrus"
	"github.com/mdpipe/mdcache/store"
)

const usage = `usage: mdcache [-config file] <command> [args]

commands:
  fetch <url> [accept]       fetch through the cache and print the body
  get <key>                  print a stored value
  set <key> <value> [ttl]    store a value, ttl as a Go duration
  delete <key>               remove a key
  clear                      remove every key
  size                       count live entries (reaps expired ones)
`

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

type cliOptions struct {
	configPath string
	command    string
	args       []string
}

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		fmt.Fprint(stdErr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("mdcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configFlag string
	fs.StringVar(&configFlag, "config", "", "config file (yaml, toml or json); MDCACHE_CONFIG also works")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("MDCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return cliOptions{}, errors.New("missing command")
	}
	return cliOptions{configPath: path, command: rest[0], args: rest[1:]}, nil
}

func run(ctx context.Context, opts cliOptions) int {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}
	hooks := logHooks{log: logger}

	st, closeStorage, err := openStorage(ctx, cfg, hooks)
	if err != nil {
		fmt.Fprintf(stdErr, "open %s storage: %v\n", cfg.Backend, err)
		return 1
	}
	defer func() {
		if err := closeStorage(context.Background()); err != nil {
			logger.WithError(err).Warn("close storage")
		}
	}()

	if err := dispatch(ctx, cfg, st, logger, hooks, opts); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stdErr, err.Error())
			fmt.Fprint(stdErr, usage)
			return 2
		}
		fmt.Fprintf(stdErr, "%s: %v\n", opts.command, err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func wantArgs(args []string, min, max int, name string) error {
	if len(args) < min || len(args) > max {
		return usageError("wrong number of arguments for " + name)
	}
	return nil
}

func dispatch(ctx context.Context, cfg *Config, st store.Storage, logger *logrus.Logger, hooks mdcache.Hooks, opts cliOptions) error {
	args := opts.args
	switch opts.command {
	case "fetch":
		if err := wantArgs(args, 1, 2, "fetch"); err != nil {
			return err
		}
		accept := "*/*"
		if len(args) == 2 {
			accept = args[1]
		}
		f, err := mdcache.NewHTTPCached(cfg.UserAgent, cfg.Timeout, mdcache.Options{
			Storage:       st,
			TTL:           cfg.TTL,
			CacheFailures: cfg.CacheFailures,
			FailureTTL:    cfg.FailureTTL,
			Logger:        mdlogrus.New(logger),
			Hooks:         hooks,
		})
		if err != nil {
			return err
		}
		res, err := f.Fetch(ctx, args[0], accept)
		if err != nil {
			return err
		}
		cache := "MISS"
		if res.Cached() {
			cache = "HIT"
		}
		fmt.Fprintf(stdOut, "%d %s (cache %s)\n", res.Status, res.StatusText, cache)
		_, err = stdOut.Write(res.Body)
		return err

	case "get":
		if err := wantArgs(args, 1, 1, "get"); err != nil {
			return err
		}
		v, ok, err := st.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q not found", args[0])
		}
		fmt.Fprintln(stdOut, v)
		return nil

	case "set":
		if err := wantArgs(args, 2, 3, "set"); err != nil {
			return err
		}
		var setOpts []store.SetOption
		if len(args) == 3 {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return usageError("invalid ttl: " + err.Error())
			}
			setOpts = append(setOpts, store.WithTTL(ttl))
		}
		return st.Set(ctx, args[0], args[1], setOpts...)

	case "delete":
		if err := wantArgs(args, 1, 1, "delete"); err != nil {
			return err
		}
		return st.Delete(ctx, args[0])

	case "clear":
		if err := wantArgs(args, 0, 0, "clear"); err != nil {
			return err
		}
		return st.Clear(ctx)

	case "size":
		if err := wantArgs(args, 0, 0, "size"); err != nil {
			return err
		}
		n, err := st.Size(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdOut, n)
		return nil
	}
	return usageError("unknown command " + opts.command)
}

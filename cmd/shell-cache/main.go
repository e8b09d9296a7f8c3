package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	shellcache "github.com/ericselin/shell-cache"
	"github.com/ericselin/shell-cache/cache"
	"github.com/ericselin/shell-cache/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// this is set by goreleaser
var version string

const shutdownTimeout = 10 * time.Second

func main() {
	if version == "" {
		version = "DEV"
	}
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

type app struct {
	config  config.Config
	logFile io.Closer
}

func newApp() *cli.Command {
	a := &app{}
	return &cli.Command{
		Name:    "shell-cache",
		Usage:   "Offline cache for the application shell and its runtime resources",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", Sources: cli.EnvVars("SHELL_CACHE_CONFIG")},
			&cli.StringFlag{Name: "origin", Usage: "Origin URL of the application"},
			&cli.StringFlag{Name: "generation", Usage: "Generation to install and activate"},
			&cli.StringFlag{Name: "db", Usage: "Cache DB file name (use 'memory' for in-memory db)"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "vv", Usage: "Verbosity: trace logging"},
			&cli.StringFlag{Name: "log-file", Usage: "Log file to use (in addition to stdout)"},
		},
		Before: a.setup,
		After:  a.teardown,
		Action: a.serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Install and activate the generation, then proxy the origin",
				Action: a.serve,
			},
			{
				Name:   "install",
				Usage:  "Precache the manifest for the generation",
				Action: a.install,
			},
			{
				Name:   "activate",
				Usage:  "Make the installed generation current and delete all other partitions",
				Action: a.activate,
			},
			{
				Name:  "partitions",
				Usage: "List stored partitions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "keys", Usage: "Also list the keys stored in each partition"},
				},
				Action: a.partitions,
			},
		},
	}
}

// setup loads the config, flags winning over env winning over file,
// and sets up logging.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	c, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("origin") {
		c.Origin = cmd.String("origin")
	}
	if cmd.IsSet("generation") {
		c.Generation = cmd.String("generation")
	}
	if cmd.IsSet("db") {
		c.DB = cmd.String("db")
	}
	if cmd.IsSet("port") {
		c.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("log-file") {
		c.LogFile = cmd.String("log-file")
	}
	a.config = c

	// set log level
	logLevel := zerolog.DebugLevel
	if cmd.Bool("vv") {
		logLevel = zerolog.TraceLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if c.LogFile != "" {
		logFileOutput, err := os.OpenFile(c.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return ctx, fmt.Errorf("open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
		a.logFile = logFileOutput
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	return ctx, c.Validate()
}

func (a *app) teardown(ctx context.Context, cmd *cli.Command) error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// open creates the manager on the configured store.
// The store must be closed by the caller.
func (a *app) open() (*shellcache.Manager, cache.Store, error) {
	origin, err := a.config.OriginURL()
	if err != nil {
		return nil, nil, err
	}
	dbFilename := a.config.DB
	if dbFilename == config.MemoryDB {
		dbFilename = ""
	}
	store, err := cache.NewSQLiteStore(dbFilename)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	m, err := shellcache.New(shellcache.Config{
		Store:      store,
		Origin:     origin,
		Generation: a.config.Generation,
		NamePrefix: a.config.NamePrefix,
		Manifest:   a.config.Manifest,
		Rules:      a.config.Rules(),
		Logger:     &log.Logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return m, store, nil
}

// serve installs and activates the generation, then proxies the origin until
// interrupted. A failed install leaves the previous generation serving;
// the next start tries again.
func (a *app) serve(ctx context.Context, cmd *cli.Command) error {
	m, store, err := a.open()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := m.Install(ctx, nil); err != nil {
		log.Error().Err(err).Str("current", m.Current()).Msg("Install failed, keeping current generation")
	} else {
		m.Activate(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: newRouter(m),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Proxying port %v to %s", a.config.Port, a.config.Origin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	m.Wait()
	return err
}

func (a *app) install(ctx context.Context, cmd *cli.Command) error {
	m, store, err := a.open()
	if err != nil {
		return err
	}
	defer store.Close()
	return m.Install(ctx, nil)
}

func (a *app) activate(ctx context.Context, cmd *cli.Command) error {
	m, store, err := a.open()
	if err != nil {
		return err
	}
	defer store.Close()
	deleted := m.Activate(ctx)
	if m.Current() != a.config.Generation {
		return fmt.Errorf("generation %s not installed, %s stays current", a.config.Generation, m.Current())
	}
	for _, name := range deleted {
		fmt.Fprintf(cmd.Root().Writer, "deleted %s\n", name)
	}
	return nil
}

func (a *app) partitions(ctx context.Context, cmd *cli.Command) error {
	m, store, err := a.open()
	if err != nil {
		return err
	}
	defer store.Close()
	status, err := m.Status()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tGENERATION\tSTATE\tENTRIES")
	for _, p := range status.Partitions {
		state := "-"
		if s, ok := status.Generations[p.Generation]; ok {
			state = s.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, p.Generation, state, p.Entries)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !cmd.Bool("keys") {
		return nil
	}
	for _, p := range status.Partitions {
		partition, err := store.Open(p.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "\n%s:\n", p.Name)
		if err := partition.Keys(func(key string) {
			fmt.Fprintf(cmd.Root().Writer, "  %s\n", key)
		}); err != nil {
			return fmt.Errorf("list keys of %s: %w", p.Name, err)
		}
	}
	return nil
}

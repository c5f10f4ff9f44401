// Package main is the entry point for the songbook server.
//
// songbook is a local-first song library: songs with attached chart PDFs
// and audio recordings, organized with categories, tags and playlists,
// stored as JSONL files plus a content-addressed blob directory. It
// exposes a JSON HTTP API and a handful of maintenance subcommands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"songbook/internal/library"
	"songbook/internal/server"
	"songbook/internal/store"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "songbook: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: songbook [flags] [command]

Commands:
  serve    Run the HTTP server (default)
  list     Print every song, ordered by title
  export   Write a JSON backup to stdout
  import   Merge a JSON backup from stdin
  seed     Apply the seed dataset if it never ran
  gc       Delete blob payloads no song references
  schema   Print the backup document JSON schema
`

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	seedLocation := flag.String("seed", "", "Seed dataset location (URL or file path), overrides config.yaml")
	leanExport := flag.Bool("lean", false, "With the export command, skip file payloads")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 1 {
		return fmt.Errorf("unknown arguments: %v", flag.Args()[1:])
	}
	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop empty values to keep lines short.
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case int64:
				if t == 0 {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg, err := store.LoadConfig(*dataDir)
	if err != nil {
		return err
	}
	if *seedLocation != "" {
		cfg.SeedLocation = *seedLocation
	}
	st, err := store.Open(*dataDir)
	if err != nil {
		return err
	}
	lib := library.New(st, cfg)
	if err := lib.Init(); err != nil {
		return err
	}

	switch command {
	case "serve":
		return serve(ctx, lib, cfg, *httpAddr)
	case "list":
		return list(lib)
	case "export":
		return export(lib, !*leanExport)
	case "import":
		return importBackup(lib)
	case "seed":
		return library.NewSeeder(lib, resolveSeedLocation(cfg.SeedLocation, *dataDir)).Run(ctx)
	case "gc":
		return lib.CompactBlobs()
	case "schema":
		return printSchema()
	default:
		return fmt.Errorf("unknown command: %q", command)
	}
}

// resolveSeedLocation anchors a relative seed path to the data directory so
// "default_songs.json" resolves next to the library regardless of cwd.
func resolveSeedLocation(location, dataDir string) string {
	if location == "" || strings.Contains(location, "://") || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(dataDir, location)
}

func serve(ctx context.Context, lib *library.Library, cfg *store.Config, addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	if err := library.NewSeeder(lib, resolveSeedLocation(cfg.SeedLocation, lib.Store().Dir())).Run(ctx); err != nil {
		return err
	}
	if err := lib.Store().Watch(ctx); err != nil {
		return fmt.Errorf("failed to watch data directory: %w", err)
	}

	srv := server.New(lib, cfg.RateLimits)
	defer srv.Close()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "songs", lib.Store().CountSongs())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func list(lib *library.Library) error {
	songs, err := lib.ListSongsByTitle()
	if err != nil {
		return err
	}
	for _, song := range songs {
		line := song.Title
		if song.Artist != "" {
			line += " - " + song.Artist
		}
		attachments := ""
		if !song.PDF.IsZero() {
			attachments += " [pdf]"
		}
		if !song.Audio.IsZero() {
			attachments += " [audio]"
		}
		fmt.Printf("%s  %s%s\n", song.ID, line, attachments)
	}
	fmt.Printf("%d songs\n", len(songs))
	return nil
}

func export(lib *library.Library, includeFiles bool) error {
	doc, err := lib.Export(includeFiles)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func importBackup(lib *library.Library) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	if err := lib.Import(data); err != nil {
		return err
	}
	fmt.Printf("imported, %d songs in library\n", lib.Store().CountSongs())
	return nil
}

func printSchema() error {
	data, err := json.MarshalIndent(library.BackupSchema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("songbook %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

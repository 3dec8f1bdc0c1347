// Command gulp downloads a single HTTP resource in parallel range chunks
// and writes it to a file or stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/gulp/internal/config"
	"github.com/ligustah/gulp/internal/downloader"
	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/staging"
	"github.com/ligustah/gulp/internal/units"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitSizeUnknown       = 3
	ExitRangeNotSupported = 4
	ExitHTTPError         = 5
	ExitTimeout           = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("gulp", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	chunkSize := fs.String("chunk-size", "", "Chunk size (e.g. 1MB, 512KB)")
	workers := fs.Int("workers", 0, "Number of parallel download workers")
	output := fs.String("output", "", "Output file path (omit for stdout)")
	stagingURL := fs.String("staging", "", "Staging bucket URL (default: temp directory)")
	timeout := fs.Duration("timeout", 0, "Per-chunk timeout")
	grace := fs.Duration("grace", 0, "Grace period for cancellation on abort")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gulp [options] <url>

Download a single HTTP resource in parallel range chunks and write it,
byte-exact, to a file or stdout. The download is all-or-nothing: the
first failing chunk cancels the rest and nothing is written.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configPath != "" {
		fileCfg, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	override := config.Config{
		URL:         fs.Arg(0),
		Output:      *output,
		Workers:     *workers,
		TaskTimeout: *timeout,
		CancelGrace: *grace,
		Staging:     *stagingURL,
	}
	if *chunkSize != "" {
		size, err := units.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: parse -chunk-size: %v\n", err)
			return ExitInvalidArgs
		}
		override.ChunkSize = size
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[gulp] Received interrupt, shutting down...")
		cancel()
	}()

	return download(ctx, cfg)
}

func download(ctx context.Context, cfg config.Config) int {
	store, cleanup, err := openStaging(ctx, cfg.Staging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer cleanup()

	var sink io.Writer
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening output: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		sink = f
	} else {
		w := bufio.NewWriter(os.Stdout)
		sink = w
	}

	start := time.Now()
	err = downloader.Download(ctx, cfg.URL, sink, downloader.Options{
		Workers:     cfg.Workers,
		ChunkSize:   cfg.ChunkSize,
		TaskTimeout: cfg.TaskTimeout,
		CancelGrace: cfg.CancelGrace,
		Staging:     store,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	dest := cfg.Output
	if dest == "" {
		dest = "stdout"
	}
	fmt.Fprintf(os.Stderr, "[gulp] Downloaded %s to %s in %s\n",
		cfg.URL, dest, time.Since(start).Round(time.Millisecond))
	return ExitSuccess
}

// openStaging opens the configured staging bucket, or a fresh temp
// directory that is removed once the session ends.
func openStaging(ctx context.Context, bucketURL string) (*staging.Store, func(), error) {
	if bucketURL != "" {
		store, err := staging.Open(ctx, bucketURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	dir, err := os.MkdirTemp("", "gulp-staging-")
	if err != nil {
		return nil, nil, fmt.Errorf("create staging directory: %w", err)
	}

	store, err := staging.Open(ctx, "file://"+dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}

	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}, nil
}

// exitCode maps a download error to the command's exit code contract.
func exitCode(err error) int {
	var statusErr *gulphttp.StatusError
	var timeoutErr *downloader.TimeoutError

	switch {
	case errors.Is(err, downloader.ErrSizeUnknown):
		return ExitSizeUnknown
	case errors.Is(err, gulphttp.ErrRangeNotSupported), errors.Is(err, gulphttp.ErrRangeMismatch):
		return ExitRangeNotSupported
	case errors.As(err, &timeoutErr):
		return ExitTimeout
	case errors.As(err, &statusErr):
		return ExitHTTPError
	default:
		return ExitGeneralError
	}
}

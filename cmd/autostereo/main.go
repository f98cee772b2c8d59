// Command autostereo renders single-image stereograms from photos and
// animations, replays saved compositions and serves a render job queue.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/stevecastle/autostereo/appconfig"
	"github.com/stevecastle/autostereo/artifact"
	"github.com/stevecastle/autostereo/auth"
	"github.com/stevecastle/autostereo/downloads"
	"github.com/stevecastle/autostereo/jobqueue"
	"github.com/stevecastle/autostereo/platform"
	"github.com/stevecastle/autostereo/preview"
	"github.com/stevecastle/autostereo/render"
	"github.com/stevecastle/autostereo/runners"
	"github.com/stevecastle/autostereo/server"
	"github.com/stevecastle/autostereo/storage"
	"github.com/stevecastle/autostereo/stream"
	"github.com/stevecastle/autostereo/tasks"
)

var errUsage = errors.New("usage")

const usage = `usage: autostereo <command> [flags]

commands:
  still    render a stereogram from an image
  animate  render an animated stereogram from a GIF or a .zip/.7z of frames
  replay   recompose a stereogram from a saved artifact
  serve    run the render job server
  fetch    download the ONNX runtime and models

run "autostereo <command> -h" for the command's flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "still":
		err = runStill(ctx, os.Args[2:])
	case "animate":
		err = runAnimate(ctx, os.Args[2:])
	case "replay":
		err = runReplay(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "fetch":
		err = runFetch(ctx, os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}

	switch {
	case errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "autostereo: %v\n", err)
		os.Exit(1)
	}
}

func runStill(ctx context.Context, args []string) error {
	f := newRenderFlags("still")
	previewPath := f.fs.String("preview", "", "write a three-panel preview PNG to this path")
	open := f.fs.Bool("open", false, "open the preview when done")
	if err := f.parse(args); err != nil {
		return err
	}
	if *f.in == "" || *f.out == "" {
		return fmt.Errorf("%w: autostereo still -in <image> -out <stereogram.png> [flags]", errUsage)
	}
	cfg, err := f.config()
	if err != nil {
		return err
	}
	if *open && *previewPath == "" {
		*previewPath = filepath.Join(os.TempDir(), platform.AppName+"-preview.png")
	}

	svc, err := render.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Still(ctx, render.Request{
		Input:     *f.in,
		Output:    *f.out,
		DepthPath: *f.depthPath,
		Artifact:  *f.artifact,
		Preview:   *previewPath,
	})
	if err != nil {
		return err
	}
	b := res.Stereogram.Bounds()
	fmt.Printf("Wrote %s (%dx%d)\n", *f.out, b.Dx(), b.Dy())
	if *f.artifact != "" {
		fmt.Printf("Wrote artifact %s\n", *f.artifact)
	}
	if *previewPath != "" {
		fmt.Printf("Wrote preview %s\n", *previewPath)
	}
	if *open {
		if err := preview.Open(*previewPath); err != nil {
			if err := platform.OpenFile(*previewPath); err != nil {
				return fmt.Errorf("open preview: %w", err)
			}
		}
	}
	return nil
}

func runAnimate(ctx context.Context, args []string) error {
	f := newRenderFlags("animate")
	delay := f.fs.Int("delay", 0, "frame delay in 100ths of a second for frame archives (default 10)")
	if err := f.parse(args); err != nil {
		return err
	}
	if *f.in == "" || *f.out == "" {
		return fmt.Errorf("%w: autostereo animate -in <frames.gif|.zip|.7z> -out <stereogram.gif> [flags]", errUsage)
	}
	cfg, err := f.config()
	if err != nil {
		return err
	}

	svc, err := render.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Animate(ctx, render.Request{
		Input:     *f.in,
		Output:    *f.out,
		DepthPath: *f.depthPath,
		Delay:     *delay,
		Progress: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rframe %d/%d", done, total)
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d frames)\n", *f.out, len(res.Sequence.Frames))
	return nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: platform config dir)")
	in := fs.String("artifact", "", "artifact bundle written by still -artifact")
	out := fs.String("out", "", "output stereogram path (.png, .jpg, .gif or s3://bucket/key)")
	workers := fs.Int("workers", 0, "row workers (0 = GOMAXPROCS)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("%w: autostereo replay -artifact <bundle.cbor> -out <stereogram.png>", errUsage)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	file, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer file.Close()
	b, err := artifact.Read(file)
	if err != nil {
		return fmt.Errorf("%s: %w", *in, err)
	}
	img, err := artifact.Replay(b, *workers)
	if err != nil {
		return err
	}
	rgba := img.RGBA()
	if err := storage.NewRouter(cfg.S3).Put(ctx, *out, func(w io.Writer) error {
		return render.Encode(w, rgba, *out)
	}); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%dx%d)\n", *out, img.Width, img.Height)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: platform config dir)")
	addr := fs.String("addr", "", "listen address (default from config, :8090)")
	dbPath := fs.String("db", "", "job database path (default from config)")
	noAuth := fs.Bool("no-auth", false, "disable token authentication")
	noBG := fs.Bool("no-bg", false, "render without background removal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *noBG {
		cfg.PostProcess.RemoveBackground = false
	}

	svc, err := render.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	q, err := jobqueue.NewQueueWithDB(db)
	if err != nil {
		return err
	}
	hub := stream.NewHub()
	go hub.Run(ctx)
	q.OnEvent = func(e jobqueue.Event) {
		hub.Broadcast(stream.Message{Type: "job-" + e.UpdateType, Data: e})
	}

	srv := &server.Server{Queue: q, Hub: hub, OutputDir: cfg.OutputDir}
	if !*noAuth {
		a := auth.NewAuthService(db, cfg.JWTSecret)
		if err := a.InitSchema(); err != nil {
			return fmt.Errorf("init users: %w", err)
		}
		if err := a.CreateDefaultUser(); err != nil {
			return fmt.Errorf("create default user: %w", err)
		}
		srv.Auth = a
	}

	r := runners.New(q, tasks.NewRegistry(svc), cfg.JobConcurrency)
	defer r.Shutdown()
	srv.Running = r.Running

	return srv.Run(ctx, cfg.ServerAddr)
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: platform config dir)")
	force := fs.Bool("force", false, "download assets that are already installed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	assets, err := downloads.Assets(cfg, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}

	f := downloads.NewFetcher()
	f.Force = *force
	f.Progress = func(p downloads.Progress) {
		switch p.Status {
		case downloads.StatusDownloading:
			if p.TotalBytes > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%s / %s)", p.Asset, p.Percent,
					downloads.FormatBytes(p.BytesDownloaded), downloads.FormatBytes(p.TotalBytes))
			} else if p.BytesDownloaded > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %s", p.Asset, downloads.FormatBytes(p.BytesDownloaded))
			}
		case downloads.StatusExtracting:
			fmt.Fprintf(os.Stderr, "\n%s: extracting\n", p.Asset)
		case downloads.StatusSkipped:
			fmt.Printf("%s: already installed at %s\n", p.Asset, p.Message)
		case downloads.StatusComplete:
			fmt.Printf("\n%s: installed at %s\n", p.Asset, p.Message)
		case downloads.StatusError:
			fmt.Fprintln(os.Stderr)
		}
	}
	return f.Fetch(ctx, assets)
}

func loadConfig(path string) (appconfig.Config, error) {
	var (
		cfg appconfig.Config
		err error
	)
	if path != "" {
		cfg, _, err = appconfig.LoadFile(path)
	} else {
		cfg, _, err = appconfig.Load()
	}
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}
	return db, nil
}

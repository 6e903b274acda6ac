package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsfeed/internal/config"
	"github.com/zsiec/tsfeed/internal/engine"
	"github.com/zsiec/tsfeed/internal/fetch"
	"github.com/zsiec/tsfeed/internal/media"
	"github.com/zsiec/tsfeed/internal/metrics"
)

var version = "dev"

func main() {
	video := flag.String("video", "test_data/send_video.ts", "initial media source: .ts file, .m3u8 playlist, or URL to either")
	fps := flag.Int("fps", 30, "frame cadence in frames per second")
	out := flag.String("out", "", "write delivered access units to this file instead of discarding them")
	flag.Parse()

	if err := config.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cacheDir := config.GetEnv("CACHE_DIR", "tscache")
	cacheMarker := config.GetEnv("CACHE_MARKER", fetch.DefaultMarker)
	debugAddr := config.GetEnv("DEBUG_ADDR", "")
	frameRate := config.GetEnvInt("FPS", *fps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	log.Info("tsfeed starting",
		"version", version,
		"source", *video,
		"fps", frameRate,
		"cache_dir", cacheDir,
	)

	met := metrics.New()
	fetcher := fetch.New(cacheDir, cacheMarker, log, met)
	mgr := engine.NewManager(fetcher, log, met)

	if err := mgr.Initialize(ctx, *video); err != nil {
		log.Error("failed to open initial source", "source", *video, "error", err)
		os.Exit(1)
	}

	var sink media.FrameSink = media.NullSink{}
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error("failed to create output file", "path", *out, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		sink = media.NewWriterSink(f)
	}

	queue := engine.NewQueue(16, log)
	sender := engine.NewSender(mgr, queue, sink, frameRate, log, met)

	// Stdin cannot be unblocked mid-read, so the reader runs outside the
	// errgroup; it stops feeding the queue once ctx is cancelled and the
	// process exits without waiting on it.
	go func() {
		if err := engine.ReadCommands(ctx, os.Stdin, queue, log); err != nil {
			log.Warn("command reader stopped", "error", err)
		}
		queue.Push(engine.Command{Type: engine.CommandExit})
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return sender.Run(ctx)
	})

	if debugAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", met.Handler())
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"version":     version,
				"source":      mgr.CurrentSource(),
				"state":       sender.State(),
				"frames_sent": sender.FramesSent(),
			})
		})
		srv := &http.Server{Addr: debugAddr, Handler: r}

		g.Go(func() error {
			log.Info("debug server listening", "addr", debugAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutCancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("tsfeed exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("tsfeed stopped")
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/zsiec/ccx"
	"golang.org/x/sync/errgroup"

	srtingest "github.com/zsiec/srtrecv/internal/ingest/srt"
	"github.com/zsiec/srtrecv/internal/pipeline"
	"github.com/zsiec/srtrecv/internal/sink"
)

var version = "dev"

type config struct {
	port           int
	host           string
	latency        time.Duration
	queueCapacity  int
	dumpDir        string
	statusInterval time.Duration
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		slog.Error("receiver error", "error", err)
		os.Exit(1)
	}
}

// run starts the receiver and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config) error {
	slog.Info("srtrecv starting",
		"version", version,
		"port", cfg.port,
		"latency", cfg.latency,
		"queueCapacity", cfg.queueCapacity,
		"dumpDir", cfg.dumpDir,
	)

	srv := srtingest.NewServer(cfg.host, cfg.latency, nil)
	recv := pipeline.NewReceiver(pipeline.Config{
		Source:        srv,
		NewVideoSink:  videoSinkFactory(cfg.dumpDir),
		NewAudioSink:  audioSinkFactory(cfg.dumpDir),
		QueueCapacity: cfg.queueCapacity,
	})

	if err := recv.Start(cfg.port); err != nil {
		return fmt.Errorf("starting receiver: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				logStatus(recv)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		recv.Stop()
		logStatus(recv)
		return nil
	})

	return g.Wait()
}

func logStatus(r *pipeline.Receiver) {
	st := r.Stats()
	slog.Info(r.Status(),
		"bytes", st.Ingest.BytesReceived,
		"packets", st.Demux.Packets,
		"syncErrors", st.Demux.SyncErrors,
		"videoNals", st.VideoNALs,
		"audioFrames", st.AudioFrames,
		"queue", fmt.Sprintf("%d/%d", st.QueueLen, st.QueueCap),
		"dropped", st.QueueDropped,
		"sinkErrors", st.SinkErrors,
	)
}

func loadConfig() (config, error) {
	var cfg config
	var err error
	if cfg.port, err = strconv.Atoi(envOr("SRT_PORT", "9991")); err != nil {
		return cfg, fmt.Errorf("SRT_PORT: %w", err)
	}
	latencyMs, err := strconv.Atoi(envOr("SRT_LATENCY_MS", "120"))
	if err != nil {
		return cfg, fmt.Errorf("SRT_LATENCY_MS: %w", err)
	}
	cfg.latency = time.Duration(latencyMs) * time.Millisecond
	if cfg.queueCapacity, err = strconv.Atoi(envOr("QUEUE_CAPACITY", "200")); err != nil {
		return cfg, fmt.Errorf("QUEUE_CAPACITY: %w", err)
	}
	if cfg.statusInterval, err = time.ParseDuration(envOr("STATUS_INTERVAL", "5s")); err != nil {
		return cfg, fmt.Errorf("STATUS_INTERVAL: %w", err)
	}
	if cfg.statusInterval <= 0 {
		return cfg, fmt.Errorf("STATUS_INTERVAL must be positive, got %s", cfg.statusInterval)
	}
	cfg.host = envOr("SRT_HOST", "")
	cfg.dumpDir = envOr("DUMP_DIR", "")
	return cfg, nil
}

// videoSinkFactory returns a factory for the video path: an Annex-B writer
// (to dir/video.h264, or discarding when dir is empty) behind a caption tap.
func videoSinkFactory(dir string) func() (pipeline.VideoSink, error) {
	return func() (pipeline.VideoSink, error) {
		w, err := dumpFile(dir, "video.h264")
		if err != nil {
			return nil, err
		}
		onCaption := func(f *ccx.CaptionFrame) {
			slog.Info("caption", "channel", f.Channel, "pts", f.PTS, "text", f.Text)
		}
		return sink.NewCaptionTap(sink.NewAnnexBWriter(w, nil), onCaption, nil), nil
	}
}

func audioSinkFactory(dir string) func() (pipeline.AudioSink, error) {
	return func() (pipeline.AudioSink, error) {
		w, err := dumpFile(dir, "audio.aac")
		if err != nil {
			return nil, err
		}
		return sink.NewADTSWriter(w, nil), nil
	}
}

func dumpFile(dir, name string) (io.Writer, error) {
	if dir == "" {
		return io.Discard, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dump dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating dump file: %w", err)
	}
	return f, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

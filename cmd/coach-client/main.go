package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/flowyoga/coach-backend/internal/audio"
	"github.com/flowyoga/coach-backend/internal/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/v1/live", "relay websocket URL")
	framesDir := flag.String("frames", "", "directory of JPEG/PNG frames to stream")
	fps := flag.Float64("fps", 1, "frame send rate")
	out := flag.String("out", "", "file to write received PCM to (empty discards)")
	duration := flag.Duration("duration", 2*time.Minute, "how long to run")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *framesDir == "" {
		fmt.Fprintln(os.Stderr, "usage: coach-client -frames <dir> [-url ws://...] [-out audio.pcm]")
		os.Exit(2)
	}

	if err := run(logger, *url, *framesDir, *fps, *out, *duration); err != nil {
		logger.Error("client failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, url, framesDir string, fps float64, out string, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var sink io.WriteCloser
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		sink = f
	}

	playback := client.NewPlaybackQueue(newPCMFileOutput(sink), 0, logger)
	playback.ResumeOnce()

	transport := client.NewTransport(client.TransportConfig{
		Logger:   logger,
		OnBinary: playback.Enqueue,
		OnControl: func(evt client.ControlEvent) {
			logger.Info("control message", "type", evt.Type, "message", evt.Message)
		},
	})
	if err := transport.Dial(ctx, url); err != nil {
		return err
	}
	defer transport.Close()

	source, err := newDirSource(framesDir, fps)
	if err != nil {
		return err
	}

	capturer, err := client.NewFrameCapturer(client.CapturerConfig{
		Source:          source,
		Sender:          transport,
		FramesPerSecond: fps,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if err := capturer.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	if err := capturer.Stop(); err != nil {
		logger.Warn("capturer stop failed", "error", err)
	}
	if err := playback.Close(); err != nil {
		logger.Warn("playback close failed", "error", err)
	}

	sent, dropped := capturer.Stats()
	logger.Info("session finished", "frames_sent", sent, "frames_dropped", dropped)
	return nil
}

// dirSource cycles through the image files of a directory at the configured
// rate, simulating a camera for testing against a running relay.
type dirSource struct {
	paths  []string
	idx    int
	ticker *time.Ticker
}

func newDirSource(dir string, fps float64) (*dirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(paths)

	if fps <= 0 {
		fps = 1
	}
	return &dirSource{
		paths:  paths,
		ticker: time.NewTicker(time.Duration(float64(time.Second) / fps)),
	}, nil
}

func (s *dirSource) Next(ctx context.Context) (client.VideoFrame, error) {
	select {
	case <-ctx.Done():
		return client.VideoFrame{}, ctx.Err()
	case <-s.ticker.C:
	}

	path := s.paths[s.idx%len(s.paths)]
	s.idx++

	f, err := os.Open(path)
	if err != nil {
		return client.VideoFrame{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return client.VideoFrame{}, err
	}
	return client.VideoFrame{Image: img, Release: func() {}}, nil
}

func (s *dirSource) Close() error {
	s.ticker.Stop()
	return nil
}

// pcmFileOutput writes received audio back out as 16-bit LE PCM. A nil
// writer discards. Completion is synchronous; there is no real audio clock.
type pcmFileOutput struct {
	w io.WriteCloser
}

func newPCMFileOutput(w io.WriteCloser) *pcmFileOutput {
	return &pcmFileOutput{w: w}
}

func (o *pcmFileOutput) Play(samples []float32, done func()) error {
	if o.w != nil {
		pcm := audio.Int16ToPCMBytes(audio.Float32ToInt16(samples))
		if _, err := o.w.Write(pcm); err != nil {
			return err
		}
	}
	done()
	return nil
}

func (o *pcmFileOutput) Resume() error { return nil }

func (o *pcmFileOutput) Close() error {
	if o.w == nil {
		return nil
	}
	return o.w.Close()
}

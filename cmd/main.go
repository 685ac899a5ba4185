package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"jpeg-capture-streamer/internal/capture"
	"jpeg-capture-streamer/internal/encode"
	"jpeg-capture-streamer/internal/pipeline"
	"jpeg-capture-streamer/internal/stream"
	"jpeg-capture-streamer/pkg/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	src, err := newSource(cfg)
	if err != nil {
		log.Fatalf("failed to open %s source: %v", cfg.Source, err)
	}
	capturer, err := capture.NewCapturer(cfg, src)
	if err != nil {
		log.Fatalf("failed to create capturer: %v", err)
	}

	sink, closeSinks, err := newSinks(cfg)
	if err != nil {
		log.Fatalf("failed to start sinks: %v", err)
	}
	defer closeSinks()

	engine := encode.NewEngine(2 * time.Second / time.Duration(cfg.FrameRate))
	p, err := pipeline.New(pipeline.Config{
		Quality:    cfg.JpegQuality,
		Capacity:   cfg.BufferCapacity,
		TickSkip:   cfg.TickSkip,
		CountDrops: cfg.CountDrops,
		Debug:      cfg.Debug(),
	}, *capturer.Frame(), engine, sink)
	if err != nil {
		log.Fatalf("failed to create pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capturer.Start(p.Tick)
	log.Printf("[PIPELINE] %dx%d @ %d fps, skip %d -> %.1f fps, quality %d, swap %s",
		cfg.Width, cfg.Height, cfg.FrameRate, cfg.TickSkip, cfg.OutputRate(), cfg.JpegQuality, cfg.Swap())

	if cfg.CountDrops {
		go reportStats(ctx, p)
	}
	if err := runConsumer(ctx, p); err != nil {
		log.Printf("[PIPELINE] consumer loop exited: %v", err)
	}
	log.Println("[PIPELINE] stopped")
}

type runner interface {
	Run(ctx context.Context) error
}

// runConsumer runs the consumer loop and reports why it stopped. A
// cancelled context is the normal shutdown path and is not an error.
func runConsumer(ctx context.Context, r runner) error {
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSource(cfg *config.Config) (capture.Source, error) {
	switch cfg.Source {
	case config.SourceScreen:
		return capture.NewScreenSource(cfg.DisplayIndex)
	case config.SourceCamera:
		return capture.NewCameraSource(cfg.Width, cfg.Height)
	default:
		return capture.NewPatternSource(cfg.Width, cfg.Height), nil
	}
}

func newSinks(cfg *config.Config) (stream.Multi, func(), error) {
	var sinks stream.Multi
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.HasSink(config.SinkRTSP) {
		rtsp, err := stream.NewRTSPServer(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := rtsp.Start(); err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, rtsp)
		closers = append(closers, rtsp.Close)
	}
	if cfg.HasSink(config.SinkWebSocket) {
		ws := stream.NewWSServer(cfg.WsAddr, cfg.WsPath)
		if err := ws.Start(); err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, ws)
		closers = append(closers, func() { ws.Close() })
	}
	return sinks, closeAll, nil
}

func reportStats(ctx context.Context, p *pipeline.Pipeline) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			log.Printf("[PIPELINE] ticks=%d skipped=%d submitted=%d claimed=%d dropped=%d (busy=%d rejected=%d failed=%d overwritten=%d empty=%d) sinkErrors=%d",
				s.Ticks, s.Skipped, s.Submitted, s.Claimed, s.Dropped(),
				s.Busy, s.Rejected, s.Failed, s.Overwritten, s.Empty, s.SinkErrors)
		}
	}
}

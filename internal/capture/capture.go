package capture

import (
	"fmt"
	"image"
	"log"
	"time"

	"jpeg-capture-streamer/pkg/config"
	"jpeg-capture-streamer/pkg/pixel"

	"github.com/nfnt/resize"
)

// Source yields one image per call. release must be called once the image
// has been consumed; it may be a no-op.
type Source interface {
	Grab() (img image.Image, release func(), err error)
}

// Capturer owns the single capture frame and overwrites it in place on every
// tick. Readers of the frame see whatever is there when they look; tearing
// between two captures is accepted.
type Capturer struct {
	frame *pixel.Frame
	src   Source
	rate  time.Duration
	debug bool
}

func NewCapturer(cfg *config.Config, src Source) (*Capturer, error) {
	frame, err := pixel.NewFrame(cfg.Width, cfg.Height, cfg.Swap())
	if err != nil {
		return nil, fmt.Errorf("capture frame %dx%d: %w", cfg.Width, cfg.Height, err)
	}
	return &Capturer{
		frame: frame,
		src:   src,
		rate:  time.Second / time.Duration(cfg.FrameRate),
		debug: cfg.Debug(),
	}, nil
}

func (c *Capturer) Frame() *pixel.Frame {
	return c.frame
}

// Start runs the capture loop. onTick fires after every capture attempt,
// successful or not, at the configured frame rate.
func (c *Capturer) Start(onTick func()) {
	go c.run(onTick)
}

func (c *Capturer) run(onTick func()) {
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.captureOnce(); err != nil && c.debug {
			log.Printf("[CAPTURE] grab failed: %v", err)
		}
		onTick()
	}
}

func (c *Capturer) captureOnce() error {
	img, release, err := c.src.Grab()
	if err != nil {
		return err
	}
	defer release()

	b := img.Bounds()
	if b.Dx() != c.frame.Width || b.Dy() != c.frame.Height {
		img = resize.Resize(uint(c.frame.Width), uint(c.frame.Height), img, resize.NearestNeighbor)
	}
	c.frame.Draw(img)
	return nil
}

func noRelease() {}

package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
)

type CameraSource struct {
	stream mediadevices.MediaStream
	reader video.Reader
}

func NewCameraSource(width, height int) (*CameraSource, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUY2, frame.FormatI420}
			c.Width = prop.Int(width)
			c.Height = prop.Int(height)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("camera returned no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, errors.New("unexpected camera track type")
	}
	return &CameraSource{
		stream: stream,
		reader: track.NewReader(false),
	}, nil
}

func (c *CameraSource) Grab() (image.Image, func(), error) {
	img, release, err := c.reader.Read()
	if err != nil {
		return nil, nil, err
	}
	if release == nil {
		release = noRelease
	}
	return img, release, nil
}

func (c *CameraSource) Close() error {
	var errs []error
	for _, t := range c.stream.GetTracks() {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

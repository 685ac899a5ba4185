package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"jpeg-capture-streamer/pkg/pixel"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SourceScreen  = "screen"
	SourceCamera  = "camera"
	SourcePattern = "pattern"

	SinkRTSP      = "rtsp"
	SinkWebSocket = "websocket"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	JpegQuality    int      `mapstructure:"jpegQuality"`
	TickSkip       int      `mapstructure:"tickSkip"`
	BufferCapacity int      `mapstructure:"bufferCapacity"`
	SwapMode       string   `mapstructure:"swapMode"`
	Width          int      `mapstructure:"width"`
	Height         int      `mapstructure:"height"`
	FrameRate      int      `mapstructure:"frameRate"`
	Source         string   `mapstructure:"source"`
	DisplayIndex   int      `mapstructure:"displayIndex"`
	Sinks          []string `mapstructure:"sinks"`
	RtspPort       int      `mapstructure:"rtspPort"`
	RtspPath       string   `mapstructure:"rtspPath"`
	RtpPayloadMax  int      `mapstructure:"rtpPayloadMaxSize"`
	WsAddr         string   `mapstructure:"wsAddr"`
	WsPath         string   `mapstructure:"wsPath"`
	CountDrops     bool     `mapstructure:"countDrops"`
	DebugYn        string   `mapstructure:"debugYn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jpegQuality", 75)
	v.SetDefault("tickSkip", 0)
	v.SetDefault("bufferCapacity", 64*1024)
	v.SetDefault("swapMode", "none")
	v.SetDefault("width", 640)
	v.SetDefault("height", 480)
	v.SetDefault("frameRate", 60)
	v.SetDefault("source", SourcePattern)
	v.SetDefault("displayIndex", 0)
	v.SetDefault("sinks", []string{SinkRTSP})
	v.SetDefault("rtspPort", 8554)
	v.SetDefault("rtspPath", "live")
	v.SetDefault("rtpPayloadMaxSize", 1460)
	v.SetDefault("wsAddr", ":8080")
	v.SetDefault("wsPath", "/frames")
	v.SetDefault("countDrops", false)
	v.SetDefault("debugYn", "N")
}

func LoadConfig() (*Config, error) {
	return Load(".")
}

// Load reads config.yaml from dir. A missing file or .env is not an error;
// defaults and JCS_* environment variables fill the gaps.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("JCS")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.JpegQuality < 1 || c.JpegQuality > 100:
		return fmt.Errorf("%w: jpegQuality %d out of range 1..100", ErrInvalid, c.JpegQuality)
	case c.TickSkip < 0:
		return fmt.Errorf("%w: tickSkip %d is negative", ErrInvalid, c.TickSkip)
	case c.BufferCapacity <= 0:
		return fmt.Errorf("%w: bufferCapacity must be positive", ErrInvalid)
	case c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0:
		return fmt.Errorf("%w: frame %dx%d (width must be even)", ErrInvalid, c.Width, c.Height)
	case c.FrameRate <= 0:
		return fmt.Errorf("%w: frameRate must be positive", ErrInvalid)
	case c.RtpPayloadMax <= 64:
		return fmt.Errorf("%w: rtpPayloadMaxSize %d too small", ErrInvalid, c.RtpPayloadMax)
	}
	if _, err := pixel.ParseSwapMode(c.SwapMode); err != nil {
		return fmt.Errorf("%w: %v (combined modes are written 32-16-8)", ErrInvalid, err)
	}
	switch c.Source {
	case SourceScreen, SourceCamera, SourcePattern:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, c.Source)
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("%w: no sinks configured", ErrInvalid)
	}
	for _, s := range c.Sinks {
		switch strings.ToLower(s) {
		case SinkRTSP, SinkWebSocket:
		default:
			return fmt.Errorf("%w: unknown sink %q", ErrInvalid, s)
		}
	}
	return nil
}

func (c *Config) Swap() pixel.SwapMode {
	m, _ := pixel.ParseSwapMode(c.SwapMode)
	return m
}

// OutputRate is the frame rate reaching the sinks once ticks are divided.
func (c *Config) OutputRate() float64 {
	return float64(c.FrameRate) / float64(c.TickSkip+1)
}

func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func (c *Config) Debug() bool {
	return c.DebugYn == "Y"
}

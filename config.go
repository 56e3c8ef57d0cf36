package meeting

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// VideoConfig describes the produced video stream.
type VideoConfig struct {
	Codec       string `yaml:"codec"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         uint32 `yaml:"fps"`
	BitrateKbps int    `yaml:"bitrate_kbps"`
	Threads     int    `yaml:"threads"`
}

// Config is the client session configuration.
type Config struct {
	ServerURL string      `yaml:"server_url"`
	RoomId    string      `yaml:"room_id"`
	PeerId    string      `yaml:"peer_id"`
	Video     VideoConfig `yaml:"video"`
	LogLevel  string      `yaml:"log_level"`
}

// DefaultConfig returns a working local-development configuration.
func DefaultConfig() Config {
	return Config{
		ServerURL: "ws://localhost:8080/ws",
		RoomId:    "1",
		PeerId:    "1",
		Video: VideoConfig{
			Codec:       "vp8",
			Width:       1280,
			Height:      720,
			FPS:         30,
			BitrateKbps: 1500,
			Threads:     2,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields the session cannot default its way around.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if _, ok := codec.VideoCodecTypeFromMimeType("video/" + c.Video.Codec); !ok {
		return fmt.Errorf("config: unknown video codec %q", c.Video.Codec)
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 || c.Video.FPS == 0 {
		return fmt.Errorf("config: invalid video geometry %dx%d@%d", c.Video.Width, c.Video.Height, c.Video.FPS)
	}
	return nil
}

// VideoCodecType resolves the configured codec name.
func (c Config) VideoCodecType() codec.VideoCodecType {
	v, _ := codec.VideoCodecTypeFromMimeType("video/" + c.Video.Codec)
	return v
}

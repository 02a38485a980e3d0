package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// config holds the runtime settings for one end of a link.
type config struct {
	Role      string // "send" or "recv"
	Transport string // "quic" or "srt"

	// Listen accepts the peer's connection; Dial connects out. Exactly
	// one of the two must be set.
	Listen string
	Dial   string

	// Fingerprint pins the listener's certificate when dialing over
	// QUIC. Empty accepts any certificate.
	Fingerprint string

	// StreamID identifies the dialing side on SRT links.
	StreamID string

	// Input is the Annex B file the sender loops over; Output is where
	// the receiver writes reconstructed Annex B units.
	Input  string
	Output string

	QueueDepth    int
	FrameInterval time.Duration
}

func defaultConfig() config {
	return config{
		Role:          "send",
		Transport:     "quic",
		StreamID:      "multipla",
		QueueDepth:    60,
		FrameInterval: 33 * time.Millisecond,
	}
}

// fileConfig is the TOML shape of a config file.
type fileConfig struct {
	Role          string `toml:"role"`
	Transport     string `toml:"transport"`
	Listen        string `toml:"listen"`
	Dial          string `toml:"dial"`
	Fingerprint   string `toml:"fingerprint"`
	StreamID      string `toml:"stream_id"`
	Input         string `toml:"input"`
	Output        string `toml:"output"`
	QueueDepth    int    `toml:"queue_depth"`
	FrameInterval string `toml:"frame_interval"`
}

// loadConfig reads a TOML config file over the defaults. Keys absent from
// the file keep their default values.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("role") {
		cfg.Role = strings.TrimSpace(raw.Role)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("dial") {
		cfg.Dial = strings.TrimSpace(raw.Dial)
	}
	if meta.IsDefined("fingerprint") {
		cfg.Fingerprint = strings.TrimSpace(raw.Fingerprint)
	}
	if meta.IsDefined("stream_id") {
		cfg.StreamID = strings.TrimSpace(raw.StreamID)
	}
	if meta.IsDefined("input") {
		cfg.Input = strings.TrimSpace(raw.Input)
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("frame_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.FrameInterval))
		if err != nil {
			return config{}, fmt.Errorf("parse frame_interval: %w", err)
		}
		cfg.FrameInterval = d
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.Role != "send" && c.Role != "recv" {
		return fmt.Errorf("role must be \"send\" or \"recv\", got %q", c.Role)
	}
	if c.Transport != "quic" && c.Transport != "srt" {
		return fmt.Errorf("transport must be \"quic\" or \"srt\", got %q", c.Transport)
	}
	if (c.Listen == "") == (c.Dial == "") {
		return fmt.Errorf("exactly one of listen and dial must be set")
	}
	if c.Role == "send" && c.Input == "" {
		return fmt.Errorf("send role requires an input file")
	}
	if c.Role == "recv" && c.Output == "" {
		return fmt.Errorf("recv role requires an output file")
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive")
	}
	return nil
}

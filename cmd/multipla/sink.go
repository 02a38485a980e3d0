package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mistrzunio/multipla-poc/codec"
	"github.com/mistrzunio/multipla-poc/media"
)

// annexBSink is a decoder stand-in that writes reconstructed units back
// out as a decodable Annex B stream: the configuration pair on session
// creation, then each frame unit as it is decoded.
type annexBSink struct {
	log *slog.Logger

	mu       sync.Mutex
	w        io.Writer
	sessions int
}

type sinkSession struct {
	id int
}

func newAnnexBSink(w io.Writer, log *slog.Logger) *annexBSink {
	if log == nil {
		log = slog.Default()
	}
	return &annexBSink{
		log: log.With("component", "annexb-sink"),
		w:   w,
	}
}

func (s *annexBSink) Create(cfg *codec.ConfigurationSet) (codec.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := media.AppendStartCode(nil, cfg.Primary)
	buf = media.AppendStartCode(buf, cfg.Secondary)
	if _, err := s.w.Write(buf); err != nil {
		return nil, fmt.Errorf("write configuration: %w", err)
	}

	s.sessions++
	if info, err := media.ParseSPS(cfg.Primary); err == nil {
		s.log.Info("session created",
			"session", s.sessions,
			"codec", info.CodecString(),
			"width", info.Width,
			"height", info.Height,
			"record_bytes", len(cfg.Record()))
	} else {
		s.log.Info("session created", "session", s.sessions)
	}
	return &sinkSession{id: s.sessions}, nil
}

func (s *annexBSink) Decode(sess codec.Session, unit []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(media.AppendStartCode(nil, unit)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *annexBSink) Invalidate(sess codec.Session) {
	s.log.Info("session invalidated", "session", sess.(*sinkSession).id)
}

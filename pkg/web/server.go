// Package web serves a live view of a fusion run: progress, recent events and
// websocket streams of per-frame results and annotated frames.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
	"github.com/teslashibe/go-gaze/pkg/hub"
)

// Config holds server configuration
type Config struct {
	Addr  string // listen address, e.g. ":8090"
	RunID string
	Video string

	// Progress reports the pipeline's running totals.
	Progress func() fusion.Summary

	// EncodeFrame turns a processed frame into JPEG bytes. Nil disables
	// the frame stream.
	EncodeFrame func(fusion.Frame) ([]byte, error)

	// FrameEvery sends every n-th processed frame to frame viewers.
	FrameEvery int

	// RecentEvents is how many events /api/events can return.
	RecentEvents int

	Logger *slog.Logger
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8090",
		FrameEvery:   5,
		RecentEvents: 1000,
	}
}

// FrameMessage is sent to /ws/events viewers for every processed frame.
type FrameMessage struct {
	Frame      int                   `json:"frame"`
	Detections []detection.Detection `json:"detections"`
	Event      *fusion.Event         `json:"event,omitempty"`
}

// Status is the /api/status payload.
type Status struct {
	RunID        string         `json:"run_id"`
	Video        string         `json:"video"`
	StartedAt    time.Time      `json:"started_at"`
	Summary      fusion.Summary `json:"summary"`
	EventViewers int            `json:"event_viewers"`
	FrameViewers int            `json:"frame_viewers"`
}

// Server is the live review server.
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	started time.Time

	events *hub.Hub
	frames *hub.Hub

	mu     sync.RWMutex
	recent []fusion.Event // ring buffer
	next   int
	full   bool

	cancel context.CancelFunc
}

// NewServer creates a review server. Hubs run until Shutdown.
func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.FrameEvery < 1 {
		cfg.FrameEvery = def.FrameEvery
	}
	if cfg.RecentEvents < 1 {
		cfg.RecentEvents = def.RecentEvents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "web"),
		started: time.Now().UTC(),
		events:  hub.New("events"),
		frames:  hub.New("frames"),
		recent:  make([]fusion.Event, cfg.RecentEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "gazefuse",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.events.Run(ctx)
	go s.frames.Run(ctx)

	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("review server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("review server stopped", "error", err)
		}
	}()
}

// Shutdown stops the hubs and the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.app.ShutdownWithContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ObserveFrame implements fusion.Observer. It copies what it keeps and never
// blocks the pipeline.
func (s *Server) ObserveFrame(r fusion.FrameResult) {
	idx := r.Frame.Index()

	msg := FrameMessage{Frame: idx, Detections: r.Detections}
	if msg.Detections == nil {
		msg.Detections = []detection.Detection{}
	}
	if r.Event != nil {
		ev := *r.Event
		msg.Event = &ev
		s.remember(ev)
	}

	if s.events.ClientCount() > 0 {
		if err := s.events.BroadcastJSON(msg); err != nil {
			s.logger.Warn("encode frame message", "frame", idx, "error", err)
		}
	}

	if s.cfg.EncodeFrame != nil && s.frames.ClientCount() > 0 && idx%s.cfg.FrameEvery == 0 {
		jpeg, err := s.cfg.EncodeFrame(r.Frame)
		if err != nil {
			s.logger.Warn("encode preview frame", "frame", idx, "error", err)
			return
		}
		s.frames.BroadcastBinary(jpeg)
	}
}

func (s *Server) remember(ev fusion.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent[s.next] = ev
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit of the latest events, oldest first.
func (s *Server) Recent(limit int) []fusion.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.recent)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]fusion.Event, 0, limit)
	start := s.next - limit
	if start < 0 {
		start += len(s.recent)
	}
	for i := 0; i < limit; i++ {
		out = append(out, s.recent[(start+i)%len(s.recent)])
	}
	return out
}

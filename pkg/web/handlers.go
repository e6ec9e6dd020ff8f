package web

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-gaze/pkg/hub"
)

const defaultEventLimit = 100

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := Status{
		RunID:        s.cfg.RunID,
		Video:        s.cfg.Video,
		StartedAt:    s.started,
		EventViewers: s.events.ClientCount(),
		FrameViewers: s.frames.ClientCount(),
	}
	if s.cfg.Progress != nil {
		st.Summary = s.cfg.Progress()
	}
	return c.JSON(st)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
	}
	events := s.Recent(limit)
	return c.JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.serve(s.events, c)
}

func (s *Server) handleFramesWS(c *websocket.Conn) {
	s.serve(s.frames, c)
}

func (s *Server) serve(h *hub.Hub, c *websocket.Conn) {
	if err := h.Serve(c); err != nil {
		s.logger.Debug("viewer rejected", "error", err)
	}
}

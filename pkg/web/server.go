// Package web serves the camera dashboard API: REST endpoints over the
// registry, a websocket event stream and prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/hub"
	"github.com/teslashibe/camcal/pkg/registry"
)

// DefaultPollInterval is how often running jobs are sampled for progress.
const DefaultPollInterval = 200 * time.Millisecond

// Config configures a Server.
type Config struct {
	Addr string

	// PollInterval is the progress sampling period.
	PollInterval time.Duration

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Opener reads first frames for thumbnails. Nil uses frame.Open.
	Opener frame.Opener

	Logger *slog.Logger
}

type sentState struct {
	percent int
	phase   string
}

// Server is the dashboard.
type Server struct {
	app    *fiber.App
	cfg    Config
	reg    *registry.Registry
	events *hub.Hub
	logger *slog.Logger

	mu       sync.Mutex
	previews map[int][]byte       // latest run preview per camera
	sent     map[string]sentState // last broadcast per run
}

// NewServer creates the dashboard for reg and subscribes to its changes.
func NewServer(reg *registry.Registry, cfg Config) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Opener == nil {
		cfg.Opener = frame.Open
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		reg:      reg,
		logger:   cfg.Logger.With("component", "web"),
		previews: make(map[int][]byte),
		sent:     make(map[string]sentState),
	}
	s.events = hub.New("events", cfg.Logger)

	app := fiber.New(fiber.Config{
		AppName:               "camcal",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/board", s.handleGetBoard)
	api.Put("/board", s.handlePutBoard)
	api.Get("/cameras", s.handleListCameras)
	api.Post("/cameras", s.handleAddCamera)
	api.Get("/cameras/:id", s.handleGetCamera)
	api.Put("/cameras/:id", s.handleUpdateCamera)
	api.Delete("/cameras/:id", s.handleDeleteCamera)
	api.Post("/cameras/:id/calibrate", s.handleCalibrate)
	api.Get("/cameras/:id/progress", s.handleProgress)
	api.Get("/cameras/:id/preview", s.handlePreview)
	api.Post("/calibrate", s.handleCalibrateAll)

	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	reg.SetOnChange(s.OnChange)
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the event hub.
func (s *Server) Hub() *hub.Hub {
	return s.events
}

// Start runs the hub, the progress poller and the listener until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.events.Run(ctx)
	go s.poll(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		errc <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		return nil
	}
}

// OnChange broadcasts a camera whose run has finished.
func (s *Server) OnChange(rec registry.Record) {
	s.broadcast(cameraEvent(rec))
}

func (s *Server) broadcast(e hub.Event) {
	if err := s.events.BroadcastJSON(e); err != nil {
		s.logger.Error("broadcast failed", "error", err)
	}
}

// poll samples the latest event of every running job. Intermediate events
// that arrive between ticks are skipped.
func (s *Server) poll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Server) pollOnce() {
	active := make(map[string]bool)
	for _, job := range s.reg.Jobs() {
		active[job.ID] = true
		p, ok := job.Latest()
		if !ok {
			continue
		}

		s.mu.Lock()
		cur := sentState{percent: p.Percent, phase: p.Phase}
		last, seen := s.sent[job.ID]
		fresh := !seen || last != cur
		if fresh {
			s.sent[job.ID] = cur
		}
		if p.Preview != nil {
			s.previews[job.CameraID] = p.Preview
		}
		s.mu.Unlock()

		if fresh {
			s.broadcast(progressEvent(job, p))
		}
	}

	s.mu.Lock()
	for id := range s.sent {
		if !active[id] {
			delete(s.sent, id)
		}
	}
	s.mu.Unlock()
}

func (s *Server) preview(id int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.previews[id]
	return b, ok
}

func (s *Server) forget(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.previews, id)
}

// statusCode maps registry and validation errors to HTTP statuses.
func statusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, registry.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyRunning), errors.Is(err, registry.ErrNameTaken):
		return fiber.StatusConflict
	case errors.Is(err, registry.ErrInvalidSettings), errors.Is(err, registry.ErrNoVideo), isBoardError(err):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusCode(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

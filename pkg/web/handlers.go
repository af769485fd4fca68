package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/calibration"
	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/hub"
	"github.com/teslashibe/camcal/pkg/registry"
)

// CameraView is the JSON form of a camera.
type CameraView struct {
	registry.Settings
	Status            registry.Status      `json:"status"`
	Message           string               `json:"message"`
	FramesWithCorners int                  `json:"frames_with_corners"`
	RunID             string               `json:"run_id,omitempty"`
	Error             string               `json:"error,omitempty"`
	Result            *calibration.Summary `json:"result,omitempty"`
}

func cameraView(rec registry.Record) CameraView {
	v := CameraView{
		Settings:          rec.Settings,
		Status:            rec.Outcome.Status,
		Message:           rec.Outcome.Message,
		FramesWithCorners: rec.Outcome.FramesWithCorners,
		RunID:             rec.Outcome.RunID,
		Result:            rec.Outcome.Result.Summary(),
	}
	if rec.Outcome.Err != nil {
		v.Error = calibration.Reason(rec.Outcome.Err)
	}
	return v
}

// ProgressView is the JSON form of a camera's progress.
type ProgressView struct {
	CameraID   int             `json:"camera_id"`
	Status     registry.Status `json:"status"`
	Running    bool            `json:"running"`
	RunID      string          `json:"run_id,omitempty"`
	Percent    int             `json:"percent"`
	Phase      string          `json:"phase,omitempty"`
	Message    string          `json:"message"`
	HasPreview bool            `json:"has_preview"`
}

func cameraEvent(rec registry.Record) hub.Event {
	e := hub.Event{
		Type:     hub.EventCamera,
		CameraID: rec.Settings.ID,
		RunID:    rec.Outcome.RunID,
		Status:   rec.Outcome.Status.String(),
		Message:  rec.Outcome.Message,
	}
	if rec.Outcome.Status == registry.Succeeded {
		e.Percent = 100
	}
	return e
}

func progressEvent(job *registry.Job, p calibration.Progress) hub.Event {
	return hub.Event{
		Type:       hub.EventProgress,
		CameraID:   job.CameraID,
		RunID:      job.ID,
		Percent:    p.Percent,
		Phase:      p.Phase,
		Status:     registry.Running.String(),
		HasPreview: p.Preview != nil,
	}
}

func isBoardError(err error) bool {
	return errors.Is(err, board.ErrInvalidBoard)
}

func cameraID(c *fiber.Ctx) (int, error) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil || id < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid camera id")
	}
	return id, nil
}

// parseBody decodes a JSON body into v. An empty body leaves v unchanged.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	return nil
}

func (s *Server) handleGetBoard(c *fiber.Ctx) error {
	return c.JSON(s.reg.Board())
}

func (s *Server) handlePutBoard(c *fiber.Ctx) error {
	b := s.reg.Board()
	if err := parseBody(c, &b); err != nil {
		return err
	}
	if b.Kind == "" {
		b.Kind = board.Checkerboard
	}
	if err := s.reg.SetBoard(b); err != nil {
		return err
	}
	s.broadcast(hub.Event{Type: hub.EventBoard})
	return c.JSON(b)
}

func (s *Server) handleListCameras(c *fiber.Ctx) error {
	recs := s.reg.List()
	out := make([]CameraView, len(recs))
	for i, rec := range recs {
		out[i] = cameraView(rec)
	}
	return c.JSON(out)
}

func (s *Server) handleAddCamera(c *fiber.Ctx) error {
	settings := registry.DefaultSettings()
	if err := parseBody(c, &settings); err != nil {
		return err
	}
	id, err := s.reg.Add(settings)
	if err != nil {
		return err
	}
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	s.broadcast(cameraEvent(rec))
	return c.Status(fiber.StatusCreated).JSON(cameraView(rec))
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	return c.JSON(cameraView(rec))
}

// handleUpdateCamera merges the body onto the current settings.
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	settings := rec.Settings
	if err := parseBody(c, &settings); err != nil {
		return err
	}
	if err := s.reg.Update(id, settings); err != nil {
		return err
	}
	if rec, err = s.reg.Get(id); err != nil {
		return err
	}
	if rec.Outcome.Status == registry.NotRun {
		s.forget(id)
	}
	s.broadcast(cameraEvent(rec))
	return c.JSON(cameraView(rec))
}

func (s *Server) handleDeleteCamera(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	if err := s.reg.Delete(id); err != nil {
		return err
	}
	s.forget(id)
	s.broadcast(hub.Event{Type: hub.EventRemoved, CameraID: id})
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCalibrate(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	job, err := s.reg.StartCalibration(id)
	if err != nil {
		return err
	}
	s.forget(id)
	s.broadcast(hub.Event{Type: hub.EventCamera, CameraID: id, RunID: job.ID, Status: registry.Running.String()})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"camera_id": id,
		"run_id":    job.ID,
	})
}

func (s *Server) handleCalibrateAll(c *fiber.Ctx) error {
	started, errs := s.reg.StartAll()
	skipped := make(map[string]string, len(errs))
	for id, err := range errs {
		skipped[strconv.Itoa(id)] = err.Error()
	}
	for _, id := range started {
		s.forget(id)
		s.broadcast(hub.Event{Type: hub.EventCamera, CameraID: id, Status: registry.Running.String()})
	}
	if started == nil {
		started = []int{}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"started": started,
		"skipped": skipped,
	})
}

func (s *Server) handleProgress(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}

	v := ProgressView{
		CameraID: id,
		Status:   rec.Outcome.Status,
		RunID:    rec.Outcome.RunID,
		Message:  rec.Outcome.Message,
	}
	if job, ok := s.reg.Job(id); ok {
		v.Running = true
		if p, ok := job.Latest(); ok {
			v.Percent = p.Percent
			v.Phase = p.Phase
			v.HasPreview = p.Preview != nil
		}
	} else if rec.Outcome.Status == registry.Succeeded {
		v.Percent = 100
	}
	if _, ok := s.preview(id); ok {
		v.HasPreview = true
	}
	return c.JSON(v)
}

// handlePreview serves the latest run preview, or a thumbnail of the
// camera's first frame when no run has produced one.
func (s *Server) handlePreview(c *fiber.Ctx) error {
	id, err := cameraID(c)
	if err != nil {
		return err
	}
	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}

	if job, ok := s.reg.Job(id); ok {
		if p, ok := job.Latest(); ok && p.Preview != nil {
			return sendJPEG(c, p.Preview)
		}
	}
	if b, ok := s.preview(id); ok {
		return sendJPEG(c, b)
	}
	if rec.Settings.VideoPath == "" {
		return fiber.NewError(fiber.StatusNotFound, "no video selected")
	}

	first, err := frame.FirstFrame(s.cfg.Opener, rec.Settings.VideoPath, rec.Settings.Orientation())
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	defer first.Close()
	b, err := frame.PreviewJPEG(first, frame.DefaultThumbnailHeight)
	if err != nil {
		return err
	}
	return sendJPEG(c, b)
}

func sendJPEG(c *fiber.Ctx, b []byte) error {
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(b)
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}

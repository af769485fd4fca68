package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/camcal/internal/httpc"
	"github.com/teslashibe/camcal/internal/log"
	"github.com/teslashibe/camcal/pkg/hub"
	"github.com/teslashibe/camcal/pkg/registry"
	"github.com/teslashibe/camcal/pkg/web"
)

// defaultWatchPoll is how often watch checks progress over HTTP.
const defaultWatchPoll = 2 * time.Second

var watchFlags struct {
	server string
	start  bool
	plain  bool
	poll   time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch <camera-id>",
	Short: "Follow a camera's calibration on a running dashboard",
	Long: `Connects to a dashboard started with "camcal serve" and shows the
progress of one camera's calibration until it finishes. With --start the
calibration is started first.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.server, "server", "", "dashboard URL (default http://localhost:<port>)")
	f.BoolVar(&watchFlags.start, "start", false, "start the calibration before following it")
	f.BoolVar(&watchFlags.plain, "plain", false, "print progress lines instead of the interactive view")
	f.DurationVar(&watchFlags.poll, "poll", defaultWatchPoll, "interval for checking the camera's progress over HTTP")
}

func runWatch(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("camera id %q: %w", args[0], err)
	}
	base := strings.TrimRight(watchFlags.server, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	wsURL, err := eventsURL(base)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Subscribe before starting. follow also polls, for events the stream misses.
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	check := func(ctx context.Context) (web.ProgressView, error) {
		var p web.ProgressView
		err := httpc.GetJSON(ctx, fmt.Sprintf("%s/api/cameras/%d/progress", base, id), &p)
		return p, err
	}

	var runID string
	if watchFlags.start {
		var started struct {
			RunID string `json:"run_id"`
		}
		if err := httpc.PostJSON(ctx, fmt.Sprintf("%s/api/cameras/%d/calibrate", base, id), nil, &started); err != nil {
			return fmt.Errorf("start calibration: %w", err)
		}
		runID = started.RunID
	} else {
		p, err := check(ctx)
		if err != nil {
			return fmt.Errorf("camera %d: %w", id, err)
		}
		if !p.Running {
			fmt.Fprintf(cmd.OutOrStdout(), "camera %d: %s\n", id, p.Message)
			return nil
		}
		runID = p.RunID
	}

	quietLogs(watchFlags.plain)
	var runErr error
	err = display(fmt.Sprintf("camera %d", id), watchFlags.plain, cancel, func(r reporter) {
		runErr = follow(ctx, conn, id, runID, r, check, watchFlags.poll)
	})
	if err != nil {
		return err
	}
	return runErr
}

// progressFunc fetches the dashboard's current view of one camera.
type progressFunc func(ctx context.Context) (web.ProgressView, error)

// follow relays events for one camera run until it ends. The stream may miss
// the terminal event (it can be sent before the subscription is registered,
// or dropped by a full queue), so the camera's progress is also checked when
// following starts and every interval after that. It always calls Finish and
// returns the run's failure, if any.
func follow(ctx context.Context, conn *websocket.Conn, id int, runID string, r reporter, check progressFunc, interval time.Duration) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	done := make(chan struct{})
	defer close(done)

	events := make(chan hub.Event)
	streamErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				streamErr <- err
				return
			}
			e, err := hub.DecodeEvent(data)
			if err != nil || e.CameraID != id {
				continue
			}
			select {
			case events <- e:
			case <-done:
				return
			}
		}
	}()

	if ended, err := settle(ctx, check, r); ended {
		return err
	}

	if interval <= 0 {
		interval = defaultWatchPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("event stream: %w", ctx.Err())
			r.Finish("", err)
			return err

		case err := <-streamErr:
			// Keep polling; a dead dashboard fails the next check.
			log.Warn("event stream closed, polling progress", "error", err)
			streamErr = nil

		case <-ticker.C:
			if ended, err := settle(ctx, check, r); ended {
				return err
			}

		case e := <-events:
			if runID != "" && e.RunID != "" && e.RunID != runID {
				continue
			}
			switch {
			case e.Type == hub.EventProgress:
				r.Update(e.Percent, e.Phase)
			case e.Type == hub.EventRemoved:
				err := fmt.Errorf("camera %d was removed", id)
				r.Finish("", err)
				return err
			case e.Terminal():
				return finish(r, e.Status, e.Message)
			}
		}
	}
}

// settle checks the camera once. It reports true, after calling Finish,
// when the run is over or the check failed.
func settle(ctx context.Context, check progressFunc, r reporter) (bool, error) {
	p, err := check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = fmt.Errorf("check progress: %w", err)
		r.Finish("", err)
		return true, err
	}
	if p.Running {
		if p.Phase != "" {
			r.Update(p.Percent, p.Phase)
		}
		return false, nil
	}
	return true, finish(r, p.Status.String(), p.Message)
}

func finish(r reporter, status, message string) error {
	if status == registry.Failed.String() {
		err := errors.New(message)
		r.Finish(message, err)
		return err
	}
	r.Finish(message, nil)
	return nil
}

// eventsURL maps a dashboard base URL to its websocket endpoint.
func eventsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url %q: unsupported scheme", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	return u.String(), nil
}

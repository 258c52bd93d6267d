// Package dome is the motion controller: it owns the busy flag and the
// pending-action slot, drives the relays through the data register, and
// supervises every motion with the stall and calibration timeouts.
package dome

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/practicalastronomy/koepelx/pkg/config"
	. "github.com/practicalastronomy/koepelx/pkg/logger"
	"github.com/practicalastronomy/koepelx/pkg/portio"
	"github.com/practicalastronomy/koepelx/pkg/telescope"
	"github.com/practicalastronomy/koepelx/pkg/tracker"
)

var (
	ErrBusy             = errors.New("dome is busy")
	ErrStalled          = errors.New("movement timed out without position change")
	ErrCalibrateTimeout = errors.New("calibration timed out")
)

type actionKind int

const (
	actionNone actionKind = iota
	actionGoto
	actionCalibrate
	actionTrack
)

type pendingAction struct {
	kind    actionKind
	degrees float32
}

type direction int

const (
	dirLeft direction = iota
	dirRight
)

// Controller serializes all dome motion. The server calls the admission
// methods (Goto, Calibrate, Track) and the immediate commands (SetLeft,
// SetRight, Stop); Run is the dispatcher that executes queued actions one
// at a time.
type Controller struct {
	store *config.Store
	port  portio.Port
	trk   *tracker.Tracker
	scope telescope.Telescope

	mu      sync.Mutex
	busy    bool
	pending pendingAction
}

func New(store *config.Store, port portio.Port, trk *tracker.Tracker, scope telescope.Telescope) *Controller {
	return &Controller{store: store, port: port, trk: trk, scope: scope}
}

// Busy reports whether a motion action is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Position returns the dome position in pulses.
func (c *Controller) Position() int64 {
	return c.trk.Position()
}

// PositionDegrees returns the dome position in whole degrees, normalized
// to [0, 360).
func (c *Controller) PositionDegrees() int {
	cfg := c.store.Load()
	deg := int(math32.Round(float32(c.trk.Position()) / float32(cfg.PulsesPerDegree)))
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Goto queues an absolute goto. Rejected while any motion is in progress or
// queued.
func (c *Controller) Goto(degrees float32) error {
	return c.admit(pendingAction{kind: actionGoto, degrees: degrees})
}

// Calibrate queues a calibration run toward the zero-index mark.
func (c *Controller) Calibrate() error {
	return c.admit(pendingAction{kind: actionCalibrate})
}

// Track queues a telescope-tracking session.
func (c *Controller) Track() error {
	return c.admit(pendingAction{kind: actionTrack})
}

func (c *Controller) admit(p pendingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || c.pending.kind != actionNone {
		return ErrBusy
	}
	c.pending = p
	return nil
}

// SetLeft starts leftward motion immediately. Unsupervised: the encoder
// keeps counting but no timeout watches manual moves.
func (c *Controller) SetLeft() error {
	return c.engage(dirLeft, false)
}

// SetRight starts rightward motion immediately.
func (c *Controller) SetRight() error {
	return c.engage(dirRight, false)
}

// Stop is the universal cancel: it drops the relays and flips busy off,
// which makes every motion loop exit on its next tick. Always succeeds.
func (c *Controller) Stop() {
	c.clearMove(false)
}

// engage raises busy and pulses the relay for the given direction. Tracking's
// sub-motions pass isTracking to preempt the busy guard they raised
// themselves.
func (c *Controller) engage(dir direction, isTracking bool) error {
	c.mu.Lock()
	if c.busy && !isTracking {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.mu.Unlock()

	cfg := c.store.Load()
	bits := cfg.LeftBit
	if dir == dirRight {
		bits = cfg.RightBit
		Log.Info().Msg("Moving dome to right.")
	} else {
		Log.Info().Msg("Moving dome to left.")
	}
	c.trk.MarkActive()
	return c.pulse(bits, cfg.PulseDuration())
}

// clearMove pulses the stop relay. Tracking's intra-segment stops pass
// keepBusy so the session itself stays admitted.
func (c *Controller) clearMove(keepBusy bool) {
	cfg := c.store.Load()
	Log.Info().Msg("Stop movement of dome.")
	if err := c.pulse(cfg.ClearBit, cfg.PulseDuration()); err != nil {
		Log.Error().Err(err).Msg("Writing stop pattern failed.")
	}
	if !keepBusy {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}
}

// pulse holds a bit pattern on the data register, then releases it.
// Must not be called with the state lock held.
func (c *Controller) pulse(bits byte, hold time.Duration) error {
	if err := c.port.WriteData(bits); err != nil {
		return err
	}
	time.Sleep(hold)
	return c.port.WriteData(0)
}

// Run is the dispatcher: one scheduling loop that executes queued actions
// to completion, one at a time.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.mu.Lock()
		p := c.pending
		c.pending = pendingAction{}
		c.mu.Unlock()

		switch p.kind {
		case actionGoto:
			c.runGoto(p.degrees)
		case actionCalibrate:
			c.runCalibrate()
		case actionTrack:
			c.runTrack()
		}

		time.Sleep(c.store.Load().DispatchPeriod())
	}
}

// normDegrees wraps an angle into [0, 360).
func normDegrees(d float32) float32 {
	d = math32.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// shortestPath picks the motion direction with the smaller angular distance
// to the target azimuth.
func (c *Controller) shortestPath(targetDeg float32) direction {
	cfg := c.store.Load()
	cur := float32(float64(c.trk.Position()) / cfg.PulsesPerDegree)
	if normDegrees(cur-targetDeg) < 180 {
		return dirLeft
	}
	return dirRight
}

// modPulses wraps a pulse delta into [0, rev).
func modPulses(x, rev int64) int64 {
	x %= rev
	if x < 0 {
		x += rev
	}
	return x
}

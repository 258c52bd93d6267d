package dome

import (
	"errors"
	"time"

	. "github.com/practicalastronomy/koepelx/pkg/logger"
)

// runGoto rotates the dome to an absolute azimuth along the shorter arc.
// Position comparisons happen in pulses so no rounding can park the dome a
// fraction of a degree off target.
func (c *Controller) runGoto(degrees float32) {
	cfg := c.store.Load()
	target := cfg.Pulses(degrees)
	rev := cfg.Revolution()
	half := rev / 2

	Log.Info().
		Float64("from", float64(c.trk.Position())/cfg.PulsesPerDegree).
		Float64("to", float64(degrees)).
		Msg("Moving dome.")

	dir := c.shortestPath(degrees)
	if err := c.engage(dir, false); err != nil && !errors.Is(err, ErrBusy) {
		Log.Error().Err(err).Msg("Engaging motor failed.")
		c.clearMove(false)
		return
	}

	oldPos := c.trk.Position()
	stallStart := time.Now()
	for c.Busy() {
		diff := modPulses(c.trk.Position()-target, rev)
		if dir == dirLeft && diff >= half {
			break
		}
		if dir == dirRight && diff < half {
			break
		}

		time.Sleep(cfg.CheckPeriod())

		if time.Since(stallStart) > cfg.MoveDeadline() {
			if oldPos == c.trk.Position() {
				Log.Error().Int64("position", oldPos).Msg("Timeout occurred in moving dome.")
				break
			}
			stallStart = time.Now()
			oldPos = c.trk.Position()
		}
	}

	if c.Busy() {
		c.clearMove(false)
	}
}

// runCalibrate rotates toward the zero-index mark and waits for the tracker
// to see it. Two timers run concurrently: the overall calibration deadline
// and the same stall detector goto uses.
func (c *Controller) runCalibrate() {
	cfg := c.store.Load()

	Log.Info().Msg("Calibrating zero-point of dome.")

	dir := c.shortestPath(cfg.ZeroAngle)
	if err := c.engage(dir, false); err != nil && !errors.Is(err, ErrBusy) {
		Log.Error().Err(err).Msg("Engaging motor failed.")
		c.clearMove(false)
		return
	}
	c.trk.StartCalibration()

	var calErr error
	calStart := time.Now()
	stallStart := time.Now()
	oldPos := c.trk.Position()
	for c.trk.Calibrating() && c.Busy() {
		if time.Since(calStart) > cfg.CalibrateDeadline() {
			Log.Error().
				Float64("position", float64(c.trk.Position())/cfg.PulsesPerDegree).
				Msg("Timeout in calibrating dome.")
			calErr = ErrCalibrateTimeout
			break
		}
		if time.Since(stallStart) > cfg.MoveDeadline() {
			if oldPos == c.trk.Position() {
				Log.Error().Msg("Timeout occurred in moving dome.")
				calErr = ErrStalled
				break
			}
			stallStart = time.Now()
			oldPos = c.trk.Position()
		}
		time.Sleep(cfg.CheckPeriod())
	}

	switch {
	case calErr != nil:
		// The position stays whatever the encoder reports.
		c.clearMove(false)
		c.trk.StopCalibration()
	case c.Busy():
		// Zero index reached: stop, then pin the counter to the reference.
		c.clearMove(false)
		c.trk.SetPosition(cfg.Pulses(cfg.ZeroAngle))
		Log.Info().Msg("Finished calibration.")
	default:
		// STOP arrived before the zero index.
		Log.Info().Msg("Movement cleared before zero point was reached.")
		c.trk.StopCalibration()
	}
}

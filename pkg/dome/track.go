package dome

import (
	"time"

	"github.com/chewxy/math32"

	. "github.com/practicalastronomy/koepelx/pkg/logger"
)

// runTrack keeps the slit aligned with the telescope. The slit center sits at
// currentPos + 180° (the aperture is opposite the mount), so the controller
// watches the wrapped mismatch between (180 + telescopeAz) and the dome
// position and only moves when the beam nears a slit edge. The stop
// thresholds sit asymmetrically around the start thresholds, Schmitt-trigger
// style, so a static target never makes the relays chatter.
func (c *Controller) runTrack() {
	c.mu.Lock()
	c.busy = true
	c.mu.Unlock()

	Log.Info().Msg("Tracking telescope.")

	if err := c.scope.Connect(); err != nil {
		Log.Error().Err(err).Msg("Cannot connect to telescope.")
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		return
	}
	defer c.scope.Close()

	movingLeft := false
	movingRight := false
	var oldPos int64
	var stallStart time.Time

	for c.Busy() {
		cfg := c.store.Load()
		ppd := float32(cfg.PulsesPerDegree)
		rev := 360 * ppd
		opening := cfg.DomeOpeningAngle

		az, err := c.scope.Azimuth()
		if err != nil {
			Log.Error().Err(err).Msg("Connection to telescope lost.")
			c.mu.Lock()
			c.busy = false
			c.mu.Unlock()
			break
		}

		dif := math32.Mod((180+az)*ppd-float32(c.trk.Position()), rev)
		if dif < 0 {
			dif += rev
		}

		if dif < (180-0.5*opening)*ppd && !movingLeft {
			c.clearMove(true)
			if err := c.engage(dirLeft, true); err != nil {
				Log.Error().Err(err).Msg("Engaging motor failed.")
			}
			movingLeft, movingRight = true, false
			stallStart = time.Now()
			oldPos = c.trk.Position()
		}

		if dif > (180+0.5*opening)*ppd && !movingRight {
			c.clearMove(true)
			if err := c.engage(dirRight, true); err != nil {
				Log.Error().Err(err).Msg("Engaging motor failed.")
			}
			movingRight, movingLeft = true, false
			stallStart = time.Now()
			oldPos = c.trk.Position()
		}

		if movingLeft {
			if time.Since(stallStart) > cfg.MoveDeadline() {
				if oldPos == c.trk.Position() {
					Log.Error().Msg("Timeout occurred in moving dome.")
					c.mu.Lock()
					c.busy = false
					c.mu.Unlock()
					break
				}
				stallStart = time.Now()
				oldPos = c.trk.Position()
			}
			if dif > (180-0.55*opening)*ppd {
				Log.Info().Msg("Dome followed telescope.")
				movingLeft, movingRight = false, false
				c.clearMove(true)
			}
		}

		if movingRight {
			if time.Since(stallStart) > cfg.MoveDeadline() {
				if oldPos == c.trk.Position() {
					Log.Error().Msg("Timeout occurred in moving dome.")
					c.mu.Lock()
					c.busy = false
					c.mu.Unlock()
					break
				}
				stallStart = time.Now()
				oldPos = c.trk.Position()
			}
			if dif < (180-0.45*opening)*ppd {
				Log.Info().Msg("Dome followed telescope.")
				movingLeft, movingRight = false, false
				c.clearMove(true)
			}
		}

		if movingLeft || movingRight {
			time.Sleep(cfg.CheckPeriod())
		} else {
			time.Sleep(cfg.TrackPeriod())
		}
	}

	// Never leave a relay engaged when the session ends, whatever ended it.
	if movingLeft || movingRight {
		c.clearMove(false)
	}
}

// Package tracker turns the encoder's quadrature pulses into an absolute
// pulse count, honors the zero-index line, and mirrors the count into the
// position file so the calibration survives restarts.
package tracker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/practicalastronomy/koepelx/pkg/config"
	. "github.com/practicalastronomy/koepelx/pkg/logger"
	"github.com/practicalastronomy/koepelx/pkg/portio"
)

// Tracker samples the status register, decodes channel-A rising edges and
// maintains the shared pulse counter. Only the tracker writes the counter
// during normal operation; the motion controller overwrites it at the end
// of a calibration.
type Tracker struct {
	store *config.Store
	port  portio.Port

	position     int64 // pulses, atomic
	lastWritten  int64 // last value persisted to the position file
	lastActivity int64 // unix nanos of the last observed pulse, atomic
	calibrating  int32 // atomic flag, cleared on zero-index

	prev byte // status snapshot the first sample of Run is compared with

	file *os.File
}

// New opens the position file and restores the pulse counter from it. An
// empty or malformed file initializes the counter to the zero-angle position
// and logs an error, per the recovery policy. New also takes the status
// snapshot, so every edge after New returns is decoded by Run.
func New(store *config.Store, port portio.Port) (*Tracker, error) {
	cfg := store.Load()
	f, err := os.OpenFile(cfg.CurrentPosFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open position file: %w", err)
	}

	t := &Tracker{store: store, port: port, file: f}
	if t.prev, err = port.ReadStatus(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read status register: %w", err)
	}

	data, err := os.ReadFile(cfg.CurrentPosFile)
	content := strings.TrimSpace(string(data))
	switch {
	case err != nil || content == "":
		t.position = cfg.Pulses(cfg.ZeroAngle)
		Log.Error().Float64("zeroAngle", float64(cfg.ZeroAngle)).
			Msg("Empty positioning-file. Current position defined as zeroAngle.")
	default:
		pos, perr := strconv.ParseInt(content, 10, 64)
		if perr != nil {
			t.position = cfg.Pulses(cfg.ZeroAngle)
			Log.Error().Str("content", content).Float64("zeroAngle", float64(cfg.ZeroAngle)).
				Msg("Invalid positioning-file. Current position defined as zeroAngle.")
			if werr := t.persist(); werr != nil {
				f.Close()
				return nil, werr
			}
		} else {
			t.position = pos
			t.lastWritten = pos
		}
	}
	return t, nil
}

// Position returns the current pulse count.
func (t *Tracker) Position() int64 {
	return atomic.LoadInt64(&t.position)
}

// SetPosition overwrites the pulse count. Used by the motion controller when
// a calibration completes.
func (t *Tracker) SetPosition(pulses int64) {
	atomic.StoreInt64(&t.position, pulses)
}

// MarkActive forces the tracker into its fast polling rate, so the first
// pulses of a fresh movement are not sampled at the passive rate.
func (t *Tracker) MarkActive() {
	atomic.StoreInt64(&t.lastActivity, time.Now().UnixNano())
}

// StartCalibration raises the calibrating flag. The next zero-index crossing
// clears it; that crossing is the only legitimate terminator.
func (t *Tracker) StartCalibration() {
	atomic.StoreInt32(&t.calibrating, 1)
}

// StopCalibration lowers the flag without a zero-index crossing (timeouts,
// STOP).
func (t *Tracker) StopCalibration() {
	atomic.StoreInt32(&t.calibrating, 0)
}

// Calibrating reports whether a calibration is waiting for the zero index.
func (t *Tracker) Calibrating() bool {
	return atomic.LoadInt32(&t.calibrating) == 1
}

// Run is the tracker loop. It returns when ctx is canceled or on a port
// failure; a port failure is fatal for the daemon.
func (t *Tracker) Run(ctx context.Context) error {
	prev := t.prev

	for {
		select {
		case <-ctx.Done():
			return t.shutdown()
		default:
		}

		cfg := t.store.Load()
		st, err := t.port.ReadStatus()
		if err != nil {
			return t.fail(err)
		}

		if st&cfg.BitA != 0 && prev&cfg.BitA == 0 {
			// Rising edge on channel A; channel B encodes direction.
			delta := int64(-1)
			if st&cfg.BitB != 0 {
				delta = 1
			}
			if cfg.InvDirection {
				delta = -delta
			}
			atomic.AddInt64(&t.position, delta)
			atomic.StoreInt64(&t.lastActivity, time.Now().UnixNano())
		}
		prev = st

		if st&cfg.ZeroBit == 0 {
			// Zero index is active low.
			atomic.CompareAndSwapInt32(&t.calibrating, 1, 0)
		}

		last := atomic.LoadInt64(&t.lastActivity)
		if time.Since(time.Unix(0, last)) < cfg.ActiveWindow() {
			time.Sleep(cfg.ActiveSleep())
		} else {
			if err := t.persistIfDirty(); err != nil {
				Log.Error().Err(err).Msg("Writing position file failed.")
			}
			time.Sleep(cfg.PassiveSleep())
		}
	}
}

func (t *Tracker) persistIfDirty() error {
	pos := atomic.LoadInt64(&t.position)
	if pos == atomic.LoadInt64(&t.lastWritten) {
		return nil
	}
	return t.persist()
}

func (t *Tracker) persist() error {
	pos := atomic.LoadInt64(&t.position)
	if err := t.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate position file: %w", err)
	}
	if _, err := t.file.WriteAt([]byte(strconv.FormatInt(pos, 10)), 0); err != nil {
		return fmt.Errorf("write position file: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync position file: %w", err)
	}
	atomic.StoreInt64(&t.lastWritten, pos)
	return nil
}

// fail persists what it can, closes the file and reports the port error.
func (t *Tracker) fail(err error) error {
	if werr := t.persist(); werr != nil {
		Log.Error().Err(werr).Msg("Final position write failed.")
	}
	t.file.Close()
	Log.Error().Err(err).Msg("Error in reading port, position tracker stopped.")
	return fmt.Errorf("tracker: %w", err)
}

// shutdown is the clean-exit path: flush the position and close the file.
func (t *Tracker) shutdown() error {
	err := t.persist()
	if cerr := t.file.Close(); err == nil {
		err = cerr
	}
	return err
}

package dome

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicalastronomy/koepelx/pkg/config"
	"github.com/practicalastronomy/koepelx/pkg/portio"
	"github.com/practicalastronomy/koepelx/pkg/telescope"
	"github.com/practicalastronomy/koepelx/pkg/tracker"
)

const statusIdle = byte(0x10) // zero index high, encoder quiet

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PulsesPerDegree:  100,
		ZeroAngle:        0,
		DomeOpeningAngle: 10,
		PulseTime:        0.001,
		ActiveTime:       0.01,
		SleepTimeAct:     0.0001,
		SleepTimePas:     0.0005,
		CheckInterval:    0.001,
		TrackInterval:    0.002,
		MoveTimeout:      0.1,
		CalibrateTimeout: 0.5,
		CheckNextAction:  0.001,
		CurrentPosFile:   filepath.Join(t.TempDir(), "currentpos"),
		ServerPort:       65000,
		BufferSize:       1024,
		MaxConnections:   5,
		MaxQueueSize:     8,
		ClientThreads:    2,
		BitA:             0x40,
		BitB:             0x20,
		ZeroBit:          0x10,
		LeftBit:          0x01,
		RightBit:         0x02,
		ClearBit:         0x04,
	}
}

type rig struct {
	ctrl  *Controller
	trk   *tracker.Tracker
	play  *portio.Playback
	scope *telescope.Fake
	cfg   *config.Config
}

// newRig builds a controller over a playback port and a fake telescope,
// with the dispatcher running. The tracker loop is not started; tests move
// the dome by setting the pulse counter directly.
func newRig(t *testing.T, startPulses int64) *rig {
	t.Helper()
	cfg := testConfig(t)
	store := config.NewStore(cfg)
	play := portio.NewPlayback(statusIdle)

	trk, err := tracker.New(store, play)
	require.NoError(t, err)
	trk.SetPosition(startPulses)

	scope := &telescope.Fake{}
	ctrl := New(store, play, trk, scope)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &rig{ctrl: ctrl, trk: trk, play: play, scope: scope, cfg: cfg}
}

// moveBy steps the pulse counter once the relays engage, simulating the
// dome actually rotating.
func (r *rig) moveBy(t *testing.T, step int64, until func(int64) bool) {
	t.Helper()
	go func() {
		for !r.ctrl.Busy() {
			time.Sleep(time.Millisecond)
		}
		for pos := r.trk.Position(); !until(pos); pos = r.trk.Position() {
			r.trk.SetPosition(pos + step)
			time.Sleep(time.Millisecond)
		}
	}()
}

func hasWrite(writes []byte, b byte) bool {
	for _, w := range writes {
		if w == b {
			return true
		}
	}
	return false
}

func TestShortestPath(t *testing.T) {
	r := newRig(t, 0)

	tests := []struct {
		pos    int64
		target float32
		want   direction
	}{
		{35000, 10, dirRight}, // 350 -> 10 is 20 clockwise
		{1000, 350, dirLeft},  // 10 -> 350 is 20 counter-clockwise
		{9000, 0, dirLeft},    // 90 -> 0
		{0, 90, dirRight},     // 0 -> 90
		{0, 180, dirRight},    // boundary: 180 away goes right
	}
	for _, tt := range tests {
		r.trk.SetPosition(tt.pos)
		assert.Equal(t, tt.want, r.ctrl.shortestPath(tt.target), "pos %d target %g", tt.pos, tt.target)
	}
}

func TestModPulses(t *testing.T) {
	assert.EqualValues(t, 500, modPulses(9000-8500, 36000))
	assert.EqualValues(t, 35900, modPulses(8400-8500, 36000))
	assert.EqualValues(t, 0, modPulses(36000, 36000))
	assert.EqualValues(t, 27000, modPulses(-9000, 36000))
}

func TestGotoMovesRightToTarget(t *testing.T) {
	r := newRig(t, 0)

	require.NoError(t, r.ctrl.Goto(90))
	r.moveBy(t, 500, func(pos int64) bool { return pos >= 9000 })

	require.Eventually(t, func() bool {
		return !r.ctrl.Busy() && r.trk.Position() == 9000
	}, 5*time.Second, time.Millisecond)

	writes := r.play.DataWrites()
	assert.True(t, hasWrite(writes, r.cfg.RightBit), "right relay engaged")
	assert.False(t, hasWrite(writes, r.cfg.LeftBit), "left relay never engaged")
	assert.True(t, hasWrite(writes, r.cfg.ClearBit), "stop pattern issued on arrival")
}

func TestGotoMovesLeftToTarget(t *testing.T) {
	r := newRig(t, 9000)

	require.NoError(t, r.ctrl.Goto(85))
	r.moveBy(t, -100, func(pos int64) bool { return pos < 8500 })

	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 5*time.Second, time.Millisecond)

	assert.LessOrEqual(t, r.trk.Position(), int64(8500))
	assert.Greater(t, r.trk.Position(), int64(8300), "stops right after crossing the target")
	writes := r.play.DataWrites()
	assert.True(t, hasWrite(writes, r.cfg.LeftBit))
	assert.False(t, hasWrite(writes, r.cfg.RightBit))
}

func TestAdmissionExclusion(t *testing.T) {
	r := newRig(t, 0)

	require.NoError(t, r.ctrl.SetLeft())
	require.True(t, r.ctrl.Busy())

	assert.ErrorIs(t, r.ctrl.Goto(10), ErrBusy)
	assert.ErrorIs(t, r.ctrl.Calibrate(), ErrBusy)
	assert.ErrorIs(t, r.ctrl.Track(), ErrBusy)
	assert.ErrorIs(t, r.ctrl.SetRight(), ErrBusy)

	r.ctrl.Stop()
	assert.False(t, r.ctrl.Busy())
}

func TestPendingSlotIsExclusive(t *testing.T) {
	r := newRig(t, 0)

	// Stall the dispatcher inside an action: the dispatched goto keeps busy
	// for at least moveTimeout (nothing moves), so admission refuses the next.
	require.NoError(t, r.ctrl.Goto(90))
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, r.ctrl.Goto(10), ErrBusy)
}

func TestGotoStallAborts(t *testing.T) {
	r := newRig(t, 0)

	require.NoError(t, r.ctrl.Goto(90))
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)

	// No pulses arrive; the stall detector must clear the motion.
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 5*time.Second, time.Millisecond)
	assert.EqualValues(t, 0, r.trk.Position())
	assert.True(t, hasWrite(r.play.DataWrites(), r.cfg.ClearBit))
}

func TestStopInterruptsGoto(t *testing.T) {
	r := newRig(t, 0)

	require.NoError(t, r.ctrl.Goto(90))
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)

	r.ctrl.Stop()
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 0, r.trk.Position(), "dome did not move")
}

func TestCalibrateSetsZeroOnIndex(t *testing.T) {
	r := newRig(t, 9000)

	// The tracker loop must run so the zero-index line can clear the flag.
	tctx, tcancel := context.WithCancel(context.Background())
	tdone := make(chan struct{})
	go func() {
		r.trk.Run(tctx)
		close(tdone)
	}()
	t.Cleanup(func() {
		tcancel()
		<-tdone
	})

	require.NoError(t, r.ctrl.Calibrate())
	require.Eventually(t, func() bool { return r.trk.Calibrating() }, 2*time.Second, time.Millisecond)

	// Zero-index pulse: active low.
	r.play.SetStatus(0x00)

	require.Eventually(t, func() bool {
		return !r.ctrl.Busy() && !r.trk.Calibrating()
	}, 5*time.Second, time.Millisecond)
	assert.EqualValues(t, 0, r.trk.Position(), "position pinned to zeroAngle")
	assert.True(t, hasWrite(r.play.DataWrites(), r.cfg.LeftBit), "90 degrees is closer going left")
}

func TestCalibrateTimesOut(t *testing.T) {
	r := newRig(t, 9000)
	// Keep the stall detector quiet so the global deadline is what fires.
	r.cfg.MoveTimeout = 10

	require.NoError(t, r.ctrl.Calibrate())
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 5*time.Second, time.Millisecond)
	assert.False(t, r.trk.Calibrating())
	assert.EqualValues(t, 9000, r.trk.Position(), "position stays whatever the encoder reports")
}

func TestTrackStableOnCenteredTarget(t *testing.T) {
	// Slit center is pos+180: at 3000 pulses (30 deg) with the telescope at
	// 30 deg the wrapped mismatch is exactly 180 deg worth of pulses.
	r := newRig(t, 3000)
	r.scope.SetAzimuth(30)

	require.NoError(t, r.ctrl.Track())
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)

	// Oscillate within ±0.04 of the opening angle around the center.
	for i := 0; i < 10; i++ {
		r.scope.SetAzimuth(30.4)
		time.Sleep(5 * time.Millisecond)
		r.scope.SetAzimuth(29.6)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Empty(t, r.play.DataWrites(), "no relay activity inside the hysteresis band")
	assert.True(t, r.ctrl.Busy(), "tracking session stays admitted")

	r.ctrl.Stop()
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
}

func TestTrackFollowsTelescope(t *testing.T) {
	// Telescope at 30 deg, dome at 200 deg: mismatch 10 deg worth of
	// pulses, far below the left band edge, so the dome moves left.
	r := newRig(t, 20000)
	r.scope.SetAzimuth(30)

	require.NoError(t, r.ctrl.Track())
	require.Eventually(t, func() bool {
		return hasWrite(r.play.DataWrites(), r.cfg.LeftBit)
	}, 2*time.Second, time.Millisecond)

	// Rotate left until the beam reaches the slit edge band.
	go func() {
		for pos := r.trk.Position(); pos > 3500; pos = r.trk.Position() {
			r.trk.SetPosition(pos - 500)
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool {
		return r.trk.Position() <= 3500 && hasWrite(r.play.DataWrites(), r.cfg.ClearBit)
	}, 5*time.Second, time.Millisecond)
	assert.True(t, r.ctrl.Busy(), "intra-segment stop keeps the session busy")

	r.ctrl.Stop()
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
}

func TestTrackEndsOnTelescopeLoss(t *testing.T) {
	r := newRig(t, 3000)
	r.scope.SetAzimuth(30)

	require.NoError(t, r.ctrl.Track())
	require.Eventually(t, func() bool { return r.ctrl.Busy() }, 2*time.Second, time.Millisecond)

	r.scope.FailWith(errors.New("connection reset"))
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
}

func TestTrackRejectedWhenConnectFails(t *testing.T) {
	r := newRig(t, 3000)
	r.scope.RefuseConnect(errors.New("no route"))

	require.NoError(t, r.ctrl.Track(), "admission succeeds; the session fails at connect")
	require.Eventually(t, func() bool { return !r.ctrl.Busy() }, 2*time.Second, time.Millisecond)
}

func TestPositionDegrees(t *testing.T) {
	r := newRig(t, 18000)
	assert.Equal(t, 180, r.ctrl.PositionDegrees())

	r.trk.SetPosition(-9000)
	assert.Equal(t, 270, r.ctrl.PositionDegrees())

	r.trk.SetPosition(45000)
	assert.Equal(t, 90, r.ctrl.PositionDegrees())
}

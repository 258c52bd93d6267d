package portio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackScript(t *testing.T) {
	p := NewPlayback(0x10)

	st, err := p.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), st)

	p.Feed(0x70, 0x30, 0x70)
	want := []byte{0x70, 0x30, 0x70}
	for _, w := range want {
		st, err = p.ReadStatus()
		require.NoError(t, err)
		assert.Equal(t, w, st)
	}

	// Script exhausted: the last byte sticks.
	st, err = p.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, byte(0x70), st)
	assert.Equal(t, 0, p.Remaining())
}

func TestPlaybackRecordsWrites(t *testing.T) {
	p := NewPlayback(0)

	require.NoError(t, p.WriteControl(12))
	require.NoError(t, p.WriteData(0x01))
	require.NoError(t, p.WriteData(0x00))

	assert.Equal(t, []byte{12}, p.ControlWrites())
	assert.Equal(t, []byte{0x01, 0x00}, p.DataWrites())
}

func TestPlaybackOnDataHook(t *testing.T) {
	p := NewPlayback(0)
	var seen []byte
	p.OnData(func(b byte) { seen = append(seen, b) })

	require.NoError(t, p.WriteData(0x02))
	require.NoError(t, p.WriteData(0x00))
	assert.Equal(t, []byte{0x02, 0x00}, seen)
}

func TestPlaybackFail(t *testing.T) {
	p := NewPlayback(0)
	boom := errors.New("boom")
	p.Fail(boom)

	_, err := p.ReadStatus()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, p.WriteData(1), boom)
}

func TestPlaybackClosed(t *testing.T) {
	p := NewPlayback(0)
	require.NoError(t, p.Close())

	_, err := p.ReadStatus()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.WriteData(0), ErrClosed)
}

// Package telescope provides the capability the dome needs from the mount:
// the current azimuth. Backends exist for the observatory's TCP information
// service and for LX200-compatible mounts on a serial line.
package telescope

import (
	"errors"
	"sync"
)

var (
	ErrNotConnected = errors.New("telescope not connected")
	ErrBadResponse  = errors.New("malformed telescope response")
)

// Telescope is the narrow mount interface consumed during tracking. Any
// error from Azimuth means the connection is lost and the tracking session
// ends.
type Telescope interface {
	Connect() error
	// Azimuth returns the current telescope azimuth in degrees,
	// 0 = North, increasing East.
	Azimuth() (float32, error)
	Close() error
}

// Fake is a settable Telescope for tests and dry runs.
type Fake struct {
	mu sync.Mutex
	az float32

	connectErr error
	azErr      error
}

func (f *Fake) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *Fake) Azimuth() (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.azErr != nil {
		return 0, f.azErr
	}
	return f.az, nil
}

func (f *Fake) Close() error { return nil }

// SetAzimuth moves the simulated mount.
func (f *Fake) SetAzimuth(az float32) {
	f.mu.Lock()
	f.az = az
	f.mu.Unlock()
}

// FailWith makes subsequent Azimuth calls return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	f.azErr = err
	f.mu.Unlock()
}

// RefuseConnect makes Connect return err.
func (f *Fake) RefuseConnect(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

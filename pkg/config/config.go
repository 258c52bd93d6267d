// Package config holds the daemon configuration. The file is YAML, read once
// at startup and re-read on the UPDATECONFIG command; a reload that fails
// validation leaves the running configuration untouched.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// GPIO names the header lines used when the dome hardware is wired to a
// Raspberry Pi instead of a parallel port.
type GPIO struct {
	PinA     string `yaml:"pinA"`
	PinB     string `yaml:"pinB"`
	PinZero  string `yaml:"pinZero"`
	PinLeft  string `yaml:"pinLeft"`
	PinRight string `yaml:"pinRight"`
	PinClear string `yaml:"pinClear"`
}

// Telescope selects the backend used to obtain the telescope azimuth.
type Telescope struct {
	Driver     string `yaml:"driver"` // "tcp" or "lx200"
	Addr       string `yaml:"addr"`
	SerialPort string `yaml:"serialPort"`
	BaudRate   int    `yaml:"baudRate"`
}

type Config struct {
	// Encoder geometry.
	PulsesPerDegree  float64 `yaml:"pulsesPerDegree"`
	ZeroAngle        float32 `yaml:"zeroAngle"`
	InvDirection     bool    `yaml:"invDirection"`
	DomeOpeningAngle float32 `yaml:"domeOpeningAngle"`

	// Timing, in seconds.
	PulseTime        float64 `yaml:"pulseTime"`
	ActiveTime       float64 `yaml:"activeTime"`
	SleepTimeAct     float64 `yaml:"sleepTimeAct"`
	SleepTimePas     float64 `yaml:"sleepTimePas"`
	CheckInterval    float64 `yaml:"checkInterval"`
	TrackInterval    float64 `yaml:"trackInterval"`
	MoveTimeout      float64 `yaml:"moveTimeout"`
	CalibrateTimeout float64 `yaml:"calibrateTimeOut"`
	CheckNextAction  float64 `yaml:"checkNextAction"`

	// Files.
	CurrentPosFile string `yaml:"currentPosFile"`
	Logfile        string `yaml:"logfile"`

	// Server.
	ServerPort     int `yaml:"serverPort"`
	BufferSize     int `yaml:"bufferSize"`
	MaxConnections int `yaml:"maxConnections"`
	MaxQueueSize   int `yaml:"maxQueueSize"`
	ClientThreads  int `yaml:"clientThreads"`

	// Port registers and bit assignments.
	PortDriver string `yaml:"portDriver"` // "devport" or "gpio"
	DataReg    uint16 `yaml:"dataReg"`
	CtrlReg    uint16 `yaml:"ctrlReg"`
	StatusReg  uint16 `yaml:"statusReg"`
	BitA       byte   `yaml:"bitA"`
	BitB       byte   `yaml:"bitB"`
	ZeroBit    byte   `yaml:"zeroBit"`
	LeftBit    byte   `yaml:"leftBit"`
	RightBit   byte   `yaml:"rightBit"`
	ClearBit   byte   `yaml:"clearBit"`

	GPIO      GPIO      `yaml:"gpio"`
	Telescope Telescope `yaml:"telescope"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.PulsesPerDegree <= 0:
		return fmt.Errorf("%w: pulsesPerDegree must be positive", ErrInvalid)
	case c.DomeOpeningAngle <= 0 || c.DomeOpeningAngle >= 360:
		return fmt.Errorf("%w: domeOpeningAngle out of range", ErrInvalid)
	case c.PulseTime <= 0:
		return fmt.Errorf("%w: pulseTime must be positive", ErrInvalid)
	case c.SleepTimeAct <= 0 || c.SleepTimePas <= 0:
		return fmt.Errorf("%w: sleep times must be positive", ErrInvalid)
	case c.CheckInterval <= 0 || c.TrackInterval <= 0 || c.CheckNextAction <= 0:
		return fmt.Errorf("%w: supervisory intervals must be positive", ErrInvalid)
	case c.MoveTimeout <= 0 || c.CalibrateTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	case c.CurrentPosFile == "":
		return fmt.Errorf("%w: currentPosFile is required", ErrInvalid)
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return fmt.Errorf("%w: serverPort out of range", ErrInvalid)
	case c.BufferSize <= 0 || c.MaxQueueSize <= 0 || c.ClientThreads <= 0 || c.MaxConnections <= 0:
		return fmt.Errorf("%w: server limits must be positive", ErrInvalid)
	case c.BitA == 0 || c.BitB == 0 || c.ZeroBit == 0:
		return fmt.Errorf("%w: status bit masks are required", ErrInvalid)
	case c.LeftBit == 0 || c.RightBit == 0 || c.ClearBit == 0:
		return fmt.Errorf("%w: data bit patterns are required", ErrInvalid)
	}
	if c.PortDriver == "" {
		c.PortDriver = "devport"
	}
	return nil
}

// Pulses converts degrees to whole encoder pulses.
func (c *Config) Pulses(degrees float32) int64 {
	return int64(math.Round(float64(degrees) * c.PulsesPerDegree))
}

// Revolution is a full turn of the dome, in pulses.
func (c *Config) Revolution() int64 {
	return int64(math.Round(360 * c.PulsesPerDegree))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) PulseDuration() time.Duration     { return seconds(c.PulseTime) }
func (c *Config) ActiveWindow() time.Duration      { return seconds(c.ActiveTime) }
func (c *Config) ActiveSleep() time.Duration       { return seconds(c.SleepTimeAct) }
func (c *Config) PassiveSleep() time.Duration      { return seconds(c.SleepTimePas) }
func (c *Config) CheckPeriod() time.Duration       { return seconds(c.CheckInterval) }
func (c *Config) TrackPeriod() time.Duration       { return seconds(c.TrackInterval) }
func (c *Config) MoveDeadline() time.Duration      { return seconds(c.MoveTimeout) }
func (c *Config) CalibrateDeadline() time.Duration { return seconds(c.CalibrateTimeout) }
func (c *Config) DispatchPeriod() time.Duration    { return seconds(c.CheckNextAction) }

// Store is a shared configuration snapshot. Readers get the current snapshot
// with Load; UPDATECONFIG swaps in a fresh validated one with Swap.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Load() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) Swap(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

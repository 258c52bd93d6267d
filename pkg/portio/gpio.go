package portio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOConfig maps the six dome signals onto named header lines and ties each
// line to the register bit the rest of the daemon expects. Masks must match
// the bitA/bitB/zeroBit/leftBit/rightBit/clearBit configuration.
type GPIOConfig struct {
	PinA, PinB, PinZero         string
	PinLeft, PinRight, PinClear string

	MaskA, MaskB, MaskZero         byte
	MaskLeft, MaskRight, MaskClear byte
}

// GPIOPort synthesizes the status byte from three input lines and decomposes
// data writes onto three relay lines. It lets the daemon run unchanged on a
// Raspberry Pi header instead of a parallel port.
type GPIOPort struct {
	a, b, zero         gpio.PinIn
	left, right, clear gpio.PinOut

	cfg GPIOConfig
}

// OpenGPIO initializes the host and claims the configured lines.
func OpenGPIO(cfg GPIOConfig) (*GPIOPort, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	in := func(name string) (gpio.PinIn, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("no such pin %q", name)
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("pin %q as input: %w", name, err)
		}
		return pin, nil
	}
	out := func(name string) (gpio.PinOut, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("no such pin %q", name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("pin %q as output: %w", name, err)
		}
		return pin, nil
	}

	p := &GPIOPort{cfg: cfg}
	var err error
	if p.a, err = in(cfg.PinA); err != nil {
		return nil, err
	}
	if p.b, err = in(cfg.PinB); err != nil {
		return nil, err
	}
	if p.zero, err = in(cfg.PinZero); err != nil {
		return nil, err
	}
	if p.left, err = out(cfg.PinLeft); err != nil {
		return nil, err
	}
	if p.right, err = out(cfg.PinRight); err != nil {
		return nil, err
	}
	if p.clear, err = out(cfg.PinClear); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *GPIOPort) ReadStatus() (byte, error) {
	var st byte
	if p.a.Read() == gpio.High {
		st |= p.cfg.MaskA
	}
	if p.b.Read() == gpio.High {
		st |= p.cfg.MaskB
	}
	if p.zero.Read() == gpio.High {
		st |= p.cfg.MaskZero
	}
	return st, nil
}

func (p *GPIOPort) WriteData(b byte) error {
	if err := p.left.Out(gpio.Level(b&p.cfg.MaskLeft != 0)); err != nil {
		return fmt.Errorf("left relay: %w", err)
	}
	if err := p.right.Out(gpio.Level(b&p.cfg.MaskRight != 0)); err != nil {
		return fmt.Errorf("right relay: %w", err)
	}
	if err := p.clear.Out(gpio.Level(b&p.cfg.MaskClear != 0)); err != nil {
		return fmt.Errorf("clear relay: %w", err)
	}
	return nil
}

// WriteControl is a no-op: GPIO line direction is fixed at open time.
func (p *GPIOPort) WriteControl(byte) error { return nil }

func (p *GPIOPort) Close() error {
	// Drop the relays; the lines themselves are not released.
	return p.WriteData(0)
}

//go:build linux

package portio

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// DevPort accesses the port registers through /dev/port, where the byte at
// offset N is I/O port N. Requires CAP_SYS_RAWIO.
type DevPort struct {
	mu        sync.Mutex
	fd        int
	dataReg   uint16
	ctrlReg   uint16
	statusReg uint16
	closed    bool
}

// OpenDevPort opens /dev/port for the given register addresses.
func OpenDevPort(dataReg, ctrlReg, statusReg uint16) (*DevPort, error) {
	fd, err := unix.Open("/dev/port", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/port: %w", err)
	}
	return &DevPort{
		fd:        fd,
		dataReg:   dataReg,
		ctrlReg:   ctrlReg,
		statusReg: statusReg,
	}, nil
}

func (p *DevPort) ReadStatus() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	var buf [1]byte
	if _, err := unix.Pread(p.fd, buf[:], int64(p.statusReg)); err != nil {
		return 0, fmt.Errorf("read status register %#x: %w", p.statusReg, err)
	}
	return buf[0], nil
}

func (p *DevPort) WriteData(b byte) error {
	return p.write(p.dataReg, b)
}

func (p *DevPort) WriteControl(b byte) error {
	return p.write(p.ctrlReg, b)
}

func (p *DevPort) write(reg uint16, b byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, err := unix.Pwrite(p.fd, []byte{b}, int64(reg)); err != nil {
		return fmt.Errorf("write register %#x: %w", reg, err)
	}
	return nil
}

func (p *DevPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}

package telescope

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// LX200 reads the mount azimuth over a serial line using the Meade LX200
// command set. The session is held open for the life of the tracking run.
type LX200 struct {
	device string
	baud   int
	port   io.ReadWriteCloser
}

func NewLX200(device string, baud int) *LX200 {
	if baud == 0 {
		baud = 9600
	}
	return &LX200{device: device, baud: baud}
}

func (l *LX200) Connect() error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        l.device,
		Baud:        l.baud,
		ReadTimeout: 2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	l.port = port
	return nil
}

func (l *LX200) Azimuth() (float32, error) {
	if l.port == nil {
		return 0, ErrNotConnected
	}
	if _, err := l.port.Write([]byte(":GZ#")); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	// Response is DDD*MM# or DDD*MM'SS#, terminated by '#'.
	var resp []byte
	buf := make([]byte, 1)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		if n == 0 {
			return 0, fmt.Errorf("%w: timeout", ErrNotConnected)
		}
		if buf[0] == '#' {
			break
		}
		resp = append(resp, buf[0])
		if len(resp) > 16 {
			return 0, fmt.Errorf("%w: %q", ErrBadResponse, resp)
		}
	}
	return parseDMS(string(resp))
}

// parseDMS converts an LX200 angle ("DDD*MM" or "DDD*MM'SS") to degrees.
func parseDMS(s string) (float32, error) {
	s = strings.ReplaceAll(s, "\xdf", "*") // some firmware sends ß for the degree sign
	degStr, rest, ok := strings.Cut(s, "*")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, s)
	}
	deg, err := strconv.Atoi(degStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, s)
	}
	minStr, secStr, hasSec := strings.Cut(rest, "'")
	min, err := strconv.Atoi(minStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, s)
	}
	sec := 0
	if hasSec {
		if sec, err = strconv.Atoi(secStr); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadResponse, s)
		}
	}
	return float32(deg) + float32(min)/60 + float32(sec)/3600, nil
}

func (l *LX200) Close() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

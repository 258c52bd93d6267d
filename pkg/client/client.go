// Package client speaks the dome's TCP protocol: one command per
// connection, a two-line response, then close. It exists for tooling and
// scripted observing runs; the daemon itself never imports it.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"
)

const dialTimeout = 5 * time.Second

// Client talks to one dome daemon.
type Client struct {
	addr string
}

func New(addr string) *Client {
	return &Client{addr: addr}
}

// Send issues a raw command and returns the decoded two-line response.
func (c *Client) Send(command string) (code int64, message string, err error) {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return 0, "", fmt.Errorf("dial dome: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(dialTimeout))

	if _, err := fmt.Fprint(conn, command); err != nil {
		return 0, "", fmt.Errorf("send command: %w", err)
	}

	r := bufio.NewReader(conn)
	codeLine, err := r.ReadString('\n')
	if err != nil {
		return 0, "", fmt.Errorf("read response code: %w", err)
	}
	msgLine, err := r.ReadString('\n')
	if err != nil {
		return 0, "", fmt.Errorf("read response message: %w", err)
	}

	code, err = strconv.ParseInt(strings.TrimSpace(codeLine), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed response code %q", strings.TrimSpace(codeLine))
	}
	return code, strings.TrimSpace(msgLine), nil
}

// Position returns the dome azimuth in degrees, normalized to [0, 360).
func (c *Client) Position() (float32, error) {
	code, _, err := c.Send("POSITION")
	if err != nil {
		return 0, err
	}
	deg := math32.Mod(float32(code), 360)
	if deg < 0 {
		deg += 360
	}
	return deg, nil
}

// PulsePosition returns the raw encoder pulse count.
func (c *Client) PulsePosition() (int64, error) {
	code, _, err := c.Send("PULSEPOSITION")
	return code, err
}

// Busy reports whether the dome is executing a motion action.
func (c *Client) Busy() (bool, error) {
	code, _, err := c.Send("DOMEBUSY")
	return code == 1, err
}

// Goto rotates the dome to an absolute azimuth.
func (c *Client) Goto(degrees float32) error {
	return c.expectOK(fmt.Sprintf("GOTO %g", degrees))
}

// GotoRelative rotates the dome by a signed offset from its current azimuth.
func (c *Client) GotoRelative(degrees float32) error {
	return c.expectOK(fmt.Sprintf("GOTO %+g", degrees))
}

// Calibrate starts a calibration run.
func (c *Client) Calibrate() error { return c.expectOK("CALIBRATE") }

// Track starts a telescope-tracking session.
func (c *Client) Track() error { return c.expectOK("TRACK") }

// Stop halts any motion. Always accepted by the daemon.
func (c *Client) Stop() error { return c.expectOK("STOP") }

func (c *Client) expectOK(command string) error {
	code, message, err := c.Send(command)
	if err != nil {
		return err
	}
	if code != 1 {
		return fmt.Errorf("dome refused %q: %s", command, message)
	}
	return nil
}

package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/practicalastronomy/koepelx/pkg/config"
	"github.com/practicalastronomy/koepelx/pkg/dome"
	. "github.com/practicalastronomy/koepelx/pkg/logger"
)

// The protocol verbs form a closed set; anything else answers
// "Command doesn't exist".
type verb int

const (
	verbUnknown verb = iota
	verbPosition
	verbPulsePosition
	verbDomeBusy
	verbGoto
	verbCalibrate
	verbLeft
	verbRight
	verbStop
	verbUpdateConfig
	verbTrack
)

var verbs = map[string]verb{
	"POSITION":      verbPosition,
	"PULSEPOSITION": verbPulsePosition,
	"DOMEBUSY":      verbDomeBusy,
	"GOTO":          verbGoto,
	"CALIBRATE":     verbCalibrate,
	"LEFT":          verbLeft,
	"RIGHT":         verbRight,
	"STOP":          verbStop,
	"UPDATECONFIG":  verbUpdateConfig,
	"TRACK":         verbTrack,
}

type request struct {
	verb verb
	args []string
}

// parseRequest tokenizes a raw command line. The verb is case-insensitive;
// arguments keep their spelling.
func parseRequest(raw string) request {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return request{verb: verbUnknown}
	}
	v, ok := verbs[strings.ToUpper(tokens[0])]
	if !ok {
		v = verbUnknown
	}
	return request{verb: v, args: tokens[1:]}
}

// response is the two-line protocol answer: a numeric code line and a
// human-readable message line.
type response struct {
	code    int64
	message string
}

func (r response) String() string {
	return fmt.Sprintf("%d\n%s\n", r.code, r.message)
}

func boolCode(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (s *Server) execute(req request) response {
	switch req.verb {
	case verbPosition:
		deg := s.dome.PositionDegrees()
		return response{int64(deg), fmt.Sprintf("The current position is %d", deg)}

	case verbPulsePosition:
		pulses := s.dome.Position()
		return response{pulses, fmt.Sprintf("The current position in pulses is %d", pulses)}

	case verbDomeBusy:
		busy := s.dome.Busy()
		return response{boolCode(busy), strconv.FormatBool(busy)}

	case verbGoto:
		if len(req.args) == 0 {
			return response{0, "Invalid degree number: "}
		}
		return s.executeGoto(req.args[0])

	case verbCalibrate:
		if err := s.dome.Calibrate(); err != nil {
			return response{0, "Dome is busy"}
		}
		return response{1, "Calibrating dome."}

	case verbLeft:
		if err := s.dome.SetLeft(); err != nil {
			return response{0, "Dome is busy"}
		}
		return response{1, "Moving dome to left."}

	case verbRight:
		if err := s.dome.SetRight(); err != nil {
			return response{0, "Dome is busy"}
		}
		return response{1, "Moving dome to right."}

	case verbStop:
		s.dome.Stop()
		return response{1, "Movement cleared."}

	case verbUpdateConfig:
		if err := s.reloadConfig(); err != nil {
			Log.Error().Err(err).Msg("Error in reading config file.")
			return response{0, "Error in reading config file"}
		}
		Log.Info().Msg("Config file read.")
		return response{1, "Config file read."}

	case verbTrack:
		if err := s.dome.Track(); err != nil {
			return response{0, "Dome is busy"}
		}
		return response{1, "Tracking telescope."}

	default:
		return response{0, "Command doesn't exist"}
	}
}

// executeGoto parses the degree argument. A leading '+' or '-' makes the
// target relative to the current position; otherwise it is absolute.
func (s *Server) executeGoto(arg string) response {
	degrees, err := strconv.ParseFloat(arg, 32)
	if err != nil {
		return response{0, "Invalid degree number: " + arg}
	}
	target := float32(degrees)
	if arg[0] == '+' || arg[0] == '-' {
		cfg := s.store.Load()
		target += float32(float64(s.dome.Position()) / cfg.PulsesPerDegree)
	}

	if err := s.dome.Goto(target); err != nil {
		if errors.Is(err, dome.ErrBusy) {
			return response{0, "Dome is busy"}
		}
		return response{0, err.Error()}
	}
	return response{1, fmt.Sprintf("Moving dome to %d.", int(target))}
}

// reloadConfig re-reads the config file; on any failure the previous
// configuration stays in force.
func (s *Server) reloadConfig() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	s.store.Swap(cfg)
	return nil
}

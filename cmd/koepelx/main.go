// koepelx is the dome controller daemon: it decodes the rotary encoder on
// the status register, drives the motion relays on the data register, keeps
// the calibrated dome position across restarts and serves the TCP command
// protocol.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/practicalastronomy/koepelx/pkg/config"
	"github.com/practicalastronomy/koepelx/pkg/dome"
	"github.com/practicalastronomy/koepelx/pkg/logger"
	"github.com/practicalastronomy/koepelx/pkg/portio"
	"github.com/practicalastronomy/koepelx/pkg/server"
	"github.com/practicalastronomy/koepelx/pkg/telescope"
	"github.com/practicalastronomy/koepelx/pkg/tracker"
)

var (
	configPath = flag.String("config", "resources/config.yaml", "Path to the configuration file")
	dryRun     = flag.Bool("dry-run", false, "Run against a playback port and a fake telescope instead of hardware")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Error().Err(err).Str("path", *configPath).Msg("Error in configfile.")
		return 1
	}
	store := config.NewStore(cfg)

	if !*dryRun && cfg.Logfile != "" {
		if err := logger.UseFile(cfg.Logfile); err != nil {
			logger.Log.Error().Err(err).Msg("Cannot open logfile.")
			return 1
		}
	}

	port, err := openPort(cfg)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Cannot open dome port.")
		return 1
	}
	defer port.Close()

	// Put the data register into output mode before anything pulses it.
	if err := port.WriteControl(portio.OutputMode); err != nil {
		logger.Log.Error().Err(err).Msg("Cannot configure dome port.")
		return 1
	}

	trk, err := tracker.New(store, port)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Cannot restore dome position.")
		return 1
	}

	controller := dome.New(store, port, trk, openTelescope(cfg))
	srv := server.New(store, controller, *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := make(chan error, 3)
	go func() { runErr <- trk.Run(ctx) }()
	go func() { runErr <- controller.Run(ctx) }()
	go func() { runErr <- srv.Run(ctx) }()

	logger.Log.Info().Msg("KoepelX started.")

	exitCode := 0
	received := 0
	select {
	case err := <-runErr:
		received++
		if err != nil {
			// Tracker termination is fatal for the daemon.
			logger.Log.Error().Err(err).Msg("Fatal error, shutting down.")
			exitCode = 1
		}
	case <-ctx.Done():
	}
	cancel()

	for ; received < cap(runErr); received++ {
		if err := <-runErr; err != nil && exitCode == 0 {
			logger.Log.Error().Err(err).Msg("Shutdown error.")
			exitCode = 1
		}
	}

	logger.Log.Info().Msg("KoepelX stopped.")
	return exitCode
}

func openPort(cfg *config.Config) (portio.Port, error) {
	if *dryRun {
		// Idle status: no pulses, zero index not asserted (active low).
		return portio.NewPlayback(cfg.ZeroBit), nil
	}
	switch cfg.PortDriver {
	case "gpio":
		return portio.OpenGPIO(portio.GPIOConfig{
			PinA: cfg.GPIO.PinA, PinB: cfg.GPIO.PinB, PinZero: cfg.GPIO.PinZero,
			PinLeft: cfg.GPIO.PinLeft, PinRight: cfg.GPIO.PinRight, PinClear: cfg.GPIO.PinClear,
			MaskA: cfg.BitA, MaskB: cfg.BitB, MaskZero: cfg.ZeroBit,
			MaskLeft: cfg.LeftBit, MaskRight: cfg.RightBit, MaskClear: cfg.ClearBit,
		})
	default:
		return portio.OpenDevPort(cfg.DataReg, cfg.CtrlReg, cfg.StatusReg)
	}
}

func openTelescope(cfg *config.Config) telescope.Telescope {
	if *dryRun {
		return &telescope.Fake{}
	}
	switch cfg.Telescope.Driver {
	case "lx200":
		return telescope.NewLX200(cfg.Telescope.SerialPort, cfg.Telescope.BaudRate)
	default:
		return telescope.NewTCP(cfg.Telescope.Addr)
	}
}

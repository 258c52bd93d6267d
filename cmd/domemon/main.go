// domemon polls the dome daemon and the telescope information service and
// prints a one-line status per interval: dome azimuth, telescope azimuth,
// whether the beam is inside the slit, and the busy flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chewxy/math32"

	"github.com/practicalastronomy/koepelx/pkg/client"
	"github.com/practicalastronomy/koepelx/pkg/logger"
	"github.com/practicalastronomy/koepelx/pkg/telescope"
)

var (
	domeAddr  = flag.String("dome", "localhost:65000", "Dome daemon address")
	scopeAddr = flag.String("scope", "", "Telescope information service address (optional)")
	slitSize  = flag.Float64("slit", 5, "Slit opening angle in degrees")
	interval  = flag.Duration("interval", time.Second, "Polling interval")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dome := client.New(*domeAddr)

	var scope telescope.Telescope
	if *scopeAddr != "" {
		scope = telescope.NewTCP(*scopeAddr)
		if err := scope.Connect(); err != nil {
			logger.Log.Error().Err(err).Msg("Cannot connect to telescope.")
			os.Exit(1)
		}
		defer scope.Close()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		domeAz, err := dome.Position()
		if err != nil {
			logger.Log.Error().Err(err).Msg("Dome position query failed.")
			continue
		}
		busy, err := dome.Busy()
		if err != nil {
			logger.Log.Error().Err(err).Msg("Dome busy query failed.")
			continue
		}

		if scope == nil {
			fmt.Printf("dome %6.2f  busy %v\n", domeAz, busy)
			continue
		}

		scopeAz, err := scope.Azimuth()
		if err != nil {
			logger.Log.Error().Err(err).Msg("Telescope azimuth query failed.")
			continue
		}

		// The slit center sits at the dome position + 180°.
		sep := math32.Mod(scopeAz-(domeAz+180), 360)
		if sep < -180 {
			sep += 360
		} else if sep > 180 {
			sep -= 360
		}
		inSlit := math32.Abs(sep) <= float32(*slitSize)/2

		fmt.Printf("dome %6.2f  scope %6.2f  in-slit %v  busy %v\n", domeAz, scopeAz, inSlit, busy)
	}
}

// Command hosthud runs the host-side half of the HUD data pipeline: it
// owns the State Store, MSG Scheduler, GPS Filter & Track Buffer, Map
// Fetch Coordinator, and Prioritized Writer, and drives them over a real
// USB CDC serial link to the device.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hudlink/internal/config"
	"hudlink/internal/gps"
	"hudlink/internal/hostsdk"
	"hudlink/internal/transport"
	"hudlink/internal/writer"
)

// logListener logs every async failure the host modules report, the same
// fire-and-forget pattern the teacher's live runtime uses for its own
// background errors.
type logListener struct{}

func (logListener) OnTickError(stage string, err error) {
	log.Printf("hosthud: tick error in %s: %v", stage, err)
}
func (logListener) OnProviderFailure(err error) {
	log.Printf("hosthud: map provider failure: %v", err)
}
func (logListener) OnScheduleReject(reason string) {
	log.Printf("hosthud: map fetch schedule rejected: %s", reason)
}
func (logListener) OnTransportWriteError(err error) {
	log.Printf("hosthud: transport write error: %v", err)
}
func (logListener) OnFrameDropped(channel writer.Channel, reason writer.DropReason) {
	log.Printf("hosthud: frame dropped on channel %d: %s", channel, reason)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./hosthud.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.LoadHost(configPath)
	if err != nil {
		log.Fatalf("hosthud: config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, err := transport.OpenSerial(transport.SerialConfig{
		Device: cfg.Transport.Device,
		Baud:   cfg.Transport.Baud,
	})
	if err != nil {
		log.Fatalf("hosthud: serial open failed: %v", err)
	}
	defer port.Close()

	rt := hostsdk.New(cfg, port, logListener{})
	if err := rt.Start(); err != nil {
		log.Fatalf("hosthud: start failed: %v", err)
	}
	defer rt.Close()

	log.Printf("hosthud starting: device=%s baud=%d msg_rate_hz=%d",
		cfg.Transport.Device, cfg.Transport.Baud, cfg.Scheduler.MsgRateHz)

	if cfg.GPS.Device != "" {
		gpsSrc := gps.NewNMEAReceiver(gps.Config{Device: cfg.GPS.Device, Baud: cfg.GPS.Baud})
		if err := gpsSrc.Start(ctx); err != nil {
			log.Printf("hosthud: gps start failed, continuing without gps: %v", err)
		} else {
			defer gpsSrc.Close()
			go relayGPS(ctx, rt, gpsSrc)
		}
	} else {
		log.Printf("hosthud: gps.device not set, running without a GPS source")
	}

	<-ctx.Done()
	log.Printf("hosthud stopping")
}

// relayGPS feeds every fix src produces into rt until ctx is done.
func relayGPS(ctx context.Context, rt *hostsdk.Runtime, src gps.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-src.Points():
			if !ok {
				return
			}
			if accepted, reason := rt.IngestGPS(p); !accepted {
				log.Printf("hosthud: gps point rejected: %s", reason)
			}
		}
	}
}

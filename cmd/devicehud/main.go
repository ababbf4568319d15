// Command devicehud runs the device-side half of the HUD data pipeline:
// the Stream Router and its IMGF/MSGF receivers, reading frames off a raw
// USB CDC serial link and exposing the latest decoded message and image
// to whatever renders the HUD overlay.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hudlink/internal/config"
	"hudlink/internal/devicesdk"
	"hudlink/internal/transport"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./devicehud.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		log.Fatalf("devicehud: config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, err := transport.OpenDeviceSerial(cfg.Transport.Device, cfg.Transport.Baud)
	if err != nil {
		log.Fatalf("devicehud: serial open failed: %v", err)
	}
	defer port.Close()

	rt := devicesdk.New(cfg, port)
	rt.Start()
	defer rt.Close()

	log.Printf("devicehud starting: device=%s baud=%d max_png_bytes=%d",
		cfg.Transport.Device, cfg.Transport.Baud, cfg.Imgf.MaxPngBytes)

	runOverlayLoop(ctx, rt)
	log.Printf("devicehud stopping")
}

// runOverlayLoop drains the device runtime's decoded messages and images,
// standing in for the real overlay renderer until one is wired up.
func runOverlayLoop(ctx context.Context, rt *devicesdk.Runtime) {
	msgBuf := make([]byte, 4096)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var lastImgSeq uint32
	haveImg := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, seq, ok := rt.PopMessage(msgBuf)
				if !ok {
					break
				}
				log.Printf("devicehud: message seq=%d bytes=%d", seq, n)
			}
			if img, ok := rt.LatestImage(); ok {
				if !haveImg || img.Seq != lastImgSeq {
					log.Printf("devicehud: map image seq=%d bytes=%d", img.Seq, len(img.Data))
					lastImgSeq = img.Seq
					haveImg = true
				}
				rt.ReleaseImage(img.Token)
			}
		}
	}
}

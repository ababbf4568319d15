package transport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig configures a real USB CDC serial link.
type SerialConfig struct {
	Device string
	Baud   int

	// ReadTimeout bounds blocking reads; 0 means block indefinitely.
	ReadTimeout time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	return c
}

// SerialTransport wraps github.com/tarm/serial as a HudTransport, the same
// role the teacher's NativePort plays for its MCU link.
type SerialTransport struct {
	port *serial.Port
}

// OpenSerial opens the named device as a HudTransport.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	cfg = cfg.withDefaults()
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open serial %s: %w", cfg.Device, err)
	}
	return &SerialTransport{port: port}, nil
}

// Write implements HudTransport.
func (s *SerialTransport) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("transport: write: %w", err)
	}
	return n, nil
}

// Flush implements HudTransport. tarm/serial has no explicit flush; Write
// already blocks until the bytes are handed to the OS, so this is a no-op,
// matching the teacher's NativePort.Flush.
func (s *SerialTransport) Flush() error { return nil }

// Close implements HudTransport.
func (s *SerialTransport) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	if err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

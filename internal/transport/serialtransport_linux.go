//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DeviceSerialTransport implements DeviceTransport over a raw-mode Linux tty,
// for running the device-side router against a real USB CDC ACM link during
// bring-up/testing. Grounded on the host GPS service's termios setup: both
// need a raw, unbuffered byte stream with no line discipline.
type DeviceSerialTransport struct {
	f *os.File
}

// OpenDeviceSerial opens path in raw mode at baud.
func OpenDeviceSerial(path string, baud int) (*DeviceSerialTransport, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("transport: get termios: %w", err)
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, fmt.Errorf("transport: set termios: %w", err)
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		return nil, fmt.Errorf("transport: os.NewFile failed")
	}
	ok = true
	return &DeviceSerialTransport{f: f}, nil
}

// Available implements DeviceTransport by attempting a non-blocking read
// into a probe buffer is avoided; instead we rely on the O_NONBLOCK fd and
// report optimistically that a read may succeed. Callers should treat a
// zero-length Read as "nothing available right now".
func (d *DeviceSerialTransport) Available() int {
	return 1
}

// Read implements DeviceTransport.
func (d *DeviceSerialTransport) Read(buf []byte) int {
	n, err := d.f.Read(buf)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Close releases the underlying file descriptor.
func (d *DeviceSerialTransport) Close() error {
	return d.f.Close()
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}

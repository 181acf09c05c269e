package watchdog

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Device drives a Linux watchdog character device (/dev/watchdog). Opening
// the device arms the timer; from that point the kernel reboots the machine
// unless Kick lands within the timeout window.
type Device struct {
	fd   int
	path string
}

// Open arms the watchdog at path with the given timeout.
func Open(path string, timeout time.Duration) (*Device, error) {
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}

	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	if err := unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
		// Some drivers have a fixed window; keep the device armed with it.
		if kerr := unix.IoctlWatchdogKeepalive(fd); kerr != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set watchdog timeout on %s: %w", path, err)
		}
	}

	return &Device{fd: fd, path: path}, nil
}

func (d *Device) Kick() error {
	if err := unix.IoctlWatchdogKeepalive(d.fd); err != nil {
		return fmt.Errorf("watchdog keepalive on %s: %w", d.path, err)
	}
	return nil
}

// Close performs the magic-close handshake so the kernel disarms the timer
// instead of treating the close as a crash.
func (d *Device) Close() error {
	if _, err := unix.Write(d.fd, []byte("V")); err != nil {
		unix.Close(d.fd)
		return fmt.Errorf("watchdog magic close on %s: %w", d.path, err)
	}
	return unix.Close(d.fd)
}

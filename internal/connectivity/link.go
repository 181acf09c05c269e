package connectivity

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// NetworkLink probes and nudges the low-level network association. Both
// calls must return quickly; the manager polls them from the control loop.
type NetworkLink interface {
	// Associated reports whether the link currently carries traffic.
	Associated() (bool, error)
	// Reconnect asks the link to re-associate. Best-effort and bounded;
	// success is observed later through Associated, not through the return.
	Reconnect(ctx context.Context) error
}

// reconnectCmdTimeout bounds the shell reconnect helper so a wedged
// supplicant cannot stall the loop.
const reconnectCmdTimeout = 2 * time.Second

// WirelessLink reads the interface operstate from sysfs and re-associates
// through a configured shell command (typically wpa_cli).
type WirelessLink struct {
	iface        string
	reconnectCmd string
}

func NewWirelessLink(iface, reconnectCmd string) *WirelessLink {
	return &WirelessLink{iface: iface, reconnectCmd: reconnectCmd}
}

func (w *WirelessLink) Associated() (bool, error) {
	raw, err := os.ReadFile("/sys/class/net/" + w.iface + "/operstate")
	if err != nil {
		return false, fmt.Errorf("read operstate for %s: %w", w.iface, err)
	}
	return strings.TrimSpace(string(raw)) == "up", nil
}

func (w *WirelessLink) Reconnect(ctx context.Context) error {
	if w.reconnectCmd == "" {
		return nil
	}
	fields := strings.Fields(w.reconnectCmd)

	ctx, cancel := context.WithTimeout(ctx, reconnectCmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reconnect command %q: %w", w.reconnectCmd, err)
	}
	return nil
}

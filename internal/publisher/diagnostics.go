package publisher

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DiagnosticsSource supplies the health fields embedded in every outbound
// message. Values must keep their numeric JSON types stable; the downstream
// ingestion layer silently drops fields that change type.
type DiagnosticsSource interface {
	RSSI() int
	IP() string
	HeapFree() uint64
	UptimeS(now time.Time) int64
}

// Diagnostics reads link and process health from the running system.
type Diagnostics struct {
	iface     string
	startedAt time.Time
}

func NewDiagnostics(iface string, startedAt time.Time) *Diagnostics {
	return &Diagnostics{iface: iface, startedAt: startedAt}
}

// RSSI returns the signal level in dBm from /proc/net/wireless, or 0 when
// the interface is not wireless or not associated.
func (d *Diagnostics) RSSI() int {
	raw, err := os.ReadFile("/proc/net/wireless")
	if err != nil {
		return 0
	}
	return parseWirelessLevel(string(raw), d.iface)
}

// parseWirelessLevel extracts the "level" quality column for iface. Kernel
// rows look like:
//
//	wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
func parseWirelessLevel(table, iface string) int {
	for _, line := range strings.Split(table, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != iface+":" {
			continue
		}
		level := strings.TrimSuffix(fields[3], ".")
		v, err := strconv.ParseFloat(level, 64)
		if err != nil {
			return 0
		}
		return int(v)
	}
	return 0
}

// IP returns the interface's first IPv4 address, or "" when unconfigured.
func (d *Diagnostics) IP() string {
	ifc, err := net.InterfaceByName(d.iface)
	if err != nil {
		return ""
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// HeapFree reports bytes the runtime holds but has not allocated, the
// closest analogue to a firmware free-heap figure.
func (d *Diagnostics) HeapFree() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys - ms.HeapInuse
}

// UptimeS is whole seconds since process start.
func (d *Diagnostics) UptimeS(now time.Time) int64 {
	return int64(now.Sub(d.startedAt) / time.Second)
}

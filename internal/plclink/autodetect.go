package plclink

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// ListPorts returns a best-effort, sorted and de-duplicated list of
// candidate serial port device names, adapted from the teacher's
// enumerator-first strategy so PLC probing does not brute-force every
// possible device name.
func ListPorts() []string {
	if ports, err := enumerator.GetDetailedPortsList(); err == nil && len(ports) > 0 {
		out := make([]string, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
		sort.Strings(out)
		return out
	}

	switch runtime.GOOS {
	case "darwin":
		return listByGlob("/dev/cu.*", "/dev/tty.*")
	case "windows":
		return nil
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*")
	}
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if m == "" {
				continue
			}
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// AutoDetectPort finds a serial port carrying this PLC protocol.
//
// Unlike the teacher's AutoDetectPort, this protocol is PLC-initiated: the
// supervisor never sends a probe command and waits for a reply. Instead,
// each candidate port is opened and listened to passively for listenFor;
// a port that produces a recognized command byte (0x14, 0x13, 0x00) or
// completes a <TAG:...> frame with a non-empty tag during that window is
// accepted.
func AutoDetectPort(preferred string, baud int, listenFor time.Duration) string {
	if preferred != "" && probePort(preferred, baud, listenFor) {
		return preferred
	}
	for _, name := range ListPorts() {
		if name == preferred {
			continue
		}
		if probePort(name, baud, listenFor) {
			return name
		}
	}
	return ""
}

func probePort(name string, baud int, listenFor time.Duration) bool {
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      serial.ParityNone,
		Size:        8,
		StopBits:    serial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	}
	sp, err := serial.OpenPort(cfg)
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()

	tok := NewTokenizer()
	deadline := time.Now().Add(listenFor)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, _ := sp.Read(buf)
		for i := 0; i < n; i++ {
			for _, t := range tok.Feed(buf[i]) {
				switch t.Kind {
				case TokenByte:
					switch t.Byte {
					case cmdScanRetry, cmdScanFinal, cmdStop:
						return true
					}
				case TokenFrame:
					if t.Frame.Tag != "" {
						return true
					}
				}
			}
		}
	}
	return false
}

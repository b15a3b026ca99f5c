package doorlink

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// AutoPort asks OpenSerial to pick the controller's USB bridge itself.
const AutoPort = "AUTO"

const DefaultBaud = 57600

// USB-UART bridges used by the supported controller boards.
const (
	vidCP210x = "10C4"
	vidCH340  = "1A86"
)

// OpenSerial opens the controller port.  A short read timeout keeps the
// link's reader responsive to Close.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, string, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if port == "" || strings.EqualFold(port, AutoPort) {
		detected, err := DetectPort()
		if err != nil {
			return nil, "", err
		}
		port = detected
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, port, fmt.Errorf("%w: open %s: %v", ErrPortUnavailable, port, err)
	}
	if err := p.SetReadTimeout(200 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, port, fmt.Errorf("%w: set read timeout on %s: %v", ErrPortUnavailable, port, err)
	}
	_ = p.ResetInputBuffer()
	return p, port, nil
}

// DetectPort returns the most likely controller port on this host.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("%w: enumerate ports: %v", ErrPortUnavailable, err)
	}
	best := rankPorts(ports)
	if best == "" {
		return "", fmt.Errorf("%w: no candidate serial port found", ErrPortUnavailable)
	}
	return best, nil
}

func rankPorts(ports []*enumerator.PortDetails) string {
	var (
		best      string
		bestScore int
	)
	for _, p := range ports {
		if s := portScore(p); s > bestScore {
			best, bestScore = p.Name, s
		}
	}
	return best
}

func portScore(p *enumerator.PortDetails) int {
	if p == nil || p.Name == "" {
		return 0
	}
	score := 0
	if p.IsUSB {
		score++
		switch strings.ToUpper(p.VID) {
		case vidCP210x:
			score += 4
		case vidCH340:
			score += 3
		}
	}
	name := strings.ToLower(p.Name)
	if strings.Contains(name, "ttyusb") || strings.Contains(name, "usbserial") ||
		strings.Contains(name, "ttyacm") {
		score++
	}
	return score
}

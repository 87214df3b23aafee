// pkg/telemetry/fieldbus/client.go
package fieldbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Client abstracts the Modbus operation the poller needs.
type Client interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
}

// ClientConfig is minimal transport config.
type ClientConfig struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
}

// TCPClient is a single Modbus TCP connection to the field controller.
type TCPClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// Dial connects to the field controller.
func Dial(cfg ClientConfig) (*TCPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("fieldbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("fieldbus: connect %s: %w", cfg.Endpoint, err)
	}

	return &TCPClient{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

func (c *TCPClient) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	if len(raw) != 2*int(qty) {
		return nil, fmt.Errorf("fieldbus: expected %d bytes, got %d", 2*int(qty), len(raw))
	}
	return unpackRegisters(raw), nil
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

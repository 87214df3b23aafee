// pkg/telemetry/fieldbus/source.go
package fieldbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vexsim/pkg/telemetry"
)

// ErrNoData is returned by Sample until the first poll succeeds.
var ErrNoData = errors.New("fieldbus: no data polled yet")

// Source is a telemetry.Source fed by a field controller. Each holding
// register carries one byte of the status block in its low half, starting at
// Address, in wire order.
//
// Polling happens on its own goroutine; Sample only copies the cached
// snapshot and never touches the network.
type Source struct {
	client   Client
	address  uint16
	interval time.Duration

	mu      sync.Mutex
	last    telemetry.Status
	lastErr error
	ok      bool
	polls   uint64
}

// New creates a source with immutable config.
func New(client Client, address uint16, interval time.Duration) (*Source, error) {
	if client == nil {
		return nil, errors.New("fieldbus: client required")
	}
	if interval <= 0 {
		return nil, errors.New("fieldbus: interval must be > 0")
	}
	return &Source{client: client, address: address, interval: interval}, nil
}

// PollOnce performs exactly one read of the register block.
// All-or-nothing: a failed read leaves the cached snapshot untouched.
func (s *Source) PollOnce() error {
	regs, err := s.client.ReadHoldingRegisters(s.address, telemetry.StatusSize)
	if err == nil && len(regs) != telemetry.StatusSize {
		err = fmt.Errorf("fieldbus: expected %d registers, got %d", telemetry.StatusSize, len(regs))
	}

	var st telemetry.Status
	if err == nil {
		st, err = decodeRegisters(regs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	s.lastErr = err
	if err == nil {
		s.last = st
		s.ok = true
	}
	return err
}

// Run polls on a ticker until ctx is done.
// One goroutine per source. No overlap. No retries.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.PollOnce()
		}
	}
}

// Sample copies the last good snapshot and reports the last poll error.
func (s *Source) Sample(st *telemetry.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		if s.lastErr != nil {
			return s.lastErr
		}
		return ErrNoData
	}
	*st = s.last
	return s.lastErr
}

// Polls returns the number of completed poll cycles.
func (s *Source) Polls() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func decodeRegisters(regs []uint16) (telemetry.Status, error) {
	raw := make([]byte, len(regs))
	for i, r := range regs {
		raw[i] = byte(r)
	}
	var st telemetry.Status
	err := st.UnmarshalBinary(raw)
	return st, err
}

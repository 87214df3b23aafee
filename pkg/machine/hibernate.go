package machine

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// mountRecord describes one MMIO mapping in the snapshot.
type mountRecord struct {
	Base uint32 `json:"base"`
	Size uint32 `json:"size"`
	Type string `json:"type"`
}

// machineState is the JSON-serializable snapshot of board control state.
type machineState struct {
	NowNs     int64          `json:"now_ns"`
	RAMSize   int            `json:"ram_size"`
	Pending   uint64         `json:"pending_irq"`
	IRQCounts map[int]uint64 `json:"irq_counts"`
	Mounted   []mountRecord  `json:"mounted_peripherals"`
}

// Snapshot is a decoded hibernation archive, for inspection tools.
type Snapshot struct {
	Now         time.Duration
	RAMSize     int
	Pending     uint64
	IRQCounts   map[int]uint64
	Mounted     []string
	Peripherals map[uint32][]byte
}

// HibernateToBytes serialises the machine into an in-memory ZIP archive.
func (m *Machine) HibernateToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	m.irqMu.Lock()
	state := machineState{
		NowNs:     int64(m.clk.Now()),
		RAMSize:   len(m.ram),
		Pending:   m.pending,
		IRQCounts: make(map[int]uint64),
	}
	for line, n := range m.counts {
		if n != 0 {
			state.IRQCounts[line] = n
		}
	}
	m.irqMu.Unlock()

	m.busMu.RLock()
	mappings := append([]mapping(nil), m.mappings...)
	m.busMu.RUnlock()

	// Mount order is restored oldest first so shadowing is preserved.
	for i := len(mappings) - 1; i >= 0; i-- {
		mp := mappings[i]
		state.Mounted = append(state.Mounted, mountRecord{Base: mp.base, Size: mp.size, Type: mp.p.Type()})
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal machine_state: %w", err)
	}
	if err := writeZipEntry(zw, "machine_state.json", jsonData); err != nil {
		return nil, err
	}

	m.memMu.Lock()
	err = writeZipEntry(zw, "memory.bin", m.ram)
	m.memMu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, mp := range mappings {
		if sp, ok := mp.p.(StatefulPeripheral); ok {
			if err := writeZipEntry(zw, peripheralEntry(mp.base), sp.SaveState()); err != nil {
				return nil, err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies an archive produced by HibernateToBytes. Mounted
// peripherals of the right type are reused; missing ones are created through
// the factory registry.
func (m *Machine) RestoreFromBytes(data []byte) error {
	fileMap, state, err := openArchive(data)
	if err != nil {
		return err
	}
	if state.RAMSize != len(m.ram) {
		return fmt.Errorf("snapshot ram size %d does not match machine ram size %d", state.RAMSize, len(m.ram))
	}

	m.clk.SetNow(time.Duration(state.NowNs))

	m.irqMu.Lock()
	m.pending = state.Pending
	m.counts = [IRQLines]uint64{}
	for line, n := range state.IRQCounts {
		if line >= 0 && line < IRQLines {
			m.counts[line] = n
		}
	}
	m.irqMu.Unlock()

	if memData, err := readZipEntry(fileMap, "memory.bin"); err == nil {
		m.memMu.Lock()
		copy(m.ram, memData)
		m.memMu.Unlock()
	}

	for _, rec := range state.Mounted {
		p := m.PeripheralAt(rec.Base)
		if p == nil || p.Type() != rec.Type {
			factory, ok := peripheralRegistry[rec.Type]
			if !ok {
				continue
			}
			p = factory(m)
			m.Mount(rec.Base, rec.Size, p)
		}

		if sp, ok := p.(StatefulPeripheral); ok {
			if binData, err := readZipEntry(fileMap, peripheralEntry(rec.Base)); err == nil {
				if err := sp.LoadState(binData); err != nil {
					return fmt.Errorf("load peripheral 0x%08X state: %w", rec.Base, err)
				}
			}
		}
	}

	return nil
}

// HibernateToFile writes the hibernation archive to the given file path.
func (m *Machine) HibernateToFile(path string) error {
	data, err := m.HibernateToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RestoreFromFile reads a hibernation archive from the given file path and
// restores the machine state.
func (m *Machine) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.RestoreFromBytes(data)
}

// ReadSnapshotFile decodes an archive without a machine to restore into.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fileMap, state, err := openArchive(data)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Now:         time.Duration(state.NowNs),
		RAMSize:     state.RAMSize,
		Pending:     state.Pending,
		IRQCounts:   state.IRQCounts,
		Peripherals: make(map[uint32][]byte),
	}
	for _, rec := range state.Mounted {
		snap.Mounted = append(snap.Mounted, fmt.Sprintf("0x%08X+0x%X %s", rec.Base, rec.Size, rec.Type))
		if d, err := readZipEntry(fileMap, peripheralEntry(rec.Base)); err == nil {
			snap.Peripherals[rec.Base] = d
		}
	}
	return snap, nil
}

// ── helpers ────────────────────────────────────────────────────────────────

func openArchive(data []byte) (map[string]*zip.File, machineState, error) {
	var state machineState
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, state, fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "machine_state.json")
	if err != nil {
		return nil, state, err
	}
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return nil, state, fmt.Errorf("unmarshal machine_state: %w", err)
	}
	return fileMap, state, nil
}

func peripheralEntry(base uint32) string {
	return fmt.Sprintf("peripheral_%08x.bin", base)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

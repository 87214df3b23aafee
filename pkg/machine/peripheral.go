package machine

// Peripheral is a memory-mapped device. Offsets are relative to the mount
// base and size is the access width in bytes.
type Peripheral interface {
	Read(offset uint32, size int) uint32
	Write(offset uint32, val uint32, size int)
	Type() string
}

// StatefulPeripheral is a Peripheral that can have its state saved and
// restored during hibernation.
type StatefulPeripheral interface {
	Peripheral
	SaveState() []byte
	LoadState(data []byte) error
}

// PeripheralFactory creates a peripheral for a machine being restored.
type PeripheralFactory func(m *Machine) Peripheral

var peripheralRegistry = make(map[string]PeripheralFactory)

// RegisterPeripheral registers a factory for a given peripheral type name.
func RegisterPeripheral(name string, factory PeripheralFactory) {
	peripheralRegistry[name] = factory
}

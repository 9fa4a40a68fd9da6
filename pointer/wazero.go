package pointer

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/objectmodel"
	"github.com/wippyai/objectmodel/errors"
)

// WazeroMemory wraps wazero memory to implement objectmodel.Memory
type WazeroMemory struct {
	mem api.Memory
}

// NewWazeroMemory adapts a wazero linear memory.
func NewWazeroMemory(mem api.Memory) *WazeroMemory {
	return &WazeroMemory{mem: mem}
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfBounds(offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return m.outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

func (m *WazeroMemory) ReadU8(offset uint32) (uint8, error) {
	val, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 1)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU16(offset uint32) (uint16, error) {
	val, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 2)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 4)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 8)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return m.outOfBounds(offset, 1)
	}
	return nil
}

func (m *WazeroMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return m.outOfBounds(offset, 2)
	}
	return nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return m.outOfBounds(offset, 4)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return m.outOfBounds(offset, 8)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m *WazeroMemory) outOfBounds(offset, length uint32) error {
	return errors.New(errors.PhasePointer, errors.KindOutOfBounds).
		Detail("offset=%d length=%d size=%d", offset, length, m.Size()).
		Build()
}

// Compile-time check that WazeroMemory implements objectmodel.Memory and MemorySizer
var _ objectmodel.Memory = (*WazeroMemory)(nil)
var _ objectmodel.MemorySizer = (*WazeroMemory)(nil)

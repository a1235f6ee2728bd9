package wasi

import (
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/cbqn-go/errors"
)

// Memory is the guest linear memory as seen by the backend.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// Allocator reserves scratch buffers through the guest's own allocator.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32) error
}

// memoryWrapper adapts wazero api.Memory to Memory.
type memoryWrapper struct {
	mem api.Memory
}

func wrapMemory(mem api.Memory) Memory {
	if mem == nil {
		return nil
	}
	return &memoryWrapper{mem: mem}
}

// Read returns a copy of guest memory.
func (m *memoryWrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *memoryWrapper) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseEncode, offset, uint32(len(data)))
	}
	return nil
}

// allocatorWrapper calls the guest malloc/free exports.
type allocatorWrapper struct {
	ctx    context.Context
	malloc function
	free   function
}

func (a *allocatorWrapper) Alloc(size uint32) (uint32, error) {
	results, err := a.malloc.Call(a.ctx, uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, err)
	}
	if len(results) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, fmt.Errorf("malloc returned no result"))
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, fmt.Errorf("malloc returned NULL"))
	}
	return ptr, nil
}

func (a *allocatorWrapper) Free(ptr uint32) error {
	if _, err := a.free.Call(a.ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free(%#x): %w", ptr, err)
	}
	return nil
}

// scratch tracks the guest buffers reserved for one primitive call.
type scratch struct {
	alloc Allocator
	ptrs  []uint32
}

func newScratch(alloc Allocator) *scratch {
	return &scratch{alloc: alloc}
}

// put copies data into a fresh guest buffer. Empty data yields pointer 0
// and no allocation.
func (s *scratch) put(mem Memory, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size, err := byteSize(len(data), 1)
	if err != nil {
		return 0, err
	}
	ptr, err := s.reserve(size)
	if err != nil {
		return 0, err
	}
	if err := mem.Write(ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// reserve allocates an uninitialized guest buffer of size bytes.
func (s *scratch) reserve(size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	ptr, err := s.alloc.Alloc(size)
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, nil
}

// release frees every reserved buffer, combining failures.
func (s *scratch) release() error {
	var err error
	for _, ptr := range s.ptrs {
		err = multierr.Append(err, s.alloc.Free(ptr))
	}
	s.ptrs = s.ptrs[:0]
	return err
}

// toU32 narrows a host length to the guest size_t.
func toU32(n int, what string) (uint32, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			GoType("u32").
			Value(n).
			Detail("%s %d does not fit the sandbox size_t", what, n).
			Build()
	}
	return uint32(n), nil
}

// byteSize computes n*width as a guest size, failing on overflow.
func byteSize(n int, width int) (uint32, error) {
	count, err := toU32(n, "length")
	if err != nil {
		return 0, err
	}
	total := uint64(count) * uint64(width)
	if total > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseEncode, total, "u32")
	}
	return uint32(total), nil
}

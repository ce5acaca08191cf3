// Package memory provides the byte storage behind physical frames and swap
// devices.
package memory

import (
	"errors"
	"sync"
)

// ErrOutOfRange is returned when an access reaches beyond the capacity of a
// Storage.
var ErrOutOfRange = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the bytes of a simulated physical medium.
//
// A storage is an abstraction of all different type of storage including
// main memory and swap disks.
//
// The storage implementation manages the storage in units. The unit is the
// same as a page. For the units that are not touched by Read and Write, no
// memory will be allocated.
type Storage struct {
	sync.Mutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage object whose allocation unit is
// unitSize bytes.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = unitSize
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)

	return storage
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitSize returns the allocation granularity.
func (s *Storage) UnitSize() uint64 {
	return s.unitSize
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been created
// before. Otherwise it initializes a storage unit in the storage object.
func (s *Storage) createOrGetStorageUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, ErrOutOfRange
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	if address+length > s.capacity {
		return nil, ErrOutOfRange
	}

	currAddr := address
	lenLeft := length
	dataOffset := uint64(0)
	res := make([]byte, length)

	for currAddr < address+length {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenLeftInUnit := baseAddr + s.unitSize - currAddr
		lenToRead := min(lenLeft, lenLeftInUnit)

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write copies data into the storage starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	s.Lock()
	defer s.Unlock()

	if address+uint64(len(data)) > s.capacity {
		return ErrOutOfRange
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		_, inUnitAddr := s.parseAddress(currAddr)
		lenLeftInData := uint64(len(data)) - dataOffset
		lenLeftInUnit := currAddr/s.unitSize*s.unitSize + s.unitSize - currAddr
		lenToWrite := min(lenLeftInData, lenLeftInUnit)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// Zero clears length bytes starting at address. Whole units are dropped
// instead of being overwritten.
func (s *Storage) Zero(address uint64, length uint64) error {
	s.Lock()
	defer s.Unlock()

	if address+length > s.capacity {
		return ErrOutOfRange
	}

	currAddr := address
	for currAddr < address+length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenLeftInUnit := baseAddr + s.unitSize - currAddr
		lenToZero := min(address+length-currAddr, lenLeftInUnit)

		if inUnitAddr == 0 && lenToZero == s.unitSize {
			delete(s.data, baseAddr)
		} else if unit, ok := s.data[baseAddr]; ok {
			clear(unit[inUnitAddr : inUnitAddr+lenToZero])
		}

		currAddr += lenToZero
	}

	return nil
}

// NumAllocatedUnits returns how many units hold backing memory.
func (s *Storage) NumAllocatedUnits() int {
	s.Lock()
	defer s.Unlock()

	return len(s.data)
}

// Package workload reads scripts of process and memory operations and runs
// them against a kernel.
package workload

import (
	"fmt"

	"github.com/sarchlab/lazyvm/mem/vm"
)

// Op is the operation of a command.
type Op int

// The operations a script can use.
const (
	OpSpawn Op = iota
	OpLoad
	OpOpen
	OpClose
	OpMmap
	OpMunmap
	OpWrite
	OpRead
	OpPush
	OpFork
	OpExit
	OpStats
)

var opNames = map[Op]string{
	OpSpawn:  "spawn",
	OpLoad:   "load",
	OpOpen:   "open",
	OpClose:  "close",
	OpMmap:   "mmap",
	OpMunmap: "munmap",
	OpWrite:  "write",
	OpRead:   "read",
	OpPush:   "push",
	OpFork:   "fork",
	OpExit:   "exit",
	OpStats:  "stats",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}

	return fmt.Sprintf("Op(%d)", int(o))
}

// A Command is one line of a script. Only the fields used by the operation
// are set.
type Command struct {
	Line int
	Op   Op

	PID   vm.PID
	Child vm.PID
	FD    int
	File  string

	Addr      uint64
	Length    uint64
	ZeroBytes uint64
	Offset    int64
	Writable  bool
	Data      []byte
}

func (c Command) String() string {
	switch c.Op {
	case OpSpawn, OpExit:
		return fmt.Sprintf("%s %d", c.Op, c.PID)
	case OpLoad:
		return fmt.Sprintf("load %d %s@%d -> 0x%x", c.PID, c.File, c.Offset,
			c.Addr)
	case OpOpen:
		return fmt.Sprintf("open %d fd%d %s", c.PID, c.FD, c.File)
	case OpClose:
		return fmt.Sprintf("close %d fd%d", c.PID, c.FD)
	case OpMmap:
		return fmt.Sprintf("mmap %d 0x%x+%d fd%d@%d", c.PID, c.Addr,
			c.Length, c.FD, c.Offset)
	case OpMunmap:
		return fmt.Sprintf("munmap %d 0x%x", c.PID, c.Addr)
	case OpWrite:
		return fmt.Sprintf("write %d 0x%x", c.PID, c.Addr)
	case OpRead:
		return fmt.Sprintf("read %d 0x%x", c.PID, c.Addr)
	case OpPush:
		return fmt.Sprintf("push %d %d", c.PID, c.Length)
	case OpFork:
		return fmt.Sprintf("fork %d %d", c.PID, c.Child)
	default:
		return c.Op.String()
	}
}

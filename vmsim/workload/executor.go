package workload

import (
	"fmt"
	"io"

	"github.com/sarchlab/lazyvm/process"
)

// Progress is told how many commands have run.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// Result summarizes a run.
type Result struct {
	Commands int
	Failures int
}

// An Executor runs commands against a kernel and prints what each one does.
type Executor struct {
	kernel   *process.Kernel
	out      io.Writer
	progress Progress
}

// NewExecutor creates an Executor that prints to out.
func NewExecutor(k *process.Kernel, out io.Writer) *Executor {
	return &Executor{kernel: k, out: out}
}

// WithProgress reports the progress of every run to p.
func (e *Executor) WithProgress(p Progress) *Executor {
	e.progress = p
	return e
}

// Run executes the commands in order. A failing command is reported and the
// run goes on, as the kernel already dealt with the offending process.
func (e *Executor) Run(cmds []Command) Result {
	res := Result{}

	for _, cmd := range cmds {
		if e.progress != nil {
			e.progress.IncrementInProgress(1)
		}

		res.Commands++
		if err := e.Exec(cmd); err != nil {
			res.Failures++
			fmt.Fprintf(e.out, "%4d %s: error: %v\n", cmd.Line, cmd, err)
		}

		if e.progress != nil {
			e.progress.MoveInProgressToFinished(1)
		}
	}

	return res
}

// Exec executes one command.
func (e *Executor) Exec(cmd Command) error {
	k := e.kernel

	switch cmd.Op {
	case OpSpawn:
		p, err := k.Spawn(cmd.PID)
		if err != nil {
			return err
		}

		e.printf(cmd, "sp=0x%x", p.StackPointer())
	case OpLoad:
		return k.Load(cmd.PID, cmd.File, cmd.Offset, cmd.Addr, cmd.Length,
			cmd.ZeroBytes, cmd.Writable)
	case OpOpen:
		return k.Open(cmd.PID, cmd.FD, cmd.File)
	case OpClose:
		return k.Close(cmd.PID, cmd.FD)
	case OpMmap:
		addr, err := k.Mmap(cmd.PID, cmd.Addr, cmd.Length, cmd.Writable,
			cmd.FD, cmd.Offset)
		if err != nil {
			return err
		}

		e.printf(cmd, "mapped at 0x%x", addr)
	case OpMunmap:
		return k.Munmap(cmd.PID, cmd.Addr)
	case OpWrite:
		return k.Write(cmd.PID, cmd.Addr, cmd.Data)
	case OpRead:
		data, err := k.Read(cmd.PID, cmd.Addr, int(cmd.Length))
		if err != nil {
			return err
		}

		e.printf(cmd, "%q", data)
	case OpPush:
		return k.Push(cmd.PID, cmd.Length)
	case OpFork:
		_, err := k.Fork(cmd.PID, cmd.Child)
		return err
	case OpExit:
		return k.Exit(cmd.PID)
	case OpStats:
		e.printStats(cmd)
	default:
		return fmt.Errorf("%w: unknown operation %s", ErrSyntax, cmd.Op)
	}

	return nil
}

func (e *Executor) printf(cmd Command, format string, args ...any) {
	fmt.Fprintf(e.out, "%4d %s: %s\n", cmd.Line, cmd,
		fmt.Sprintf(format, args...))
}

func (e *Executor) printStats(cmd Command) {
	frames := e.kernel.FrameManager().Stats()
	e.printf(cmd, "frames total=%d free=%d resident=%d evictions=%d",
		frames.Total, frames.Free, frames.Resident, frames.Evictions)

	mmu := e.kernel.MMU().Stats()
	e.printf(cmd, "mmu accesses=%d faults=%d kills=%d",
		mmu.Accesses, mmu.Faults, mmu.Kills)

	for _, p := range e.kernel.Processes() {
		state, reason := p.State()

		line := fmt.Sprintf("process %d %s pages=%d", p.PID(), state,
			p.AddressSpace().SPT().Len())
		if reason != nil {
			line += fmt.Sprintf(" (%v)", reason)
		}

		e.printf(cmd, "%s", line)
	}
}

package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/lazyvm/mem/vm"
)

// ErrSyntax is returned for a script line that cannot be parsed.
var ErrSyntax = errors.New("syntax error")

type argKind int

const (
	argPID argKind = iota
	argChild
	argFD
	argFile
	argAddr
	argLength
	argZero
	argOffset
	argMode
	argText
)

var grammar = map[string]struct {
	op   Op
	args []argKind
}{
	"spawn": {OpSpawn, []argKind{argPID}},
	"load": {OpLoad, []argKind{
		argPID, argFile, argOffset, argAddr, argLength, argZero, argMode,
	}},
	"open":   {OpOpen, []argKind{argPID, argFD, argFile}},
	"close":  {OpClose, []argKind{argPID, argFD}},
	"mmap":   {OpMmap, []argKind{argPID, argAddr, argLength, argMode, argFD, argOffset}},
	"munmap": {OpMunmap, []argKind{argPID, argAddr}},
	"write":  {OpWrite, []argKind{argPID, argAddr, argText}},
	"read":   {OpRead, []argKind{argPID, argAddr, argLength}},
	"push":   {OpPush, []argKind{argPID, argLength}},
	"fork":   {OpFork, []argKind{argPID, argChild}},
	"exit":   {OpExit, []argKind{argPID}},
	"stats":  {OpStats, nil},
}

// Parse reads a script. Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) ([]Command, error) {
	var cmds []Command

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cmd, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		cmd.Line = lineNo
		cmds = append(cmds, cmd)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cmds, nil
}

// ParseString parses a script held in a string.
func ParseString(s string) ([]Command, error) {
	return Parse(strings.NewReader(s))
}

func parseLine(line string) (Command, error) {
	name, rest, _ := strings.Cut(line, " ")

	g, ok := grammar[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrSyntax, name)
	}

	cmd := Command{Op: g.op}
	for i, kind := range g.args {
		rest = strings.TrimSpace(rest)

		var field string
		if kind == argText {
			field, rest = rest, ""
		} else {
			field, rest, _ = strings.Cut(rest, " ")
		}

		if field == "" {
			return Command{}, fmt.Errorf("%w: %s needs %d arguments",
				ErrSyntax, name, len(g.args))
		}

		if err := cmd.set(kind, field); err != nil {
			return Command{}, fmt.Errorf("%w: %s argument %d: %v",
				ErrSyntax, name, i+1, err)
		}
	}

	if strings.TrimSpace(rest) != "" {
		return Command{}, fmt.Errorf("%w: %s takes %d arguments",
			ErrSyntax, name, len(g.args))
	}

	return cmd, nil
}

func (c *Command) set(kind argKind, field string) error {
	var err error

	switch kind {
	case argPID:
		c.PID, err = parsePID(field)
	case argChild:
		c.Child, err = parsePID(field)
	case argFD:
		c.FD, err = strconv.Atoi(field)
	case argFile:
		c.File = field
	case argAddr:
		c.Addr, err = strconv.ParseUint(field, 0, 64)
	case argLength:
		c.Length, err = strconv.ParseUint(field, 0, 64)
	case argZero:
		c.ZeroBytes, err = strconv.ParseUint(field, 0, 64)
	case argOffset:
		c.Offset, err = strconv.ParseInt(field, 0, 64)
	case argMode:
		c.Writable, err = parseMode(field)
	case argText:
		c.Data, err = parseText(field)
	}

	return err
}

func parsePID(field string) (vm.PID, error) {
	pid, err := strconv.ParseUint(field, 10, 32)

	return vm.PID(pid), err
}

func parseMode(field string) (bool, error) {
	switch field {
	case "rw":
		return true, nil
	case "ro":
		return false, nil
	default:
		return false, fmt.Errorf("mode must be rw or ro, got %q", field)
	}
}

// parseText accepts a Go-quoted string or the raw rest of the line.
func parseText(field string) ([]byte, error) {
	if strings.HasPrefix(field, `"`) {
		s, err := strconv.Unquote(field)
		if err != nil {
			return nil, err
		}

		return []byte(s), nil
	}

	return []byte(field), nil
}

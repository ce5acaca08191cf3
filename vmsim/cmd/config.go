package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sarchlab/lazyvm/mem/vm"
)

// Environment variables that provide defaults for the flags.
const (
	envFrames    = "LAZYVM_FRAMES"
	envSwapSlots = "LAZYVM_SWAP_SLOTS"
	envPolicy    = "LAZYVM_POLICY"
)

type config struct {
	frames    int
	swapSlots int
	policy    string
}

var defaultConfig = config{
	frames:    16,
	swapSlots: 256,
	policy:    "clock",
}

// loadEnv reads the .env files, if present, into the environment.
func loadEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// configFromEnv starts from base and applies the environment variables that
// are set.
func configFromEnv(base config) (config, error) {
	c := base

	if v, ok := os.LookupEnv(envFrames); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envFrames, err)
		}
		c.frames = n
	}

	if v, ok := os.LookupEnv(envSwapSlots); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envSwapSlots, err)
		}
		c.swapSlots = n
	}

	if v, ok := os.LookupEnv(envPolicy); ok {
		c.policy = v
	}

	return c, nil
}

func (c config) validate() error {
	if c.frames <= 0 {
		return fmt.Errorf("the number of frames must be positive, got %d",
			c.frames)
	}

	if c.swapSlots < 0 {
		return fmt.Errorf("the number of swap slots cannot be negative, got %d",
			c.swapSlots)
	}

	_, err := c.victimFinder()

	return err
}

func (c config) victimFinder() (vm.VictimFinder, error) {
	switch c.policy {
	case "clock":
		return vm.NewClockVictimFinder(), nil
	case "fifo":
		return vm.NewFIFOVictimFinder(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", c.policy)
	}
}

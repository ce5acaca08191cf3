package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/lazyvm/datarecording"
	"github.com/sarchlab/lazyvm/fs"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/swap"
	"github.com/sarchlab/lazyvm/monitoring"
	"github.com/sarchlab/lazyvm/process"
	"github.com/sarchlab/lazyvm/tracing"
	"github.com/sarchlab/lazyvm/vmsim/workload"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a workload script.",
	Long: "`run <script>` executes the commands of a workload script. " +
		"Defaults for the memory configuration are read from the " +
		envFrames + ", " + envSwapSlots + " and " + envPolicy +
		" variables, which may be set in a .env file.",
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.Int("frames", defaultConfig.frames, "Number of physical frames.")
	flags.Int("swap-slots", defaultConfig.swapSlots,
		"Number of page slots on the swap device.")
	flags.String("policy", defaultConfig.policy,
		"Eviction policy, clock or fifo.")
	flags.String("root", ".", "Directory that holds the files of the script.")
	flags.String("trace-log", "",
		"Print every event to this file, or to stderr if set to -.")
	flags.String("trace-db", "",
		"Record every event in the SQLite database with this name.")
	flags.Bool("monitor", false,
		"Serve the state of the system over HTTP and wait for Ctrl-C.")
	flags.Int("monitor-port", 0, "Port of the monitoring server.")
	flags.Bool("open-browser", false, "Open the monitor in a browser.")
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	script, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer script.Close()

	cmds, err := workload.Parse(script)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	k := buildKernel(cmd, cfg)

	counter := tracing.NewCountTracer(nil)
	k.AcceptHook(counter)

	if err := attachTracers(cmd, k, cfg); err != nil {
		return err
	}

	executor := workload.NewExecutor(k, cmd.OutOrStdout())

	var monitor *monitoring.Monitor
	if on, _ := cmd.Flags().GetBool("monitor"); on {
		monitor = startMonitor(cmd, k)

		bar := monitor.CreateProgressBar(args[0], uint64(len(cmds)))
		defer monitor.CompleteProgressBar(bar)
		executor.WithProgress(bar)
	}

	res := executor.Run(cmds)

	printSummary(cmd, res, counter)

	if monitor != nil {
		waitForInterrupt()
	}

	return nil
}

func resolveConfig(cmd *cobra.Command) (config, error) {
	if err := loadEnv(); err != nil {
		return config{}, err
	}

	cfg, err := configFromEnv(defaultConfig)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("frames") {
		cfg.frames, _ = flags.GetInt("frames")
	}

	if flags.Changed("swap-slots") {
		cfg.swapSlots, _ = flags.GetInt("swap-slots")
	}

	if flags.Changed("policy") {
		cfg.policy, _ = flags.GetString("policy")
	}

	return cfg, cfg.validate()
}

func buildKernel(cmd *cobra.Command, cfg config) *process.Kernel {
	finder, _ := cfg.victimFinder()
	root, _ := cmd.Flags().GetString("root")

	frames := vm.MakeFrameManagerBuilder().
		WithNumFrames(cfg.frames).
		WithVictimFinder(finder).
		Build()

	return process.MakeBuilder().
		WithFrameManager(frames).
		WithSwapDevice(swap.NewDevice(cfg.swapSlots, vm.PageSize)).
		WithFileSystem(fs.NewOSFS(root)).
		Build()
}

func attachTracers(cmd *cobra.Command, k *process.Kernel, cfg config) error {
	flags := cmd.Flags()

	if path, _ := flags.GetString("trace-log"); path != "" {
		out := os.Stderr
		if path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			atexit.Register(func() { f.Close() })
			out = f
		}

		k.AcceptHook(tracing.NewLogTracer(log.New(out, "", 0), nil))
	}

	if name, _ := flags.GetString("trace-db"); name != "" {
		recorder := datarecording.New(name)

		exec := datarecording.NewExecRecorder(recorder)
		exec.Start()
		exec.Set("Frames", strconv.Itoa(cfg.frames))
		exec.Set("Swap Slots", strconv.Itoa(cfg.swapSlots))
		exec.Set("Policy", cfg.policy)
		atexit.Register(exec.End)

		k.AcceptHook(tracing.NewDBTracer(recorder, "vm_events", nil))
	}

	return nil
}

func startMonitor(cmd *cobra.Command, k *process.Kernel) *monitoring.Monitor {
	port, _ := cmd.Flags().GetInt("monitor-port")

	monitor := monitoring.NewMonitor()
	if port != 0 {
		monitor.WithPortNumber(port)
	}
	monitor.RegisterKernel(k)

	url := monitor.StartServer()

	if open, _ := cmd.Flags().GetBool("open-browser"); open {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("cannot open browser: %v", err)
		}
	}

	return monitor
}

func printSummary(
	cmd *cobra.Command,
	res workload.Result,
	counter *tracing.CountTracer,
) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%d commands, %d failed\n", res.Commands, res.Failures)
	for _, kind := range counter.Kinds() {
		fmt.Fprintf(out, "  %-12s %d\n", kind, counter.Count(kind))
	}
}

func waitForInterrupt() {
	fmt.Fprintln(os.Stderr, "Press Ctrl-C to exit.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vmsim"
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/driver"
	"github.com/sarchlab/vmsim/monitoring"
	"github.com/sarchlab/vmsim/vm/mmu"
)

var (
	numFrames     uint64
	ptesPerPage   uint64
	recordDB      string
	monitorPort   int
	openDashboard bool
)

var runCmd = &cobra.Command{
	Use:   "run <trace-file>",
	Short: "Execute an access trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func init() {
	runCmd.Flags().Uint64Var(&numFrames, "num-frames", 128,
		"number of page frames in the system")
	runCmd.Flags().Uint64Var(&ptesPerPage, "ptes-per-page", 16,
		"number of page-table entries per level")
	runCmd.Flags().StringVar(&recordDB, "record", "",
		"record MMU events into a SQLite database at the given path")
	runCmd.Flags().IntVar(&monitorPort, "monitor-port", 0,
		"serve the monitoring API on the given port")
	runCmd.Flags().BoolVar(&openDashboard, "open-dashboard", false,
		"open the monitoring dashboard in a browser")

	rootCmd.AddCommand(runCmd)
}

func runTrace(_ *cobra.Command, args []string) error {
	loadEnvOverrides()

	s := vmsim.NewSimulation()

	mmuBuilder := mmu.MakeBuilder().
		WithNumFrames(numFrames).
		WithPTEsPerPage(ptesPerPage)

	if recordDB != "" {
		recorder := datarecording.New(recordDB)
		s.RegisterDataRecorder(recorder)
		mmuBuilder = mmuBuilder.WithDataRecorder(recorder)
	}

	core := mmuBuilder.Build("MMU")
	s.RegisterComponent(core)
	s.RegisterComponent(core.TLB())

	if monitorPort != 0 || openDashboard {
		monitor := monitoring.NewMonitor()
		if monitorPort != 0 {
			monitor = monitor.WithPortNumber(monitorPort)
		}
		s.RegisterMonitor(monitor)

		if openDashboard {
			monitor.OpenDashboard()
		} else {
			monitor.StartServer()
		}
	}

	traceFile, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("cannot open trace: %w", err)
	}
	defer traceFile.Close()

	err = driver.New(core).Run(traceFile)
	if err != nil {
		return fmt.Errorf("trace execution failed: %w", err)
	}

	s.Terminate()

	return nil
}

// loadEnvOverrides applies configuration from a .env file and the
// environment. Flags set the defaults; VMSIM_* variables win.
func loadEnvOverrides() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if v := os.Getenv("VMSIM_NR_PAGEFRAMES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			numFrames = n
		}
	}

	if v := os.Getenv("VMSIM_NR_PTES_PER_PAGE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			ptesPerPage = n
		}
	}
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/yanrk/resource-monitor/monitor"
)

type options struct {
	pids      string
	tree      bool
	self      bool
	ticks     int
	nvsmiPath string
	verbose   bool
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.pids, "pids", "", "Comma-separated pids to monitor")
	flag.BoolVar(&opts.tree, "tree", true, "Fold process descendants into each root")
	flag.BoolVar(&opts.self, "self", true, "Monitor this probe's own process")
	flag.IntVar(&opts.ticks, "ticks", 2, "Number of sample ticks to print")
	flag.StringVar(&opts.nvsmiPath, "nvidia-smi", "", "Path to the nvidia-smi binary")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose sampler logging")
	flag.Parse()
	return opts
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	mon := monitor.New(monitor.Config{
		Logger:        logger,
		NvidiaSMIPath: opts.nvsmiPath,
	})
	if err := mon.Init(); err != nil {
		logger.Error("monitor init failed", "err", err)
		os.Exit(1)
	}
	defer mon.Shutdown()

	if opts.self {
		if err := mon.AppendProcess(uint32(os.Getpid()), opts.tree); err != nil {
			logger.Warn("failed to monitor own process", "err", err)
		}
	}
	for _, field := range strings.Split(opts.pids, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pid, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			logger.Error("invalid pid", "value", field)
			os.Exit(1)
		}
		if err := mon.AppendProcess(uint32(pid), opts.tree); err != nil {
			logger.Warn("failed to monitor process", "pid", pid, "err", err)
		}
	}

	cards, err := mon.GraphicsCards()
	if err != nil {
		logger.Error("card enumeration failed", "err", err)
		os.Exit(1)
	}
	if len(cards) == 0 {
		fmt.Println("No graphics cards detected")
	} else {
		fmt.Println("Graphics cards:")
		for _, card := range cards {
			fmt.Printf("- %s (%s)\n", card.Name, humanize.IBytes(card.DedicatedMemoryBytes))
		}
	}

	snapshots, cancel, err := mon.Subscribe()
	if err != nil {
		logger.Error("subscription failed", "err", err)
		os.Exit(1)
	}
	defer cancel()

	fmt.Println()
	fmt.Printf("Sampling every %s\n", monitor.TickInterval)
	fmt.Println(strings.Repeat("-", 60))

	for tick := 0; tick < opts.ticks; tick++ {
		snapshot, ok := <-snapshots
		if !ok {
			return
		}
		printSnapshot(snapshot)
	}
}

func printSnapshot(snapshot monitor.Snapshot) {
	system := snapshot.System
	fmt.Printf("[%s]\n", snapshot.Timestamp.Format(time.RFC3339))
	fmt.Printf("  cpu: %.1f%% of %d cores\n", system.CPUPercent, system.CPUCount)
	fmt.Printf("  ram: %s / %s\n", humanize.IBytes(system.RAMUsed), humanize.IBytes(system.RAMTotal))
	fmt.Printf("  disk: %s / %s\n", humanize.IBytes(system.DiskUsed), humanize.IBytes(system.DiskTotal))
	fmt.Printf("  net: %s/s out, %s/s in\n",
		humanize.IBytes(uint64(system.NetSentBps)), humanize.IBytes(uint64(system.NetRecvBps)))
	if system.GPUCount > 0 {
		fmt.Printf("  gpu: 3d %.1f%% enc %.1f%% dec %.1f%%, mem %s / %s, %d C\n",
			system.GPU3DPercent, system.GPUEncodePercent, system.GPUDecodePercent,
			humanize.IBytes(system.GPUMemoryUsed), humanize.IBytes(system.GPUMemoryTotal),
			system.GPUTemperatureC)
	}
	for pid, resource := range snapshot.Processes {
		fmt.Printf("  pid %d: cpu %.1f%%, ram %s, gpu mem %s\n",
			pid, resource.CPUPercent, humanize.IBytes(resource.RAMBytes), humanize.IBytes(resource.GPUMemoryBytes))
	}
	fmt.Println()
}

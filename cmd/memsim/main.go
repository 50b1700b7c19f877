// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	cfgapi "github.com/containers/nri-memsim/pkg/apis/config/v1alpha1"
	"github.com/containers/nri-memsim/pkg/config"
	"github.com/containers/nri-memsim/pkg/generator"
	"github.com/containers/nri-memsim/pkg/instrumentation"
	logger "github.com/containers/nri-memsim/pkg/log"
	"github.com/containers/nri-memsim/pkg/memsim"
	"github.com/containers/nri-memsim/pkg/metrics"
	"github.com/containers/nri-memsim/pkg/metrics/collectors"
	"github.com/containers/nri-memsim/pkg/version"
)

const (
	// exitStatus is the status the simulation always terminates with.
	exitStatus = 255
)

var (
	log = logger.Default()

	configFile       = flag.String("config", "", "Read configuration from the given YAML file.")
	printConfig      = flag.Bool("print-config", false, "Print the configuration and exit.")
	seed             = flag.Int64("seed", 0, "Seed for the request generator, 0 for a time based seed.")
	timeUnit         = flag.Duration("time-unit", cfgapi.DefaultTimeUnit, "Wall clock length of a simulated second.")
	cellSize         = flag.Int("cell-size", cfgapi.DefaultCellSize, "Size of a memory cell in MB.")
	httpEndpoint     = flag.String("http-endpoint", "", "Address to serve Prometheus metrics at, empty to disable.")
	tracingCollector = flag.String("tracing-collector", "", "OpenTelemetry collector endpoint, empty to disable tracing.")
	metricsExporter  = flag.String("metrics-exporter", "", "Metrics exporter: prometheus, otlp-http or otlp-grpc.")
	statsJSON        = flag.String("stats-json", "", "Write the final statistics as JSON to the given file, - for stdout.")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [options] p q n m t T choice\n", os.Args[0])
	fmt.Fprintf(out, "       %s [options] -config file [p q n m t T choice]\n", os.Args[0])
	fmt.Fprintf(out, "       %s version\n", os.Args[0])
	fmt.Fprintf(out, "where,\n")
	fmt.Fprintf(out, "p = Total physical memory (in MB) in the simulation.\n")
	fmt.Fprintf(out, "q = Memory (in MB) reserved for the operating system.\n")
	fmt.Fprintf(out, "n = Parameter to determine the process arrival rate.\n")
	fmt.Fprintf(out, "m = Parameter to determine the size of the process in a request.\n")
	fmt.Fprintf(out, "t = Parameter to determine the duration of the process in a request.\n")
	fmt.Fprintf(out, "T = The time (in seconds) after which the simulation should end.\n")
	fmt.Fprintf(out, "choice = A number from 1, 2 or 3, denoting one of the following memory placement algorithms:\n")
	fmt.Fprintf(out, "\t1. First-fit\n")
	fmt.Fprintf(out, "\t2. Best-fit\n")
	fmt.Fprintf(out, "\t3. Next-fit\n")
	fmt.Fprintf(out, "options:\n")
	flag.PrintDefaults()
}

func main() {
	logger.SetStdLogger("stdlog")
	logger.SetSlogLogger("slog")

	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 1 && args[0] == "version" {
		fmt.Printf("memsim version %s, build %s\n", version.Version, version.Build)
		os.Exit(0)
	}

	cfg, err := setupConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(exitStatus)
	}

	if *printConfig {
		if err := config.Print(os.Stdout, cfg); err != nil {
			log.Fatal("%v", err)
		}
		os.Exit(0)
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Fatal("failed to configure logging: %v", err)
	}
	logger.SetupDebugToggleSignal(unix.SIGUSR1)

	os.Exit(run(cfg))
}

// setupConfig builds the configuration from the configuration file, the
// positional arguments and the command line flags, in this order.
func setupConfig(args []string) (*cfgapi.Config, error) {
	var (
		cfg *cfgapi.Config
		err error
	)

	if *configFile != "" {
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
		if len(args) > 0 {
			if err = config.FromArgs(cfg, args); err != nil {
				return nil, err
			}
		}
	} else {
		cfg = config.New()
		if err = config.FromArgs(cfg, args); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			cfg.Seed = *seed
		case "time-unit":
			cfg.TimeUnit.Duration = *timeUnit
		case "cell-size":
			cfg.CellSize = *cellSize
		case "http-endpoint":
			cfg.Instrumentation.HTTPEndpoint = *httpEndpoint
			cfg.Instrumentation.PrometheusExport = *httpEndpoint != ""
		case "metrics-exporter":
			cfg.Instrumentation.MetricsExporter = *metricsExporter
		case "tracing-collector":
			cfg.Instrumentation.TracingCollector = *tracingCollector
			if cfg.Instrumentation.SamplingRatePerMillion == 0 {
				cfg.Instrumentation.SamplingRatePerMillion = 1000000
			}
		}
	})

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// run runs the simulation until the run time is over or it is interrupted,
// then prints the final statistics. It returns the exit status.
func run(cfg *cfgapi.Config) int {
	log.Info("memsim (version %s, build %s) starting...", version.Version, version.Build)

	strategy, err := memsim.NewStrategy(cfg.Strategy)
	if err != nil {
		log.Fatal("%v", err)
	}

	a, err := memsim.NewAllocator(cfg.Cells(), strategy,
		memsim.WithName(strategy.Name()),
		memsim.WithCellSize(cfg.CellSize),
		memsim.WithTimeUnit(cfg.TimeUnit.Duration),
	)
	if err != nil {
		log.Fatal("failed to create allocator: %v", err)
	}

	g, err := generator.New(
		generator.Parameters{
			ArrivalRate:     cfg.ArrivalRate,
			ProcessSize:     cfg.ProcessSize,
			ProcessDuration: cfg.ProcessDuration,
			CellSize:        cfg.CellSize,
			TimeUnit:        cfg.TimeUnit.Duration,
			Seed:            cfg.Seed,
		},
		a,
	)
	if err != nil {
		log.Fatal("failed to create request generator: %v", err)
	}

	collectors.Register()
	if err := metrics.Register("state", memsim.NewCollector(a), metrics.WithGroup("allocator")); err != nil {
		log.Fatal("failed to register allocator metrics: %v", err)
	}
	if err := instrumentation.Start(&cfg.Instrumentation); err != nil {
		log.Fatal("failed to set up instrumentation: %v", err)
	}
	defer instrumentation.Stop()
	if err := a.RegisterMeters(metrics.Provider("allocator").Meter("state")); err != nil {
		log.Fatal("failed to register allocator meters: %v", err)
	}

	printBanner(cfg, g)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithTimeout(sigCtx, cfg.WallClock(cfg.RunTime.Duration))
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.Run(ctx); err != nil && !isDone(err) {
			log.Error("allocator failed: %v", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := g.Run(ctx); err != nil && !isDone(err) {
			log.Error("request generator failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	if sigCtx.Err() != nil {
		fmt.Println("\nExecution interrupted by the user. Program terminating...")
	} else {
		fmt.Println("\nTotal allowed execution time has been reached. Program terminating...")
	}

	a.DumpState("final ")
	stats := a.Stop()
	wg.Wait()

	fmt.Printf("Memory utilization = %f %%\n", stats.Utilization(cfg.CellSize, cfg.ReservedMemory, cfg.TotalMemory))
	fmt.Printf("Average turn-around time = %f sec\n", stats.AverageTurnaround().Seconds())

	if err := writeStats(*statsJSON, stats); err != nil {
		log.Error("failed to write statistics: %v", err)
	}

	fmt.Println("Program Terminated.")
	logger.Flush()

	return exitStatus
}

func printBanner(cfg *cfgapi.Config, g *generator.Generator) {
	fmt.Println("=====================Simulation=====================")
	fmt.Println("Parameters for simulation ::")
	fmt.Printf("p = %d\n", cfg.TotalMemory)
	fmt.Printf("q = %d\n", cfg.ReservedMemory)
	fmt.Printf("n = %d\n", cfg.ArrivalRate)
	fmt.Printf("m = %d\n", cfg.ProcessSize)
	fmt.Printf("t = %d\n", cfg.ProcessDuration)
	fmt.Printf("T = %d\n", int64(cfg.RunTime.Duration/time.Second))
	fmt.Printf("r = %f\n", g.Rate())
	fmt.Println()
}

func writeStats(path string, stats memsim.Statistics) error {
	switch path {
	case "":
		return nil
	case "-":
		return stats.WriteJSON(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := stats.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

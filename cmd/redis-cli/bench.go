package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/redis"
	"github.com/pior/redis/metrics"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:      "bench",
		Usage:     "Send a command repeatedly from concurrent workers sharing a pool",
		ArgsUsage: "[command [args...]]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "requests",
				Usage: "total number of commands, 0 to run for --duration",
				Value: 10000,
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "run time when --requests is 0",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "number of workers",
				Value: 4,
			},
			&cli.IntFlag{
				Name:  "pool-size",
				Usage: "maximum number of clients, defaults to --concurrency",
			},
			&cli.Float64Flag{
				Name:  "rate",
				Usage: "maximum commands per second, 0 for no limit",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print the pool metrics in Prometheus text format",
			},
		},
		Action: runBench,
	}
}

type benchResult struct {
	successes atomic.Int64
	failures  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (r *benchResult) record(latency time.Duration, err error) {
	if err != nil {
		r.failures.Add(1)
		return
	}
	r.successes.Add(1)

	r.mu.Lock()
	r.latencies = append(r.latencies, latency)
	r.mu.Unlock()
}

func (r *benchResult) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	idx := int(float64(len(r.latencies)-1) * p)
	return r.latencies[idx]
}

func runBench(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}

	concurrency := max(c.Int("concurrency"), 1)
	poolSize := c.Int("pool-size")
	if poolSize <= 0 {
		poolSize = concurrency
	}

	pool, err := redis.NewPool(opts, int32(poolSize))
	if err != nil {
		return err
	}
	defer pool.Close()

	cmd := redis.NewCommand("PING")
	if c.NArg() > 0 {
		args := c.Args().Slice()
		cmd = redis.NewCommand(args[0], stringArgs(args[1:])...)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if r := c.Float64("rate"); r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), max(int(r/10), 1))
	}

	ctx := c.Context
	requests := int64(c.Int("requests"))
	if requests <= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration("duration"))
		defer cancel()
	}

	w := c.App.Writer
	fmt.Fprintf(w, "bench: %s against %s, %d workers, pool of %d\n", cmd, opts.Addr(), concurrency, poolSize)

	var (
		result    benchResult
		remaining atomic.Int64
		wg        sync.WaitGroup
	)
	remaining.Store(requests)
	start := time.Now()

	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if requests > 0 && remaining.Add(-1) < 0 {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				opStart := time.Now()
				_, err := pool.SendCommand(ctx, cmd)
				if ctx.Err() != nil {
					return
				}
				result.record(time.Since(opStart), err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	printBenchResult(w, &result, elapsed, pool.Stats())

	if c.Bool("metrics") {
		exporter := metrics.NewExporter()
		if err := exporter.RegisterPool("bench", pool); err != nil {
			return err
		}
		if err := printMetrics(w, exporter); err != nil {
			return err
		}
	}

	if result.failures.Load() > 0 && result.successes.Load() == 0 {
		return fmt.Errorf("all %d commands failed", result.failures.Load())
	}
	return nil
}

func printBenchResult(w io.Writer, r *benchResult, elapsed time.Duration, stats redis.PoolStats) {
	slices.Sort(r.latencies)

	total := r.successes.Load() + r.failures.Load()
	fmt.Fprintf(w, "commands:   %d (%d failed)\n", total, r.failures.Load())
	fmt.Fprintf(w, "elapsed:    %v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Fprintf(w, "throughput: %.0f ops/s\n", float64(total)/elapsed.Seconds())
	}
	fmt.Fprintf(w, "latency:    p50=%v p99=%v max=%v\n", r.percentile(0.5), r.percentile(0.99), r.percentile(1))
	fmt.Fprintf(w, "pool:       %d clients created, %d acquires, %d waited\n", stats.CreatedConns, stats.AcquireCount, stats.AcquireWaitCount)
}

func printMetrics(w io.Writer, exporter *metrics.Exporter) error {
	families, err := exporter.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchResult struct {
	Calls       int    `json:"calls" yaml:"calls"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	Errors      int64  `json:"errors" yaml:"errors"`
	Elapsed     string `json:"elapsed" yaml:"elapsed"`
	CallsPerSec string `json:"calls_per_sec" yaml:"calls_per_sec"`
	P50         string `json:"p50" yaml:"p50"`
	P99         string `json:"p99" yaml:"p99"`
}

func newBenchCmd(st *rootState) *cobra.Command {
	var (
		calls       int
		concurrency int
		size        int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent calls over one connection and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if calls <= 0 || concurrency <= 0 {
				return fmt.Errorf("--calls and --concurrency must be positive")
			}
			s, err := st.connect(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer s.Close()

			payload := make([]byte, size)
			var (
				mu        sync.Mutex
				latencies = make([]time.Duration, 0, calls)
				failed    atomic.Int64
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			start := time.Now()
			for i := 0; i < calls; i++ {
				g.Go(func() error {
					t0 := time.Now()
					if _, err := s.client.Call(ctx, payload); err != nil {
						failed.Add(1)
						return nil
					}
					d := time.Since(t0)
					mu.Lock()
					latencies = append(latencies, d)
					mu.Unlock()
					return nil
				})
			}
			_ = g.Wait()
			elapsed := time.Since(start)

			fmt.Fprint(cmd.OutOrStdout(), st.formatter.Format(summarize(calls, concurrency, failed.Load(), elapsed, latencies)))
			if failed.Load() == int64(calls) {
				return fmt.Errorf("all %d calls failed", calls)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&calls, "calls", 1000, "total calls to issue")
	cmd.Flags().IntVar(&concurrency, "concurrency", 16, "calls in flight at once")
	cmd.Flags().IntVar(&size, "size", 64, "payload size in bytes")
	return cmd
}

func summarize(calls, concurrency int, failed int64, elapsed time.Duration, latencies []time.Duration) benchResult {
	slices.Sort(latencies)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(len(latencies)) / elapsed.Seconds()
	}
	return benchResult{
		Calls:       calls,
		Concurrency: concurrency,
		Errors:      failed,
		Elapsed:     elapsed.Round(time.Millisecond).String(),
		CallsPerSec: strconv.FormatFloat(rate, 'f', 1, 64),
		P50:         percentile(latencies, 0.50).String(),
		P99:         percentile(latencies, 0.99).String(),
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// Package main provides the rquery CLI entry point: a small demo harness
// that drives a Client against an in-memory, deliberately slow and
// occasionally failing data source, useful for exercising the cache and
// engine without a real backend.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/rquery/pkg/client"
	"github.com/orneryd/rquery/pkg/metrics"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rquery",
		Short: "rquery - an async data cache and fetch-coordination engine",
		Long: `rquery provides the React Query / TanStack Query contract in Go:
named, typed queries backed by a shared cache with staleness windows,
retention windows, background refresh, retry, optimistic updates,
infinite queries, and mutations with life-cycle callbacks.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rquery v%s\n", version)
		},
	})

	demoCmd := &cobra.Command{Use: "demo", Short: "Run demo scenarios against an in-memory Client"}
	demoRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch a simulated slow/failure-prone query a few times, printing cache stats",
		RunE:  runDemo,
	}
	demoRunCmd.Flags().Int("requests", 5, "Number of sequential observations to simulate")
	demoRunCmd.Flags().Float64("failure-rate", 0.2, "Probability each underlying fetch fails")
	demoCmd.AddCommand(demoRunCmd)
	rootCmd.AddCommand(demoCmd)

	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect this process's global client cache"}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache hit/miss/eviction statistics",
		RunE:  runCacheStats,
	})
	inspectCmd := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Print whether a key is present and its cache keys",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheInspect,
	}
	cacheCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	requests, _ := cmd.Flags().GetInt("requests")
	failureRate, _ := cmd.Flags().GetFloat64("failure-rate")

	rec := metrics.NewRecorder()
	cl := client.New(nil, client.WithMetrics(rec))
	defer cl.Dispose()

	source := newFlakySource(failureRate)

	for i := 0; i < requests; i++ {
		data, ok := client.GetQueryData[[]string](cl, "items")
		if ok {
			fmt.Printf("[%d] cache hit: %v\n", i, data)
			continue
		}

		items, err := source.fetch()
		if err != nil {
			fmt.Printf("[%d] fetch failed: %v\n", i, err)
			continue
		}
		client.SetQueryData(cl, "items", items)
		fmt.Printf("[%d] fetched: %v\n", i, items)
	}

	stats := cl.GetCacheStats()
	fmt.Printf("hits=%d misses=%d evictions=%d entries=%d\n",
		stats.HitCount, stats.MissCount, stats.EvictionCount, stats.TotalEntries)
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cl := client.GlobalClient()
	stats := cl.GetCacheStats()
	fmt.Printf("entries=%d stale=%d hits=%d misses=%d evictions=%d\n",
		stats.TotalEntries, stats.StaleEntries, stats.HitCount, stats.MissCount, stats.EvictionCount)
	return nil
}

func runCacheInspect(cmd *cobra.Command, args []string) error {
	key := args[0]
	cl := client.GlobalClient()

	if cl.HasQueryData(key) {
		fmt.Printf("%s: present\n", key)
	} else {
		fmt.Printf("%s: absent\n", key)
	}

	keys := cl.GetCacheKeys()
	sort.Strings(keys)
	fmt.Printf("all keys: %s\n", strings.Join(keys, ", "))
	return nil
}

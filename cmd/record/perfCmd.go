package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dSync servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNamePrefix       = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfNameSpread       = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "records"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different records to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNameSpread = max(viper.GetInt("records"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dSync servers")

	config := util.GetClientConfig()

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	ctx, cancel := interruptContext()
	defer cancel()

	results := make(map[string]testing.BenchmarkResult)
	bench := func(test string, prepare func(name string), op func(name string, i int) error) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test) || ctx.Err() != nil {
				return
			}

			getName, iter := getNames(test)
			if prepare != nil {
				iter(prepare)
				if err := rpcClient.Sync(ctx); err != nil {
					log.Printf("(%s) - error syncing: %v\n", test, err)
				}
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := op(getName(counter), counter); err != nil {
						log.Printf("(%s) - error: %v\n", test, err)
					}
					counter++
				}
			})
		})

		results[test] = result
		printResult(test, result)
	}

	bench("set", nil, func(name string, i int) error {
		return rpcClient.Set(name, "n", i)
	})

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	bench("set-large", nil, func(name string, _ int) error {
		return rpcClient.Set(name, "blob", largeValue)
	})

	bench("set-sync", nil, func(name string, i int) error {
		if err := rpcClient.Set(name, "n", i); err != nil {
			return err
		}
		return rpcClient.Sync(ctx)
	})

	seed := func(name string) {
		if err := rpcClient.Set(name, "n", 0); err != nil {
			log.Printf("error seeding %s: %v\n", name, err)
		}
	}

	bench("get", seed, func(name string, _ int) error {
		_, err := getWithin(ctx, name, "n")
		return err
	})

	bench("update", seed, func(name string, _ int) error {
		return rpcClient.Update(ctx, name, "n", func(prev any, _ string) (any, error) {
			n, _ := prev.(float64)
			return n + 1, nil
		})
	})

	bench("sync", nil, func(_ string, _ int) error {
		return rpcClient.Sync(ctx)
	})

	bench("mixed", seed, func(name string, i int) error {
		switch i % 3 {
		case 0:
			return rpcClient.Set(name, "n", i)
		case 1:
			_, err := getWithin(ctx, name, "n")
			return err
		default:
			return rpcClient.Sync(ctx)
		}
	})

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func getWithin(ctx context.Context, name, path string) (any, error) {
	return rpcClient.Get(ctx, name, store.ObserveOptions{Path: path, Timeout: 10 * time.Second})
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test record names and functions to work with them
func getNames(prefix string) (func(int) string, func(func(string))) {
	names := make([]string, perfNameSpread)
	for i := 0; i < perfNameSpread; i++ {
		names[i] = fmt.Sprintf("%s-%s-%d", perfNamePrefix, prefix, i)
	}

	// Function to get a name by index (with wraparound)
	getName := func(i int) string {
		return names[i%perfNameSpread]
	}

	// Function to iterate over all names
	iterateNames := func(fn func(string)) {
		for _, name := range names {
			fn(name)
		}
	}

	return getName, iterateNames
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Serializer", "Transport", "SendQueue",
		"Threads", "LargeValueSizeKB", "Records",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Transport.Endpoint,
			config.Transport.Serializer,
			config.Transport.Transport,
			strconv.Itoa(config.SendQueueSize),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfNameSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

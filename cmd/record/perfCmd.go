package record

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dSlab/cmd/util"
	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dSlab servers",
		Long:    "Runs benchmarks against a slab. Records cannot be deleted, every run leaves its test records on the slab.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfRecordSpread     = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. create,set)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the string value for the set-large test should be (in KB)"))
	key = "records"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different records to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfRecordSpread = max(viper.GetInt("records"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is a single perf test. prepare runs before the timer starts and
// returns the operation executed for every iteration.
type benchmark struct {
	name    string
	prepare func() (op func(i int) error, err error)
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dSlab servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	small := map[string]record.Value{"test": record.String("test")}
	large := map[string]record.Value{"test": record.String(strings.Repeat("x", perfLargeValueSizeKB*1024))}

	benchmarks := []benchmark{
		{"create", func() (func(int) error, error) {
			return func(int) error {
				_, err := rpcSlab.Create(small)
				return err
			}, nil
		}},
		{"set", func() (func(int) error, error) {
			ids, err := createRecords()
			return func(i int) error {
				_, err := rpcSlab.Set(ids[i%len(ids)], small)
				return err
			}, err
		}},
		{"set-large", func() (func(int) error, error) {
			ids, err := createRecords()
			return func(i int) error {
				_, err := rpcSlab.Set(ids[i%len(ids)], large)
				return err
			}, err
		}},
		{"get", func() (func(int) error, error) {
			ids, err := createRecords()
			return func(i int) error {
				_, err := rpcSlab.Value(ids[i%len(ids)])
				return err
			}, err
		}},
		{"apply-duplicate", func() (func(int) error, error) {
			ids, err := createRecords()
			if err != nil {
				return nil, err
			}
			memos := make([]record.Memo, len(ids))
			for i, id := range ids {
				if memos[i], err = rpcSlab.Set(id, small); err != nil {
					return nil, err
				}
			}
			return func(i int) error {
				_, err := rpcSlab.ApplyMemo(memos[i%len(memos)])
				return err
			}, nil
		}},
		{"status", func() (func(int) error, error) {
			ids, err := createRecords()
			return func(i int) error {
				_, err := rpcSlab.Status(ids[i%len(ids)])
				return err
			}, err
		}},
		{"mixed", func() (func(int) error, error) {
			ids, err := createRecords()
			return func(i int) error {
				id := ids[i%len(ids)]
				var err error
				switch i % 4 {
				case 0:
					_, err = rpcSlab.Set(id, small)
				case 1:
					_, err = rpcSlab.Value(id)
				case 2:
					_, err = rpcSlab.Status(id)
				case 3:
					_, err = rpcSlab.DesiredReplicas(id)
				}
				return err
			}, err
		}},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, testing.BenchmarkResult{})
			continue
		}

		op, err := bm.prepare()
		if err != nil {
			log.Printf("(%s) - error preparing records: %v\n", bm.name, err)
			continue
		}

		result := testing.Benchmark(func(b *testing.B) {
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := op(counter); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// createRecords creates the test records of one benchmark
func createRecords() ([]ident.RecordID, error) {
	ids := make([]ident.RecordID, perfRecordSpread)
	for i := range ids {
		id, err := rpcSlab.Create(map[string]record.Value{"perf": record.Number(float64(i))})
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Records",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
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
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfRecordSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

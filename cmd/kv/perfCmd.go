package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for txKV databases",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 32
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             []string
)

// perfTest is one benchmark. setup prepares the keys, op runs one operation on key i.
type perfTest struct {
	name  string
	setup bool
	op    func(ctx context.Context, keys *perfKeys, i int) error
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 32, util.WrapString("How large the value for the set-large test should be (in KB, max 64)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfLargeValueSizeKB*1024 > store.MaxValueSizeBytes {
		return fmt.Errorf("large-value-size must be at most %d KB", store.MaxValueSizeBytes/1024)
	}
	return nil
}

func perfTests() []perfTest {
	small := db.BytesValue([]byte("test"))
	large := db.BytesValue(make([]byte, perfLargeValueSizeKB*1024))
	one := db.U64Value(1)

	write := func(ctx context.Context, req store.AtomicWriteRequest) error {
		_, err := kvStore.AtomicWrite(ctx, kvDB, req)
		return err
	}
	set := func(v *db.Value) func(context.Context, *perfKeys, int) error {
		return func(ctx context.Context, keys *perfKeys, i int) error {
			return write(ctx, store.AtomicWriteRequest{Mutations: []store.MutationRequest{{Key: keys.get(i), Kind: "set", Value: v}}})
		}
	}
	get := func(ctx context.Context, keys *perfKeys, i int) error {
		_, err := kvStore.SnapshotRead(ctx, kvDB, []store.RangeRequest{{Start: keys.get(i), Limit: 1}}, db.ConsistencyStrong)
		return err
	}

	return []perfTest{
		{name: "set", op: set(&small)},
		{name: "set-large", op: set(&large)},
		{name: "get", setup: true, op: get},
		{name: "get-missing", op: get},
		{name: "list", setup: true, op: func(ctx context.Context, keys *perfKeys, _ int) error {
			_, err := kvStore.SnapshotRead(ctx, kvDB, []store.RangeRequest{{Prefix: keys.prefix, Limit: 10}}, db.ConsistencyStrong)
			return err
		}},
		{name: "sum", op: func(ctx context.Context, keys *perfKeys, i int) error {
			return write(ctx, store.AtomicWriteRequest{Mutations: []store.MutationRequest{{Key: keys.get(i), Kind: "sum", Value: &one}}})
		}},
		{name: "checked-set", op: func(ctx context.Context, keys *perfKeys, i int) error {
			// only the first write of each key passes the check
			return write(ctx, store.AtomicWriteRequest{
				Checks:    []store.CheckRequest{{Key: keys.get(i)}},
				Mutations: []store.MutationRequest{{Key: keys.get(i), Kind: "set", Value: &small}},
			})
		}},
		{name: "delete", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			return write(ctx, store.AtomicWriteRequest{Mutations: []store.MutationRequest{{Key: keys.get(i), Kind: "delete"}}})
		}},
		{name: "queue", op: func(ctx context.Context, _ *perfKeys, _ int) error {
			if err := write(ctx, store.AtomicWriteRequest{Enqueues: []store.EnqueueRequest{{Payload: []byte("test")}}}); err != nil {
				return err
			}
			msg, err := kvStore.DequeueNextMessage(ctx, kvDB)
			if err != nil || msg == nil {
				return err
			}
			return kvStore.FinishDequeuedMessage(ctx, msg.Handle, true)
		}},
		{name: "mixed", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			switch i % 4 {
			case 0:
				return set(&small)(ctx, keys, i)
			case 1, 2:
				return get(ctx, keys, i)
			default:
				return write(ctx, store.AtomicWriteRequest{Mutations: []store.MutationRequest{{Key: keys.get(i), Kind: "delete"}}})
			}
		}},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for txKV databases")
	fmt.Println()
	fmt.Println("Configuration:")
	if path := viper.GetString("db"); path != "" {
		fmt.Printf("  Database: %s\n", path)
	} else {
		fmt.Println(util.GetClientConfig().String())
	}
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	ctx := cmd.Context()
	results := make(map[string]testing.BenchmarkResult)

	for _, test := range perfTests() {
		if slices.Contains(perfSkip, test.name) {
			printResult(test.name, testing.BenchmarkResult{})
			continue
		}

		result := testing.Benchmark(func(b *testing.B) {
			keys := newPerfKeys(test.name)
			if test.setup {
				keys.fill(ctx)
			}
			b.Cleanup(func() { keys.clear(ctx) })

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(ctx, keys, counter); err != nil {
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
					counter++
				}
			})
		})

		results[test.name] = result
		printResult(test.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// perfKeys is the key set of one benchmark, all keys share a prefix
type perfKeys struct {
	prefix keycodec.Key
	keys   []keycodec.Key
}

func newPerfKeys(test string) *perfKeys {
	prefix := keycodec.Key{keycodec.String(perfKeyPrefix), keycodec.String(test)}
	keys := make([]keycodec.Key, perfKeySpread)
	for i := range keys {
		keys[i] = append(slices.Clone(prefix), keycodec.NewInt(int64(i)))
	}
	return &perfKeys{prefix: prefix, keys: keys}
}

func (k *perfKeys) get(i int) keycodec.Key {
	return k.keys[i%len(k.keys)]
}

func (k *perfKeys) fill(ctx context.Context) {
	value := db.BytesValue([]byte("test"))
	k.each(ctx, "set", &value)
}

func (k *perfKeys) clear(ctx context.Context) {
	k.each(ctx, "delete", nil)
}

func (k *perfKeys) each(ctx context.Context, kind string, value *db.Value) {
	for _, key := range k.keys {
		_, err := kvStore.AtomicWrite(ctx, kvDB, store.AtomicWriteRequest{
			Mutations: []store.MutationRequest{{Key: key, Kind: kind, Value: value}},
		})
		if err != nil {
			log.Printf("error preparing key %s: %v\n", key, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := max(float64(result.NsPerOp()), 1)
	opsPerSec := 1e9 / nsPerOp
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Database", "Endpoints", "ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	config := util.GetClientConfig()
	for test, result := range results {
		nsPerOp, opsPerSec, skipped := 0.0, 0.0, "true"
		if result.NsPerOp() != 0 {
			nsPerOp = max(float64(result.NsPerOp()), 1)
			opsPerSec = 1e9 / nsPerOp
			skipped = "false"
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			viper.GetString("db"),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}

// Command bucketctl creates, fills and queries metrigo buckets from the
// command line. Storage construction parameters come from a viper
// configuration file (or MTRG_* environment variables), resolved through
// the storage factory.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/metrigo/bucket"
	"github.com/hupe1980/metrigo/model"
	"github.com/hupe1980/metrigo/query"
	"github.com/hupe1980/metrigo/stats"
	"github.com/hupe1980/metrigo/storage"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "bucketctl",
		Short: "manage metrigo similarity-search buckets",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			viper.SetEnvPrefix("mtrg")
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			viper.AutomaticEnv()
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				return viper.ReadInConfig()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (yaml/toml/json)")

	cmd.AddCommand(createCmd(), addCmd(), queryCmd())
	return cmd
}

// openBucket builds the bucket from the resolved configuration.
func openBucket() (*bucket.Bucket, error) {
	factory := storage.NewFactory[model.Object]()

	kind := viper.GetString("storage.kind")
	if kind == "" {
		kind = "memory"
	}
	params := storage.Parameters(viper.GetStringMap("storage"))

	st, err := factory.Create(kind, params)
	if err != nil {
		return nil, fmt.Errorf("creating %s storage: %w", kind, err)
	}

	opts := bucket.DefaultOptions
	opts.Capacity = viper.GetUint64("bucket.capacity")
	opts.SoftCapacity = viper.GetUint64("bucket.soft_capacity")
	opts.LowOccupation = viper.GetUint64("bucket.low_occupation")
	if viper.GetString("bucket.unit") == "bytes" {
		opts.Unit = bucket.UnitBytes
	}
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Persistent storages may already hold records; rebuild the index
	// from them instead of starting empty.
	if _, ok := st.(storage.Enumerator[model.Object]); ok {
		return bucket.Attach(st, opts)
	}
	return bucket.New(st, opts), nil
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "initialize the configured storage",
		RunE: func(*cobra.Command, []string) error {
			b, err := openBucket()
			if err != nil {
				return err
			}
			fmt.Printf("bucket %d ready (capacity %d, soft %d)\n",
				b.ID(), b.Capacity(), b.SoftCapacity())
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var (
		count       int
		dim         int
		seed        int64
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "add random vectors to the bucket",
		RunE: func(*cobra.Command, []string) error {
			b, err := openBucket()
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(seed))
			objs := make([]model.Object, 0, count)
			for i := 0; i < count; i++ {
				values := make([]float32, dim)
				for j := range values {
					values[j] = rng.Float32()
				}
				objs = append(objs, model.NewVector(fmt.Sprintf("obj-%06d", i), values))
			}
			if err := b.AddObjects(objs); err != nil {
				return err
			}

			fmt.Printf("added %d objects, occupation %d\n", count, b.Occupation())
			if showMetrics {
				stats.WritePrometheus(os.Stdout)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1000, "number of vectors to add")
	cmd.Flags().IntVar(&dim, "dim", 16, "vector dimension")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print collected metrics")
	return cmd
}

func queryCmd() *cobra.Command {
	var (
		k           int
		target      string
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "run a k-nearest-neighbor query",
		RunE: func(*cobra.Command, []string) error {
			b, err := openBucket()
			if err != nil {
				return err
			}

			values, err := parseVector(target)
			if err != nil {
				return err
			}

			q := query.NewKNN(model.NewVector("query", values), k)
			if err := b.ProcessQuery(q); err != nil {
				return err
			}

			for _, r := range q.Result.Items() {
				fmt.Printf("%s\t%f\n", r.Object.ID(), r.Distance)
			}
			if showMetrics {
				stats.WritePrometheus(os.Stdout)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&k, "k", 10, "number of neighbors")
	cmd.Flags().StringVar(&target, "target", "", "comma-separated query vector")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print collected metrics")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	values := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		values = append(values, float32(f))
	}
	return values, nil
}

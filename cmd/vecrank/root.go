package main

import (
	"fmt"
	"io"
	"log"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecrank/pkg/config"
	"github.com/orneryd/vecrank/pkg/embed"
	"github.com/orneryd/vecrank/pkg/gpu"
	"github.com/orneryd/vecrank/pkg/metrics"
	"github.com/orneryd/vecrank/pkg/search"
	"github.com/orneryd/vecrank/pkg/similarity"
	"github.com/orneryd/vecrank/pkg/storage"
)

// app holds state shared by the subcommands.
type app struct {
	cfgFile   string
	quiet     bool
	storeFlag string
	pathFlag  string
	gpuFlag   string

	cfg     *config.Config
	logger  *log.Logger
	metrics metrics.Collector

	// newEmbedder builds the embedder; tests replace it.
	newEmbedder func(*config.Config) (embed.Embedder, error)
}

func newRootCommand() *cobra.Command {
	a := &app{
		metrics:     metrics.Noop{},
		newEmbedder: defaultEmbedder,
	}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vecrank",
		Short: "Rank text documents by embedding similarity",
		Long: `vecrank embeds a directory of text files, stores the embeddings and ranks
them against a query by cosine similarity.

Scores are computed on the CPU or, with --backend accelerator, on a CUDA or
OpenCL device. An accelerator that cannot start fails the query instead of
silently falling back to the CPU.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress log output")
	rootCmd.PersistentFlags().StringVar(&a.storeFlag, "store", "", "store driver (badger, memory, sqlite, redis)")
	rootCmd.PersistentFlags().StringVar(&a.pathFlag, "store-path", "", "badger directory, sqlite file or redis URL")
	rootCmd.PersistentFlags().StringVar(&a.gpuFlag, "gpu", "", "accelerator driver (auto, cuda, opencl, emulator, none)")

	rootCmd.AddCommand(a.indexCommand())
	rootCmd.AddCommand(a.queryCommand())
	rootCmd.AddCommand(a.parityCommand())
	rootCmd.AddCommand(a.devicesCommand())
	rootCmd.AddCommand(a.watchCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// setup loads configuration and applies the global flags.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	if a.storeFlag != "" {
		cfg.Store.Driver = a.storeFlag
	}
	if a.pathFlag != "" {
		if cfg.Store.Driver == storage.DriverRedis {
			cfg.Store.RedisURL = a.pathFlag
		} else {
			cfg.Store.Path = a.pathFlag
		}
	}
	if a.gpuFlag != "" {
		cfg.GPU.Backend = a.gpuFlag
		cfg.GPU.Enabled = a.gpuFlag != string(gpu.BackendNone)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.quiet {
		a.logger = log.New(io.Discard, "", 0)
	} else {
		a.logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	return nil
}

func defaultEmbedder(cfg *config.Config) (embed.Embedder, error) {
	e, err := embed.NewEmbedder(cfg.Embed())
	if err != nil {
		return nil, err
	}
	if cfg.Embedder.CacheSize > 0 {
		return embed.NewCachedEmbedder(e, cfg.Embedder.CacheSize, cfg.Embedder.CacheTTL), nil
	}
	return e, nil
}

func (a *app) openStore() (storage.Store, error) {
	return storage.Open(a.cfg.Storage(a.logger))
}

func (a *app) newAccelerator() (*gpu.Accelerator, error) {
	gcfg, err := a.cfg.Accelerator()
	if err != nil {
		return nil, err
	}
	return gpu.NewAccelerator(gcfg, gpu.WithLogger(a.logger), gpu.WithMetrics(a.metrics)), nil
}

// service wires store, embedder, accelerator and engine. The returned
// cleanup releases them.
func (a *app) service() (*search.Service, func(), error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	embedder, err := a.newEmbedder(a.cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	accel, err := a.newAccelerator()
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	engine := similarity.NewEngine(
		similarity.WithAccelerator(accel),
		similarity.WithWorkers(a.cfg.Engine.Workers),
		similarity.WithLogger(a.logger),
		similarity.WithMetrics(a.metrics),
	)
	svc := search.NewService(store, embedder, engine,
		search.WithLogger(a.logger),
		search.WithMetrics(a.metrics),
		search.WithBatchSize(a.cfg.Corpus.BatchSize),
	)
	cleanup := func() {
		accel.Release()
		if err := store.Close(); err != nil {
			a.logger.Printf("[STORE] ⚠️ close failed: %v", err)
		}
	}
	return svc, cleanup, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			displayVersion := version
			displayCommit := commit
			displayDate := date
			if version == "dev" || version == "" {
				displayVersion = "development"
			}
			if commit == "none" || commit == "" {
				displayCommit = "local-build"
			}
			if date == "unknown" || date == "" {
				displayDate = "local-build"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vecrank %s (%s) built on %s\n", displayVersion, displayCommit, displayDate)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/juspay/hippocampus/internal/config"
	"github.com/juspay/hippocampus/internal/server"
	"github.com/juspay/hippocampus/pkg/engine"
	"github.com/juspay/hippocampus/pkg/hippocampus"
	"github.com/juspay/hippocampus/pkg/store"
)

// Set via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hippocampus",
	Short: "Self-hosted memory engine for AI agents",
	Long: `hippocampus stores agent memories as engrams, links them with
synapses, tracks facts over time as chronicles, and retrieves them with
hybrid vector + keyword search.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := cfg.BuildLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		memory, err := hippocampus.Open(ctx, cfg, hippocampus.WithLogger(logger))
		if err != nil {
			return err
		}

		srv := server.New(memory, cfg, logger.Named("server"))
		runErr := srv.Run(ctx)
		if err := memory.Close(); err != nil {
			logger.Error("close failed", zap.Error(err))
		}
		return runErr
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		memory, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer memory.Close()
		fmt.Printf("Schema ready (%s driver)\n", cfg.Store.Driver)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <content...>",
	Short: "Ingest a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		strand, _ := cmd.Flags().GetString("strand")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		memory, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer memory.Close()

		engrams, err := memory.Add(cmd.Context(), engine.AddInput{
			OwnerID: owner,
			Content: strings.Join(args, " "),
			Strand:  store.Strand(strand),
			Tags:    tags,
		})
		if err != nil {
			return err
		}
		if len(engrams) == 0 {
			fmt.Println("Nothing extracted")
			return nil
		}
		for _, e := range engrams {
			fmt.Printf("%s  [%s]  %s\n", e.ID, e.Strand, e.Content)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Retrieve memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		memory, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer memory.Close()

		result, err := memory.Search(cmd.Context(), engine.SearchInput{
			OwnerID:  owner,
			Query:    strings.Join(args, " "),
			Limit:    limit,
			MinScore: minScore,
		})
		if err != nil {
			return err
		}

		if len(result.Hits) == 0 && len(result.Chronicles) == 0 {
			fmt.Println("No matches")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tSTRAND\tSIGNAL\tCONTENT")
		for _, hit := range result.Hits {
			fmt.Fprintf(w, "%.3f\t%s\t%.2f\t%s\n",
				hit.FinalScore, hit.Engram.Strand, hit.Engram.Signal, hit.Engram.Content)
		}
		w.Flush()
		for _, m := range result.Chronicles {
			fmt.Printf("fact: %s.%s = %s\n",
				m.Chronicle.Entity, m.Chronicle.Attribute, m.Chronicle.Value)
		}
		fmt.Printf("%d hits in %dms\n", result.Total, result.TookMS)
		return nil
	},
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one decay cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		memory, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer memory.Close()

		report, err := memory.RunDecay(cmd.Context(), owner)
		if err != nil {
			return err
		}
		fmt.Printf("Decayed %d engrams\n", report.Affected)
		for _, strand := range store.Strands {
			if n := report.PerStrand[strand]; n > 0 {
				fmt.Printf("  %s: %d\n", strand, n)
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		memory, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer memory.Close()

		stats, err := memory.Stats(cmd.Context(), owner)
		if err != nil {
			return err
		}
		fmt.Printf("Engrams:     %d (avg signal %.2f)\n", stats.Engrams, stats.AvgSignal)
		for _, strand := range store.Strands {
			if n := stats.EngramsByStrand[strand]; n > 0 {
				fmt.Printf("  %s: %d\n", strand, n)
			}
		}
		fmt.Printf("Synapses:    %d\n", stats.Synapses)
		fmt.Printf("Chronicles:  %d (%d open)\n", stats.Chronicles, stats.OpenChronicles)
		fmt.Printf("Nexuses:     %d\n", stats.Nexuses)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hippocampus %s (%s)\n", version, commit)
	},
}

// loadConfig reads the optional .env, then the config file when one was
// given, then the environment overrides.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	return config.Load(configPath)
}

func openMemory(ctx context.Context, cfg config.Config) (*hippocampus.Memory, error) {
	logger, err := cfg.BuildLogger()
	if err != nil {
		return nil, err
	}
	return hippocampus.Open(ctx, cfg, hippocampus.WithLogger(logger))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")

	addCmd.Flags().String("owner", "", "Owner ID")
	addCmd.Flags().String("strand", "", "Force a strand (factual, experiential, procedural, preferential, relational, general)")
	addCmd.Flags().StringSlice("tags", nil, "Tags to attach")
	addCmd.MarkFlagRequired("owner")

	searchCmd.Flags().String("owner", "", "Owner ID")
	searchCmd.Flags().Int("limit", 0, "Max hits (0 for default)")
	searchCmd.Flags().Float64("min-score", 0, "Minimum vector score")
	searchCmd.MarkFlagRequired("owner")

	decayCmd.Flags().String("owner", "", "Owner ID")
	decayCmd.MarkFlagRequired("owner")

	statsCmd.Flags().String("owner", "", "Owner ID")
	statsCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(
		serveCmd,
		initCmd,
		addCmd,
		searchCmd,
		decayCmd,
		statsCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

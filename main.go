package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/adaptengine/internal/config"
	"github.com/example/adaptengine/internal/database"
	"github.com/example/adaptengine/internal/engine"
	"github.com/example/adaptengine/internal/excel"
	"github.com/example/adaptengine/internal/scheduler"
	"github.com/example/adaptengine/internal/tutor"
)

var configPath string

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adaptengine",
	Short: "Adaptive learning engine",
	Long: `adaptengine tracks learner mastery of learning objectives with
Bayesian Knowledge Tracing, recommends the next item to practice and
re-estimates item parameters from recorded attempts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml)")

	nextCmd.Flags().IntVar(&nextModule, "module", engine.AnyModule, "restrict to a module (-1 for any)")
	nextCmd.Flags().BoolVar(&nextStop, "stop-on-mastery", false, "recommend nothing once every objective is mastered")
	nextCmd.Flags().BoolVar(&nextExplain, "explain", false, "list every candidate with its scores")
	masteryCmd.Flags().BoolVar(&masteryStored, "stored", false, "show the last checkpoint instead of the live state")
	recordCmd.Flags().StringVar(&recordAt, "at", "", "attempt time in RFC3339 (default: now)")

	rootCmd.AddCommand(importCmd, recordCmd, nextCmd, predictCmd, masteryCmd, historyCmd, calibrateCmd, serveCmd)
}

// connect loads the configuration and opens the database
func connect() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := database.Connect(cfg.Database.Type, cfg.Database.DSN); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTutor connects and builds the tutor from the stored catalog
func loadTutor(ctx context.Context) (*tutor.Tutor, error) {
	cfg, err := connect()
	if err != nil {
		return nil, err
	}
	return tutor.Load(ctx, cfg)
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import items, objectives and prerequisites from .xlsx or .csv",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := connect(); err != nil {
			return err
		}
		defer database.Close()

		importConfig := excel.DefaultImportConfig()
		importConfig.FilePath = args[0]
		result, err := excel.ImportCatalog(cmd.Context(), importConfig)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d rows: %d items created, %d updated, %d tags, %d prerequisites, %d new objectives, %d skipped\n",
			result.TotalProcessed, result.Created, result.Updated, result.Tags, result.Prerequisites,
			result.ObjectivesCreated, result.Skipped)
		for _, e := range result.Errors {
			fmt.Println("  " + e)
		}
		return nil
	},
}

var recordAt string

var recordCmd = &cobra.Command{
	Use:   "record <learner> <item> <score>",
	Short: "Record a scored attempt",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[2], err)
		}
		at := time.Now().UTC()
		if recordAt != "" {
			if at, err = time.Parse(time.RFC3339, recordAt); err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
		}

		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		mastery, err := t.RecordAttempt(cmd.Context(), args[0], args[1], score, at)
		if err != nil {
			return err
		}
		printMastery(mastery)
		return nil
	},
}

var (
	nextModule  int
	nextStop    bool
	nextExplain bool
)

var nextCmd = &cobra.Command{
	Use:   "next <learner>",
	Short: "Recommend the next item for a learner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		if nextExplain {
			ranked, err := t.RankItems(cmd.Context(), args[0], nextModule)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %8s %8s %8s %8s %8s\n", "item", "score", "ready", "demand", "approp", "contin")
			for _, r := range ranked {
				fmt.Printf("%-16s %8.3f %8.3f %8.3f %8.3f %8.3f\n",
					r.ItemID, r.Score, r.Readiness, r.Demand, r.Appropriateness, r.Continuity)
			}
		}

		item, ok, err := t.NextItem(cmd.Context(), args[0], nextModule, nextStop)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No item to recommend")
			return nil
		}
		fmt.Println(item)
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <learner> <item>",
	Short: "Predict the probability of a correct answer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		p, err := t.Predict(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%.4f\n", p)
		return nil
	},
}

var masteryStored bool

var masteryCmd = &cobra.Command{
	Use:   "mastery <learner>",
	Short: "Show a learner's mastery per objective",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		if !masteryStored {
			printMastery(t.Mastery(args[0]))
			return nil
		}
		stored, err := t.StoredMastery(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(stored) == 0 {
			fmt.Println("No checkpoint stored")
			return nil
		}
		printMastery(stored)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <learner>",
	Short: "List a learner's recorded attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		attempts, err := t.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, a := range attempts {
			fmt.Printf("%s  %-16s %.2f\n", a.AttemptedAt.Format(time.RFC3339), a.ItemID, a.Score)
		}
		return nil
	},
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Re-estimate item parameters from all recorded attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTutor(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		run, err := t.Calibrate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Calibration %s: version %d, %d learners, %d degenerate guess, %d degenerate slip\n",
			run.ID, run.Version, run.Learners, run.DegenerateGuess, run.DegenerateSlip)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled calibration and checkpoints until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Channel for OS signals
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := connect()
		if err != nil {
			return err
		}
		defer database.Close()

		t, err := tutor.Load(ctx, cfg)
		if err != nil {
			return err
		}

		s := scheduler.New(t, scheduler.Config{
			CalibrationInterval: cfg.Scheduler.CalibrationInterval,
			CheckpointInterval:  cfg.Scheduler.CheckpointInterval,
		})
		if err := s.Start(ctx); err != nil {
			return err
		}
		log.Printf("Scheduler started with %d jobs. Press Ctrl+C to stop.", s.Jobs())

		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
		s.Stop()

		// Persist what the engine holds before exiting
		if err := t.Checkpoint(context.Background()); err != nil {
			log.Printf("Error during shutdown checkpoint: %v", err)
		}
		log.Println("Stopped successfully")
		return nil
	},
}

func printMastery(mastery []tutor.ObjectiveMastery) {
	for _, m := range mastery {
		fmt.Printf("%-24s %.4f  (exposure %.2f)\n", m.Objective, m.Probability, m.Exposure)
	}
}

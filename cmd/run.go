package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/config"
	"github.com/notargets/ResGather/driver"
)

var ranks int // Number of in-process ranks, overrides partition.ranks

// runCmd runs every rank as a goroutine of this process
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all ranks in process",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if ranks > 0 {
			cfg.Partition.Ranks = ranks
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, cancel := runContext(cfg)
		defer cancel()

		logrus.Infof("Starting gather with %d ranks, I/O rank %d, %d report steps",
			cfg.Partition.Ranks, cfg.IORank, cfg.ReportSteps)
		report, err := runLocal(ctx, cfg)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		report.Log()
		logrus.Info("Gather complete.")
	},
}

func runLocal(ctx context.Context, cfg *config.Config) (*driver.Report, error) {
	var (
		mu     sync.Mutex
		result *driver.Report
	)
	err := comm.RunLocal(ctx, cfg.Partition.Ranks, func(ctx context.Context, c comm.Communicator) error {
		r, err := driver.Run(ctx, cfg, c)
		if err != nil {
			return err
		}
		if r != nil {
			mu.Lock()
			result = r
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("I/O rank %d returned no report", cfg.IORank)
	}
	return result, nil
}

func init() {
	runCmd.Flags().IntVar(&ranks, "ranks", 0, "Number of ranks (default from config)")
	rootCmd.AddCommand(runCmd)
}

package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/config"
	"github.com/notargets/ResGather/driver"
)

var (
	rank  int    // Rank of this process
	runID string // Run token, overrides transport.run_id
)

// rankCmd runs one rank per OS process over the websocket transport. The
// I/O rank listens on transport.address, the others dial it.
var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Run one rank of a multi-process gather",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		cfg.Transport.Kind = "websocket"
		if runID != "" {
			cfg.Transport.RunID = runID
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, cancel := runContext(cfg)
		defer cancel()

		report, err := runRank(ctx, cfg, rank)
		if err != nil {
			logrus.Fatalf("rank %d: %v", rank, err)
		}
		if report != nil {
			report.Log()
			logrus.Info("Gather complete.")
		}
	},
}

// connect joins the websocket network as rank
func connect(ctx context.Context, cfg *config.Config, rank int) (comm.Communicator, error) {
	id, err := cfg.RunID()
	if err != nil {
		return nil, err
	}
	wsCfg := comm.WebSocketConfig{
		Address:   cfg.Transport.Address,
		Path:      cfg.Transport.Path,
		RunID:     id,
		Rank:      rank,
		Size:      cfg.Partition.Ranks,
		Hub:       cfg.IORank,
		DialRetry: cfg.Transport.DialRetry,
	}
	if rank != cfg.IORank {
		return comm.DialWebSocket(ctx, wsCfg)
	}
	hub, err := comm.ListenWebSocket(wsCfg)
	if err != nil {
		return nil, err
	}
	logrus.Infof("I/O rank listening on %s for %d ranks", hub.Addr(), cfg.Partition.Ranks-1)
	return hub.Accept(ctx)
}

func runRank(ctx context.Context, cfg *config.Config, rank int) (*driver.Report, error) {
	c, err := connect(ctx, cfg, rank)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return driver.Run(ctx, cfg, c)
}

func init() {
	rankCmd.Flags().IntVar(&rank, "rank", 0, "Rank of this process")
	rankCmd.Flags().StringVar(&runID, "run-id", "", "Run token shared by all ranks")
	rootCmd.AddCommand(rankCmd)
}

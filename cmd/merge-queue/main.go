package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/healthserver"
	"github.com/mattermost/merge-queue-orchestrator/internal/orchestrator"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "merge-queue",
		Short: "Orchestrate sequential merges of approved pull requests from a tracking issue",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an optional YAML config overlay")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one merge queue cycle for the originator issue configured via ORIGINATOR_ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := runCycle(); code != 0 {
				return fmt.Errorf("merge queue cycle exited with code %d", code)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("merge-queue dev")
		},
	}
}

func runCycle() int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	log := newLogger(cfg)

	health := healthserver.New(cfg.HealthAddr, log)
	health.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := health.Stop(ctx); err != nil {
			log.WithError(err).Warn("failed to shut down health server cleanly")
		}
	}()

	client, err := platform.NewClient(cfg.GitHubToken, cfg.Repository)
	if err != nil {
		log.WithError(err).Error("failed to build platform client")
		return 1
	}
	client = platform.WithOutboundRateLimit(client, cfg.RateLimitMaxRequests, cfg.RateLimitWindow())

	o := orchestrator.New(client, cfg, log)
	return o.Run(context.Background())
}

func newLogger(cfg *config.Config) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l.WithFields(logrus.Fields{
		"repository":    cfg.Repository,
		"originator_id": cfg.OriginatorID,
	})
}

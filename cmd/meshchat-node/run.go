package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meshchat/internal/buffer"
	"meshchat/internal/config"
	"meshchat/internal/debughttp"
	"meshchat/internal/logging"
	"meshchat/internal/mesh"
	"meshchat/internal/metrics"
)

var (
	runConfigPath string
	runAgent      string
	runPort       int
	runHost       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the mesh and print inbound messages until interrupted",
	RunE:  runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file (yaml)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "agent name (overrides config)")
	runCmd.Flags().IntVar(&runPort, "port", 0, "base TCP port (overrides config)")
	runCmd.Flags().StringVar(&runHost, "host", "", "bind host (overrides config)")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if runAgent != "" {
		cfg.AgentName = runAgent
	}
	if runPort != 0 {
		cfg.Mesh.Port = runPort
	}
	if runHost != "" {
		cfg.Mesh.Host = runHost
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	buf := buffer.New(cfg.Mesh.QueueCapacity)
	buf.OnAdd(func(e buffer.Entry) {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", e.Source, e.Text)
	})

	node, err := mesh.NewNode(cfg.AgentName, cfg.Mesh, buf, log, m)
	if err != nil {
		return err
	}
	if err := node.Initialize(); err != nil {
		// The mesh degrades to client-only; the process stays up.
		log.Warn("listener unavailable, continuing client-only", zap.Error(err))
	}
	defer node.Cleanup()

	if cfg.MetricsAddr != "" {
		addr, err := debughttp.Start(cfg.MetricsAddr, m.Handler())
		if err != nil {
			log.Warn("metrics endpoint unavailable", zap.Error(err))
		} else {
			log.Info("metrics endpoint up", zap.String("addr", addr))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("node up",
		zap.String("agent", cfg.AgentName),
		zap.Int("port", cfg.Mesh.Port),
		zap.Bool("available", node.IsAvailable()))
	node.Run(ctx)
	log.Info("shutting down")
	return nil
}

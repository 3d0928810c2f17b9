package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meshchat/internal/buffer"
	"meshchat/internal/logging"
	"meshchat/internal/mesh"
	"meshchat/internal/metrics"
)

var (
	sendText string
	sendWait time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Join the mesh briefly and broadcast one message",
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendText, "text", "t", "", "message text (required)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 5*time.Second, "how long to wait for a link before giving up")
	sendCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file (yaml)")
	sendCmd.Flags().StringVar(&runAgent, "agent", "", "agent name (overrides config)")
	sendCmd.Flags().IntVar(&runPort, "port", 0, "base TCP port (overrides config)")
	sendCmd.Flags().StringVar(&runHost, "host", "", "bind host (overrides config)")
}

// runSend starts an ephemeral node, waits for discovery to produce at least
// one link, and exercises the synchronous broadcast bridge from outside the
// node's loop.
func runSend(cmd *cobra.Command, args []string) error {
	if sendText == "" {
		return fmt.Errorf("missing --text")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	node, err := mesh.NewNode(cfg.AgentName, cfg.Mesh, buffer.New(cfg.Mesh.QueueCapacity), logging.Nop(), metrics.New())
	if err != nil {
		return err
	}
	// The resident node usually owns the port; client-only is the norm here.
	_ = node.Initialize()
	defer node.Cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go node.Run(ctx)

	deadline := time.Now().Add(sendWait)
	for node.Links() == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("no peers within %s", sendWait)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !node.Broadcast(sendText) {
		return fmt.Errorf("broadcast failed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent to %d link(s)\n", node.Links())
	return nil
}

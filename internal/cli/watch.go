package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentfloor/agentfloor/internal/config"
	"github.com/agentfloor/agentfloor/internal/monitor"
	"github.com/agentfloor/agentfloor/internal/sessions"
	"github.com/agentfloor/agentfloor/internal/syncer"
)

var watchQuiet bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor local agent sessions and sync them to the server",
	Long: `Watch discovers active agent session logs under the log root,
classifies each session's current activity, and renders the set to the
terminal. With AGENTFLOOR_SERVER_URL and AGENTFLOOR_API_KEY set, the set is
also mirrored to the shared server.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Suppress the terminal session table")
}

func runWatch(cmd *cobra.Command, args []string) error {
	clientCfg := config.LoadClient()
	if err := clientCfg.Validate(); err != nil {
		return err
	}

	root, err := sessions.LogRoot()
	if err != nil {
		return fmt.Errorf("resolve log root: %w", err)
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("log root %s: %w", root, err)
	}

	var renderer monitor.Renderer
	if !watchQuiet {
		renderer = NewTableRenderer(os.Stdout)
	}

	var sync monitor.Syncer
	if clientCfg.SyncEnabled() {
		sync = syncer.New(syncer.NewClient(clientCfg.ServerURL, clientCfg.APIKey))
		log.Printf("[watch] syncing to %s", clientCfg.ServerURL)
	} else {
		log.Printf("[watch] running local-only (no server configured)")
	}

	mon := monitor.New(root, monitor.DefaultTiming(), sessions.NewProcProber(), renderer, sync)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	defer mon.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("[watch] shutting down")
	return nil
}

// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmnode"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
	"github.com/sileht/redpanda/pkg/util/log"
	"github.com/sileht/redpanda/pkg/util/retry"
	"github.com/sileht/redpanda/pkg/util/stop"
)

var startNodeConfig nodeConfig

var startCmd = &cobra.Command{
	Use: "start",
	Short: "start a data-migration reconciliation node",
	Long: `
Start a single node of the data-migration reconciliation cluster: it serves
check_ntp_states for its own local replicas, and, while configured as
coordinator, reconciles every migration against the topics and nodes it has
been told about.
`,
	RunE: runStart,
}

func init() {
	bindStartFlags(startCmd.Flags(), &startNodeConfig)
}

// toDomainConfig resolves the flag-backed nodeConfig into a dmnode.Config,
// parsing --peer entries and validating the retry schedule.
func (c *nodeConfig) toDomainConfig() (dmnode.Config, error) {
	peers := make(map[datamigrations.NodeID]string, len(c.peerAddrs))
	for _, raw := range c.peerAddrs {
		id, addr, err := parsePeer(raw)
		if err != nil {
			return dmnode.Config{}, err
		}
		peers[id] = addr
	}

	if c.retryInitialBackoff <= 0 || c.retryMaxBackoff <= 0 || c.retryMultiplier <= 1 {
		return dmnode.Config{}, errors.Newf(
			"invalid retry schedule: initial=%s max=%s multiplier=%v",
			c.retryInitialBackoff, c.retryMaxBackoff, c.retryMultiplier)
	}

	return dmnode.Config{
		Self: datamigrations.NodeID(c.nodeID),
		ShardCount: c.shardCount,
		ListenAddr: c.listenAddr,
		MetricsAddr: c.metricsAddr,
		Peers: peers,
		IsCoordinator: c.isCoordinator,
		RetryOptions: retry.Options{
			InitialBackoff: c.retryInitialBackoff,
			MaxBackoff: c.retryMaxBackoff,
			Multiplier: c.retryMultiplier,
			RandomizationFactor: 0.15,
		},
	}, nil
}

func parsePeer(raw string) (datamigrations.NodeID, string, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return 0, "", errors.Newf("--peer %q is not of the form node_id=host:port", raw)
	}
	id, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, "", errors.Wrapf(err, "--peer %q: invalid node id", raw)
	}
	return datamigrations.NodeID(id), parts[1], nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := startNodeConfig.toDomainConfig()
	if err != nil {
		return err
	}

	stopper := stop.New()
	node := dmnode.New(cfg, dmworker.NoopActionFactory(), stopper)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return errors.Wrapf(err, "starting node %d", cfg.Self)
	}
	log.Migrations.Infof(ctx, "node %d listening on %s (%d shards, coordinator=%v)",
		cfg.Self, cfg.ListenAddr, cfg.ShardCount, cfg.IsCoordinator)

	<-ctx.Done()
	log.Migrations.Infof(context.Background(), "node %d shutting down", cfg.Self)
	node.Stop(context.Background())
	stopper.Stop(context.Background())
	return nil
}

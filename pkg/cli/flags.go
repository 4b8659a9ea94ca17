// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"time"

	"github.com/spf13/pflag"
)

// nodeConfig is the flag-backed configuration for the start command,
// resolved by bindStartFlags and validated by nodeConfig.toDomainConfig.
type nodeConfig struct {
	nodeID int32
	shardCount int
	listenAddr string
	metricsAddr string
	peerAddrs []string
	isCoordinator bool

	retryInitialBackoff time.Duration
	retryMaxBackoff time.Duration
	retryMultiplier float64
}

// bindStartFlags registers every start flag on f, writing into cfg.
func bindStartFlags(f *pflag.FlagSet, cfg *nodeConfig) {
	f.Int32VarP(&cfg.nodeID, "node-id", "n", 1, "this node's id")
	f.IntVar(&cfg.shardCount, "shards", 1, "number of reconciliation shards to run in this process")
	f.StringVar(&cfg.listenAddr, "listen-addr", "127.0.0.1:0", "address to serve check_ntp_states on")
	f.StringVar(&cfg.metricsAddr, "metrics-addr", "", "address to serve /metrics on; disabled if empty")
	f.StringSliceVar(&cfg.peerAddrs, "peer", nil,
		"a peer node in node_id=host:port form; repeat for every other node in the cluster")
	f.BoolVar(&cfg.isCoordinator, "coordinator", false,
		"fix this node's cluster-leadership status to coordinator (stand-in for a real election)")

	f.DurationVar(&cfg.retryInitialBackoff, "retry-initial-backoff", 100*time.Millisecond,
		"initial per-node RPC retry backoff")
	f.DurationVar(&cfg.retryMaxBackoff, "retry-max-backoff", 5*time.Second,
		"maximum per-node RPC retry backoff")
	f.Float64Var(&cfg.retryMultiplier, "retry-multiplier", 2, "per-node RPC retry backoff multiplier")
}

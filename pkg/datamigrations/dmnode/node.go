// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmnode

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmbackend"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc"
	"github.com/sileht/redpanda/pkg/datamigrations/dmtable"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
	"github.com/sileht/redpanda/pkg/util/log"
	"github.com/sileht/redpanda/pkg/util/retry"
	"github.com/sileht/redpanda/pkg/util/stop"
)

// Config bundles the knobs pkg/cli resolves from flags into what Start
// needs to assemble a runnable node.
type Config struct {
	Self datamigrations.NodeID
	ShardCount int
	ListenAddr string
	// Peers maps every other node's id to a dialable address. Self must not
	// appear; the backend never issues a network RPC to itself.
	Peers map[datamigrations.NodeID]string
	// IsCoordinator fixes this node's StaticLeadership cluster-leadership
	// status; see StaticLeadership.
	IsCoordinator bool
	RetryOptions retry.Options
	// MetricsAddr, if non-empty, serves a Prometheus /metrics page for this
	// node's reconciliation metrics. Left unset, no metrics server runs.
	MetricsAddr string
}

// Node owns every component backing a single process: the migration table,
// the static topology/shard/leadership trio, one dmworker.Worker per shard,
// the reconciliation Backend, and the gRPC client/server pair.
type Node struct {
	cfg Config
	stopper *stop.Stopper

	Table *dmtable.InMemory
	Topology *StaticTopology
	Shards *StaticShards
	Leadership *StaticLeadership
	Workers map[datamigrations.ShardID]*dmworker.Worker
	Backend *dmbackend.Backend
	Dialer *dmrpc.GRPCDialer
	Metrics *dmbackend.Metrics
	registry *prometheus.Registry

	grpcServer *grpc.Server
	listener net.Listener
	metricsServer *http.Server
}

// New assembles a Node from cfg. factory resolves the PartitionAction run
// by every shard's Worker; it is the seam a production binary plugs its
// real per-partition data-movement logic into.
func New(cfg Config, factory dmworker.PartitionActionFactory, stopper *stop.Stopper) *Node {
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}

	topology := NewStaticTopology()
	shards := NewStaticShards(cfg.Self, int32(cfg.ShardCount), topology)
	leadership := NewStaticLeadership(cfg.IsCoordinator)
	table := dmtable.New()

	registry := prometheus.NewRegistry()
	metrics := dmbackend.NewMetrics()
	metrics.MustRegister(registry)

	workers := make(map[datamigrations.ShardID]*dmworker.Worker, cfg.ShardCount)
	for i := 0; i < cfg.ShardCount; i++ {
		shard := datamigrations.ShardID(i)
		workers[shard] = dmworker.New(shard, factory, leadership, stopper, metrics)
	}

	dialer := dmrpc.NewGRPCDialer(func(node datamigrations.NodeID) (string, error) {
		addr, ok := cfg.Peers[node]
		if !ok {
			return "", errors.Newf("no peer address configured for node %d", node)
		}
		return addr, nil
	}, grpc.WithInsecure())

	backend := dmbackend.New(dmbackend.Config{
		Self: cfg.Self,
		Table: table,
		Topology: topology,
		Shards: shards,
		Leadership: leadership,
		Peers: dialer,
		Workers: NewLocalWorkers(workers),
		RetryOptions: cfg.RetryOptions,
		Metrics: metrics,
	}, stopper)

	return &Node{
		cfg: cfg,
		stopper: stopper,
		Table: table,
		Topology: topology,
		Shards: shards,
		Leadership: leadership,
		Workers: workers,
		Backend: backend,
		Dialer: dialer,
		Metrics: metrics,
		registry: registry,
	}
}

// Start binds the RPC listen address, starts serving check_ntp_states, and
// starts the reconciliation Backend's main loop.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", n.cfg.ListenAddr)
	}
	n.listener = lis

	server := dmrpc.NewServer(dmrpc.NewEndpoint(n.Backend), n.Backend)
	n.grpcServer = grpc.NewServer()
	dmrpc.RegisterServer(n.grpcServer, server)

	if err := n.stopper.RunAsyncTask(ctx, "dmnode: grpc serve", func(context.Context) {
		if err := n.grpcServer.Serve(lis); err != nil {
			log.Migrations.Warningf(ctx, "grpc server for node %d exited: %v", n.cfg.Self, err)
		}
	}); err != nil {
		lis.Close()
		return err
	}

	if n.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
		n.metricsServer = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux}
		if err := n.stopper.RunAsyncTask(ctx, "dmnode: metrics serve", func(context.Context) {
			if err := n.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Migrations.Warningf(ctx, "metrics server for node %d exited: %v", n.cfg.Self, err)
			}
		}); err != nil {
			return err
		}
	}

	return n.Backend.Start(ctx)
}

// Stop tears down the Backend's subscriptions, stops serving RPCs, and
// closes every cached outbound connection. The caller is still responsible
// for quiescing the Stopper passed to New and waiting for its tasks to
// drain.
func (n *Node) Stop(ctx context.Context) {
	n.Backend.Stop(ctx)
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	if n.metricsServer != nil {
		if err := n.metricsServer.Close(); err != nil {
			log.Migrations.Warningf(ctx, "closing metrics server for node %d: %v", n.cfg.Self, err)
		}
	}
	if err := n.Dialer.Close(); err != nil {
		log.Migrations.Warningf(ctx, "closing peer connections for node %d: %v", n.cfg.Self, err)
	}
}

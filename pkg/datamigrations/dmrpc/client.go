// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc/dmrpcpb"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// AddressResolver translates a NodeID into a dialable address.
type AddressResolver func(datamigrations.NodeID) (string, error)

// GRPCDialer is the production implementation of the peer-RPC channel
// dmbackend treats as opaque: it dials (and caches) a *grpc.ClientConn per
// node and issues check_ntp_states calls over it. dmbackend depends on it
// only through the narrower dmbackend.PeerClient interface it defines for
// itself; tests substitute an in-memory fake there instead of this type.
type GRPCDialer struct {
	resolve AddressResolver
	dialOpt []grpc.DialOption

	mu struct {
		syncutil.Mutex
		conns map[datamigrations.NodeID]*grpc.ClientConn
	}
}

// NewGRPCDialer constructs a GRPCDialer. dialOpt is forwarded to
// grpc.DialContext for every connection (e.g. transport credentials).
func NewGRPCDialer(resolve AddressResolver, dialOpt ...grpc.DialOption) *GRPCDialer {
	d := &GRPCDialer{resolve: resolve, dialOpt: dialOpt}
	d.mu.conns = make(map[datamigrations.NodeID]*grpc.ClientConn)
	return d
}

func (d *GRPCDialer) connFor(node datamigrations.NodeID) (*grpc.ClientConn, error) {
	d.mu.Lock()
	if cc, ok := d.mu.conns[node]; ok {
		d.mu.Unlock()
		return cc, nil
	}
	d.mu.Unlock()

	addr, err := d.resolve(node)
	if err != nil {
		return nil, errors.Wrapf(datamigrations.ErrTransportFailure, "resolving address of node %d: %v", node, err)
	}

	cc, err := grpc.DialContext(context.Background(), addr,
		append([]grpc.DialOption{grpc.WithContextDialer(dialTCP)}, d.dialOpt...)...)
	if err != nil {
		return nil, errors.Wrapf(datamigrations.ErrTransportFailure, "dialing node %d at %s: %v", node, addr, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.mu.conns[node]; ok {
		cc.Close()
		return existing, nil
	}
	d.mu.conns[node] = cc
	return cc, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
}

// CheckNTPStates implements the outbound half of send_rpc:
// it issues a single check_ntp_states call to node and translates any
// transport-level failure into ErrTransportFailure, which dmbackend treats
// as retryable with backoff.
func (d *GRPCDialer) CheckNTPStates(
	ctx context.Context, node datamigrations.NodeID, queries []StateQuery,
) ([]StateAnswer, error) {
	cc, err := d.connFor(node)
	if err != nil {
		return nil, err
	}

	req := &dmrpcpb.CheckNTPStatesRequest{Queries: queriesToWire(queries)}
	reply := new(dmrpcpb.CheckNTPStatesReply)
	err = cc.Invoke(ctx, "/"+serviceName+"/CheckNTPStates", req, reply, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, errors.Wrapf(datamigrations.ErrTransportFailure, "check_ntp_states to node %d: %v", node, err)
	}
	return answersFromWire(reply.Answers), nil
}

// ListOutstandingMigrations issues the introspection RPC to node, returning
// whatever it currently reports as coordinator; the reply is empty, not an
// error, if node is not (or is no longer) the coordinator.
func (d *GRPCDialer) ListOutstandingMigrations(
	ctx context.Context, node datamigrations.NodeID,
) ([]datamigrations.MigrationSnapshot, error) {
	cc, err := d.connFor(node)
	if err != nil {
		return nil, err
	}

	req := new(dmrpcpb.ListOutstandingMigrationsRequest)
	reply := new(dmrpcpb.ListOutstandingMigrationsReply)
	err = cc.Invoke(ctx, "/"+serviceName+"/ListOutstandingMigrations", req, reply, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, errors.Wrapf(datamigrations.ErrTransportFailure, "list_outstanding_migrations to node %d: %v", node, err)
	}
	return snapshotsFromWire(reply.Migrations), nil
}

// Close tears down every cached connection.
func (d *GRPCDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for node, cc := range d.mu.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing connection to node %d", node)
		}
	}
	d.mu.conns = make(map[datamigrations.NodeID]*grpc.ClientConn)
	return firstErr
}

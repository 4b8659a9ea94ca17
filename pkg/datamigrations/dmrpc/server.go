// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc/dmrpcpb"
)

// serviceName is the fully-qualified gRPC service name, matching the
// package/service naming convention of every other internal gRPC service
// (e.g. "cockroach.roachpb.Internal").
const serviceName = "redpanda.datamigrations.DataMigrations"

// Introspector is the coordinator-only read model behind
// ListOutstandingMigrations, implemented by
// dmbackend.Backend.
type Introspector interface {
	ListOutstandingMigrations() []datamigrations.MigrationSnapshot
}

// Server adapts an Endpoint (and, for the introspection method, an
// Introspector) to the wire service.
type Server struct {
	endpoint *Endpoint
	introspector Introspector
}

// NewServer constructs a Server. introspector may be nil on a node that is
// not currently the coordinator; ListOutstandingMigrations then returns an
// empty reply rather than panicking, since coordinator role can change
// concurrently with an in-flight RPC.
func NewServer(endpoint *Endpoint, introspector Introspector) *Server {
	return &Server{endpoint: endpoint, introspector: introspector}
}

// CheckNTPStates is the unary handler for the check_ntp_states RPC.
func (s *Server) CheckNTPStates(
	ctx context.Context, req *dmrpcpb.CheckNTPStatesRequest,
) (*dmrpcpb.CheckNTPStatesReply, error) {
	answers := s.endpoint.CheckNTPStates(ctx, queriesFromWire(req.Queries))
	return &dmrpcpb.CheckNTPStatesReply{Answers: answersToWire(answers)}, nil
}

// ListOutstandingMigrations is the unary handler for the introspection RPC.
func (s *Server) ListOutstandingMigrations(
	ctx context.Context, _ *dmrpcpb.ListOutstandingMigrationsRequest,
) (*dmrpcpb.ListOutstandingMigrationsReply, error) {
	if s.introspector == nil {
		return &dmrpcpb.ListOutstandingMigrationsReply{}, nil
	}
	snaps := s.introspector.ListOutstandingMigrations()
	reply := &dmrpcpb.ListOutstandingMigrationsReply{
		Migrations: make([]*dmrpcpb.OutstandingMigration, len(snaps)),
	}
	for i, m := range snaps {
		topics := make([]*dmrpcpb.OutstandingTopic, len(m.Topics))
		for j, t := range m.Topics {
			topics[j] = &dmrpcpb.OutstandingTopic{
				Namespace: t.Topic.Namespace,
				Topic: t.Topic.Topic,
				OutstandingPartitions: int32(t.OutstandingPartitions),
			}
		}
		reply.Migrations[i] = &dmrpcpb.OutstandingMigration{
			MigrationID: int64(m.ID),
			SoughtState: int32(m.SoughtState),
			Topics: topics,
		}
	}
	return reply, nil
}

func checkNTPStatesHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor,
) (interface{}, error) {
	req := new(dmrpcpb.CheckNTPStatesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Server).CheckNTPStates(ctx, req)
}

func listOutstandingMigrationsHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor,
) (interface{}, error) {
	req := new(dmrpcpb.ListOutstandingMigrationsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Server).ListOutstandingMigrations(ctx, req)
}

// ServiceDesc is the hand-maintained grpc.ServiceDesc for this service; it
// plays the role a protoc-gen-go-grpc _grpc.pb.go file would normally play,
// kept by hand because the repository has no protoc build step.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckNTPStates", Handler: checkNTPStatesHandler},
		{MethodName: "ListOutstandingMigrations", Handler: listOutstandingMigrationsHandler},
	},
	Streams: []grpc.StreamDesc{},
	Metadata: "dmrpc.proto",
}

// RegisterServer registers s against gs, mirroring the generated
// RegisterXServer helper of a protoc-gen-go-grpc output file.
func RegisterServer(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

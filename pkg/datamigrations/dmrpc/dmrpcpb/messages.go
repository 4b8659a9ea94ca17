// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmrpcpb defines the wire messages of the check_ntp_states RPC
// and the introspection RPC. Messages are
// hand-maintained gogo-protobuf-tagged structs rather than .pb.go output: the
// repository has no protoc step, so the dmrpc codec marshals each message
// with github.com/gogo/protobuf/proto's
// reflection-based (un)marshaler, which — unlike the newer
// google.golang.org/protobuf API — works directly off of `protobuf:"..."`
// struct tags without generated code.
package dmrpcpb

import (
	gogoproto "github.com/gogo/protobuf/proto"
)

// NTPKey is the wire form of datamigrations.NTP.
type NTPKey struct {
	Namespace string `protobuf:"bytes,1,opt,name=namespace" json:"namespace"`
	Topic string `protobuf:"bytes,2,opt,name=topic" json:"topic"`
	PartitionIndex int32 `protobuf:"varint,3,opt,name=partition_index" json:"partition_index"`
}

func (m *NTPKey) Reset() { *m = NTPKey{} }
func (m *NTPKey) String() string { return gogoproto.CompactTextString(m) }
func (m *NTPKey) ProtoMessage() {}

// StateQuery is one element of a CheckNTPStatesRequest: an ordered
// {ntp, migration_id, sought_state} triple.
type StateQuery struct {
	Ntp *NTPKey `protobuf:"bytes,1,opt,name=ntp" json:"ntp"`
	MigrationID int64 `protobuf:"varint,2,opt,name=migration_id" json:"migration_id"`
	SoughtState int32 `protobuf:"varint,3,opt,name=sought_state" json:"sought_state"`
}

func (m *StateQuery) Reset() { *m = StateQuery{} }
func (m *StateQuery) String() string { return gogoproto.CompactTextString(m) }
func (m *StateQuery) ProtoMessage() {}

// StateAnswer is one element of a CheckNTPStatesReply: a
// {ntp, migration_id, sought_state, status} tuple answering one StateQuery.
type StateAnswer struct {
	Ntp *NTPKey `protobuf:"bytes,1,opt,name=ntp" json:"ntp"`
	MigrationID int64 `protobuf:"varint,2,opt,name=migration_id" json:"migration_id"`
	SoughtState int32 `protobuf:"varint,3,opt,name=sought_state" json:"sought_state"`
	Status int32 `protobuf:"varint,4,opt,name=status" json:"status"`
}

func (m *StateAnswer) Reset() { *m = StateAnswer{} }
func (m *StateAnswer) String() string { return gogoproto.CompactTextString(m) }
func (m *StateAnswer) ProtoMessage() {}

// CheckNTPStatesRequest is the request message of the check_ntp_states RPC.
type CheckNTPStatesRequest struct {
	Queries []*StateQuery `protobuf:"bytes,1,rep,name=queries" json:"queries"`
}

func (m *CheckNTPStatesRequest) Reset() { *m = CheckNTPStatesRequest{} }
func (m *CheckNTPStatesRequest) String() string { return gogoproto.CompactTextString(m) }
func (m *CheckNTPStatesRequest) ProtoMessage() {}

// CheckNTPStatesReply is the reply message of the check_ntp_states RPC.
type CheckNTPStatesReply struct {
	Answers []*StateAnswer `protobuf:"bytes,1,rep,name=answers" json:"answers"`
}

func (m *CheckNTPStatesReply) Reset() { *m = CheckNTPStatesReply{} }
func (m *CheckNTPStatesReply) String() string { return gogoproto.CompactTextString(m) }
func (m *CheckNTPStatesReply) ProtoMessage() {}

// OutstandingTopic is one element of ListOutstandingMigrationsReply's
// per-migration detail.
type OutstandingTopic struct {
	Namespace string `protobuf:"bytes,1,opt,name=namespace" json:"namespace"`
	Topic string `protobuf:"bytes,2,opt,name=topic" json:"topic"`
	OutstandingPartitions int32 `protobuf:"varint,3,opt,name=outstanding_partitions" json:"outstanding_partitions"`
}

func (m *OutstandingTopic) Reset() { *m = OutstandingTopic{} }
func (m *OutstandingTopic) String() string { return gogoproto.CompactTextString(m) }
func (m *OutstandingTopic) ProtoMessage() {}

// OutstandingMigration is one element of a ListOutstandingMigrationsReply.
type OutstandingMigration struct {
	MigrationID int64 `protobuf:"varint,1,opt,name=migration_id" json:"migration_id"`
	SoughtState int32 `protobuf:"varint,2,opt,name=sought_state" json:"sought_state"`
	Topics []*OutstandingTopic `protobuf:"bytes,3,rep,name=topics" json:"topics"`
}

func (m *OutstandingMigration) Reset() { *m = OutstandingMigration{} }
func (m *OutstandingMigration) String() string { return gogoproto.CompactTextString(m) }
func (m *OutstandingMigration) ProtoMessage() {}

// ListOutstandingMigrationsRequest is the (empty) request of the
// coordinator-only introspection RPC.
type ListOutstandingMigrationsRequest struct{}

func (m *ListOutstandingMigrationsRequest) Reset() { *m = ListOutstandingMigrationsRequest{} }
func (m *ListOutstandingMigrationsRequest) String() string { return gogoproto.CompactTextString(m) }
func (m *ListOutstandingMigrationsRequest) ProtoMessage() {}

// ListOutstandingMigrationsReply is the reply of the introspection RPC.
type ListOutstandingMigrationsReply struct {
	Migrations []*OutstandingMigration `protobuf:"bytes,1,rep,name=migrations" json:"migrations"`
}

func (m *ListOutstandingMigrationsReply) Reset() { *m = ListOutstandingMigrationsReply{} }
func (m *ListOutstandingMigrationsReply) String() string { return gogoproto.CompactTextString(m) }
func (m *ListOutstandingMigrationsReply) ProtoMessage() {}

// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"fmt"

	gogoproto "github.com/gogo/protobuf/proto"
	"google.golang.org/grpc/encoding"
)

// codecName is both the name a gogoCodec registers itself under and the
// gRPC content-subtype every call in this package requests via
// grpc.CallContentSubtype, keeping dmrpcpb's hand-maintained gogo messages
// off of the process-wide default "proto" codec (which expects
// google.golang.org/protobuf-generated messages).
const codecName = "dmgogo"

// gogoCodec adapts github.com/gogo/protobuf/proto's reflection-based
// Marshal/Unmarshal -- which works directly off of dmrpcpb's `protobuf:"..."`
// struct tags without a protoc step -- to grpc's encoding.Codec interface.
type gogoCodec struct{}

func (gogoCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(gogoproto.Message)
	if !ok {
		return nil, fmt.Errorf("dmrpc: unexpected message type %T", v)
	}
	return gogoproto.Marshal(m)
}

func (gogoCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(gogoproto.Message)
	if !ok {
		return fmt.Errorf("dmrpc: unexpected message type %T", v)
	}
	return gogoproto.Unmarshal(data, m)
}

func (gogoCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gogoCodec{})
}

// Package grpc implements the invocation and agent transports over
// google.golang.org/grpc (SPEC_FULL.md "Domain stack: grpc"). EDGELESS
// proper generates its wire types from protobuf; the pack carries no
// .proto toolchain output, so this package registers a small JSON codec
// with grpc's encoding registry instead of switching transports — the
// grpc.Server/grpc.ClientConn/grpc.ServiceDesc machinery is exercised
// exactly as it would be with generated stubs, only the marshaling
// differs.
package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "edgeless-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpc: edgeless-json unmarshal: %w", err)
	}
	return nil
}

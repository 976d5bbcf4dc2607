// Package remote exposes the executor as a gRPC service.
//
// The service is described by hand rather than generated from a .proto file:
// messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype.
//
//	service stackvm.Executor {
//	  rpc Execute(ExecuteRequest) returns (ExecuteResponse);
//	}
package remote

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype used by the service.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec with encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

// ExecuteRequest asks the server to run a program.
type ExecuteRequest struct {
	// Program is the raw or zstd-compressed bytecode.
	Program []byte `json:"program"`

	// MaxSteps lowers the server's step budget when non-zero.
	MaxSteps uint64 `json:"maxSteps,omitempty"`
}

// ExecuteResponse is the result of a successful run.
type ExecuteResponse struct {
	ProgramID string `json:"programId"`
	Result    int32  `json:"result"`
	Steps     uint64 `json:"steps"`
	Cached    bool   `json:"cached"`
}

// Package rpc provides JSON-RPC 2.0 types for the stackvm API.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding names the text encoding of a program in request params.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingBase58 Encoding = "base58"
	EncodingHex    Encoding = "hex"
)

// ProgramConfig is the optional second parameter of program methods.
type ProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
	MaxSteps uint64   `json:"maxSteps,omitempty"`
}

// ExecuteResult is the result of execute.
type ExecuteResult struct {
	ProgramID string `json:"programId"`
	Result    int32  `json:"result"`
	Steps     uint64 `json:"steps"`
	Cached    bool   `json:"cached"`
}

// ResultRecord is the result of getResult.
type ResultRecord struct {
	ProgramID   string `json:"programId"`
	Result      int32  `json:"result"`
	Steps       uint64 `json:"steps"`
	ProgramSize int    `json:"programSize"`
	StoredAt    int64  `json:"storedAt"`
}

// ExecutionErrorData is attached to ExecutionFailed errors.
type ExecutionErrorData struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	StackVM string `json:"stackvm"`
}

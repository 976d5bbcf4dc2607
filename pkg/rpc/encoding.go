package rpc

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// DecodeProgram decodes a program from its text encoding. The empty encoding
// selects base64.
func DecodeProgram(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase64, "":
		return base64.StdEncoding.DecodeString(encoded)
	case EncodingBase58:
		return base58.Decode(encoded)
	case EncodingHex:
		return hex.DecodeString(encoded)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// EncodeProgram encodes a program for use in request params.
func EncodeProgram(program []byte, encoding Encoding) (string, error) {
	switch encoding {
	case EncodingBase64, "":
		return base64.StdEncoding.EncodeToString(program), nil
	case EncodingBase58:
		return base58.Encode(program), nil
	case EncodingHex:
		return hex.EncodeToString(program), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", encoding)
	}
}

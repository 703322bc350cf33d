package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/fortiblox/bci/pkg/vm"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// maxDecodedSize bounds decompressed uploads.
const maxDecodedSize = 2 * vm.MaxInsts

// ParseEncoding parses an encoding string. The empty string selects the
// default, base64.
func ParseEncoding(s Encoding) (Encoding, error) {
	switch s {
	case "":
		return EncodingBase64, nil
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// EncodeProgram encodes bytecode as [data, encoding].
func EncodeProgram(data []byte, encoding Encoding) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeProgram decodes bytecode from the specified encoding.
func DecodeProgram(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// A message body is the JSON encoding of a Request or Response, optionally compressed as a whole with zlib.
// Compression is not announced in the frame: a JSON object starts with '{' (after optional whitespace) while a zlib
// stream never does, so decoders sniff the first byte.

package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const defaultBufferSize = 4096

var bufferPool = sync.Pool{New: func() any { return bytes.NewBuffer(make([]byte, 0, defaultBufferSize)) }}

// Encode serializes `msg`, compressing the result if `compress` is set.
func Encode(msg any, compress bool) ([]byte, error) {
	plain, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to encode %T: %w", ErrProtocol, msg, err)
	}
	if !compress {
		return plain, nil
	}

	buffer := bufferPool.Get().(*bytes.Buffer)
	defer func() { // Give back the buffer to the pool.
		buffer.Reset()
		bufferPool.Put(buffer)
	}()
	compressor := zlib.NewWriter(buffer)
	if _, err := compressor.Write(plain); err != nil {
		return nil, fmt.Errorf("%w: unable to compress %T: %w", ErrProtocol, msg, err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("%w: unable to compress %T: %w", ErrProtocol, msg, err)
	}
	return bytes.Clone(buffer.Bytes()), nil
}

// IsCompressed reports whether `body` is not a plain JSON object.
func IsCompressed(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) == 0 || trimmed[0] != '{'
}

// Decode parses `body` into `msg`, decompressing it first when needed. It reports whether the body was compressed.
// A decompressed body longer than `limit` bytes is rejected; zero means no limit.
func Decode(body []byte, msg any, limit uint64) (compressed bool, err error) {
	if len(body) == 0 {
		return false, fmt.Errorf("%w: empty message", ErrProtocol)
	}
	compressed = IsCompressed(body)
	plain := body
	if compressed {
		decompressor, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return true, fmt.Errorf("%w: body is neither JSON nor zlib: %w", ErrProtocol, err)
		}
		defer func() { _ = decompressor.Close() }()

		buffer := bufferPool.Get().(*bytes.Buffer)
		defer func() {
			buffer.Reset()
			bufferPool.Put(buffer)
		}()
		var source io.Reader = decompressor
		if limit > 0 {
			source = io.LimitReader(decompressor, int64(limit)+1)
		}
		if copied, err := io.Copy(buffer, source); err != nil {
			return true, fmt.Errorf("%w: unable to decompress body: %w", ErrProtocol, err)
		} else if limit > 0 && uint64(copied) > limit {
			return true, fmt.Errorf("%w: decompressed body exceeds %d bytes", ErrFrameTooLarge, limit)
		}
		plain = buffer.Bytes()
	}
	if err := json.Unmarshal(plain, msg); err != nil {
		return compressed, fmt.Errorf("%w: unable to decode %T: %w", ErrProtocol, msg, err)
	}
	return compressed, nil
}

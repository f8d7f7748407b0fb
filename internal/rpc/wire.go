// Package rpc implements the connection-oriented, framed protocol between
// workers described in spec.md §4.5/§6: a small enumeration of request
// types, each frame carrying request id, type tag, payload length, and
// payload bytes.
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// RequestType is the small, fixed enumeration of spec.md §4.5.
type RequestType byte

const (
	TypeSendVertex RequestType = iota + 1
	TypeSendWorkerMessages
	TypeSendPartitionMutations
	TypeSendAggregatorsToWorker
	TypeAddEdge
	TypeRemoveEdge
	TypeAddVertex
	TypeRemoveVertex
	TypeFlush
	// Control messages.
	TypeAck
	TypeKeepAlive
)

func (t RequestType) String() string {
	switch t {
	case TypeSendVertex:
		return "SendVertex"
	case TypeSendWorkerMessages:
		return "SendWorkerMessages"
	case TypeSendPartitionMutations:
		return "SendPartitionMutations"
	case TypeSendAggregatorsToWorker:
		return "SendAggregatorsToWorker"
	case TypeAddEdge:
		return "AddEdge"
	case TypeRemoveEdge:
		return "RemoveEdge"
	case TypeAddVertex:
		return "AddVertex"
	case TypeRemoveVertex:
		return "RemoveVertex"
	case TypeFlush:
		return "Flush"
	case TypeAck:
		return "Ack"
	case TypeKeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("RequestType(%d)", byte(t))
	}
}

// Header is the fixed portion of every request frame: 4-byte length
// (written separately by WriteFrame, not stored here), 1-byte type tag,
// 8-byte request id, 4-byte source worker id.
type Header struct {
	Type           RequestType
	RequestID      uint64
	SourceWorkerID uint32
}

const headerSize = 1 + 8 + 4 // type + requestID + sourceWorkerID

// compressThreshold is the payload size above which WriteFrame transparently
// zstd-compresses the body, matching glycerine-rpc25519's own use of
// klauspost/compress to keep large batched sends off the wire uncompressed.
const compressThreshold = 4096

const compressedFlagMask = 0x80

// WriteFrame writes length-prefixed header+payload to w. Payloads over
// compressThreshold bytes are zstd-compressed and the type tag's high bit
// is set to signal that to the reader.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	typ := byte(h.Type)
	if len(payload) > compressThreshold {
		compressed, err := compressPayload(payload)
		if err == nil && len(compressed) < len(payload) {
			payload = compressed
			typ |= compressedFlagMask
		}
	}

	buf := make([]byte, 4+headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize+len(payload)))
	buf[4] = typ
	binary.BigEndian.PutUint64(buf[5:13], h.RequestID)
	binary.BigEndian.PutUint32(buf[13:17], h.SourceWorkerID)
	copy(buf[17:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed header+payload from r, transparently
// decompressing a body that WriteFrame compressed.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Header{}, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < headerSize {
		return Header{}, nil, fmt.Errorf("rpc: frame too short: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, err
	}

	typ := body[0]
	compressed := typ&compressedFlagMask != 0
	typ &^= compressedFlagMask

	h := Header{
		Type:           RequestType(typ),
		RequestID:      binary.BigEndian.Uint64(body[1:9]),
		SourceWorkerID: binary.BigEndian.Uint32(body[9:13]),
	}
	payload := body[13:]
	if compressed {
		decompressed, err := decompressPayload(payload)
		if err != nil {
			return Header{}, nil, fmt.Errorf("rpc: decompress frame: %w", err)
		}
		payload = decompressed
	}
	return h, payload, nil
}

func compressPayload(p []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(p, nil), nil
}

func decompressPayload(p []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(p, nil)
}

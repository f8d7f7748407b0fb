// Package codec provides the default graph.Codec implementation, grounded
// on haivivi-giztoy's use of github.com/vmihailenco/msgpack/v5 for compact,
// reflection-based generic value encoding — the same role the teacher
// reached for encoding/gob to fill ad hoc in pagerank.go's message path.
package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is the default graph.Codec: it can encode/decode arbitrary
// vertex, edge, and message values without per-type boilerplate.
type Msgpack struct{}

func (Msgpack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Decode(b []byte, target any) error {
	return msgpack.Unmarshal(b, target)
}

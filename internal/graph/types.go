package graph

import "reflect"

// Codec is the serialization capability described by Design Notes §9: a
// single encode/decode pair carried by the type registry, replacing
// duck-typed writable/serializable values and the reflection that would
// otherwise pick an encoder per concrete type.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte, target any) error
}

// TypeRegistry is the capability object established once at configuration
// time, replacing classloader-driven instantiation: instead of the source's
// "construct an instance of VERTEX_VALUE_CLASS by reflected name", callers
// hold function references captured up front.
//
// NewVertexValue/NewEdgeValue/NewMessageValue return a pointer to a zero
// value of the concrete type configured for this job (VERTEX_VALUE_CLASS,
// EDGE_VALUE_CLASS, MESSAGE_VALUE_CLASS in spec.md §6); Codec.Decode fills
// it in from wire bytes.
type TypeRegistry struct {
	NewVertexValue  func() any
	NewEdgeValue    func() any
	NewMessageValue func() any
	Codec           Codec
}

// DecodeVertexValue decodes b into a freshly constructed vertex value.
func (r *TypeRegistry) DecodeVertexValue(b []byte) (any, error) {
	v := r.NewVertexValue()
	if err := r.Codec.Decode(b, v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeEdgeValue decodes b into a freshly constructed edge value.
func (r *TypeRegistry) DecodeEdgeValue(b []byte) (any, error) {
	v := r.NewEdgeValue()
	if err := r.Codec.Decode(b, v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeMessageValue decodes b into a freshly constructed message value
// and dereferences it, so a message delivered over the wire is
// indistinguishable from one a vertex program sent directly to a locally
// owned partition (graph.Vertex.Value and the edge-value slot keep the
// pointer NewVertexValue/NewEdgeValue return instead, since the mutation
// resolver synthesizes default vertices by storing that pointer directly
// in Vertex.Value).
func (r *TypeRegistry) DecodeMessageValue(b []byte) (any, error) {
	v := r.NewMessageValue()
	if err := r.Codec.Decode(b, v); err != nil {
		return nil, err
	}
	return reflect.ValueOf(v).Elem().Interface(), nil
}

// Combiner is a commutative, associative reduction over message values
// destined for the same vertex, with an identity element (Initial). When
// configured, the message store keeps at most one message per vertex.
type Combiner struct {
	Initial func() any
	Combine func(a, b any) any
}

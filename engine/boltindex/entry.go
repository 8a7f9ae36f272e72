package boltindex

import (
	"fmt"
	"sort"

	"github.com/viant/bintly"
)

// entry is the stored form of one record. The embedding is written first so
// a scan can decode it without touching the document.
type entry struct {
	Embedding []float32
	Document  string
	Metadata  map[string]any
}

// EncodeBinary implements bintly.Encoder.
func (e *entry) EncodeBinary(stream *bintly.Writer) error {
	stream.Float32s(e.Embedding)
	stream.String(e.Document)

	var intKeys, floatKeys, stringKeys []string
	for k, v := range e.Metadata {
		switch v.(type) {
		case int:
			intKeys = append(intKeys, k)
		case float64:
			floatKeys = append(floatKeys, k)
		case string:
			stringKeys = append(stringKeys, k)
		default:
			return fmt.Errorf("boltindex: unsupported metadata type %T for %q", v, k)
		}
	}
	sort.Strings(intKeys)
	sort.Strings(floatKeys)
	sort.Strings(stringKeys)

	stream.Int16(int16(len(intKeys)))
	for _, k := range intKeys {
		stream.String(k)
		stream.Int(e.Metadata[k].(int))
	}
	stream.Int16(int16(len(floatKeys)))
	for _, k := range floatKeys {
		stream.String(k)
		stream.Float64(e.Metadata[k].(float64))
	}
	stream.Int16(int16(len(stringKeys)))
	for _, k := range stringKeys {
		stream.String(k)
		stream.String(e.Metadata[k].(string))
	}
	return nil
}

// DecodeBinary implements bintly.Decoder.
func (e *entry) DecodeBinary(stream *bintly.Reader) error {
	stream.Float32s(&e.Embedding)
	stream.String(&e.Document)
	e.Metadata = make(map[string]any)

	var size int16
	stream.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key string
		var value int
		stream.String(&key)
		stream.Int(&value)
		e.Metadata[key] = value
	}
	stream.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key string
		var value float64
		stream.String(&key)
		stream.Float64(&value)
		e.Metadata[key] = value
	}
	stream.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key, value string
		stream.String(&key)
		stream.String(&value)
		e.Metadata[key] = value
	}
	return nil
}

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

func encodeEntry(e *entry) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)
	if err := e.EncodeBinary(w); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.Bytes()...), nil
}

func decodeEntry(data []byte) (*entry, error) {
	r := readers.Get()
	defer readers.Put(r)
	if err := r.FromBytes(data); err != nil {
		return nil, fmt.Errorf("boltindex: decode entry: %w", err)
	}
	e := &entry{}
	if err := e.DecodeBinary(r); err != nil {
		return nil, err
	}
	return e, nil
}

// decodeEmbedding reads only the leading embedding of an encoded entry.
func decodeEmbedding(data []byte) ([]float32, error) {
	r := readers.Get()
	defer readers.Put(r)
	if err := r.FromBytes(data); err != nil {
		return nil, fmt.Errorf("boltindex: decode embedding: %w", err)
	}
	var v []float32
	r.Float32s(&v)
	return v, nil
}

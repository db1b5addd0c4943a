// Package streamtype implements the stream type descriptor: a meta-type
// name plus an ordered set of named properties, each a (type-name,
// value-string) pair, with the asymmetric equality rule used by signal
// re-registration.
package streamtype

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// Well-known meta-type names.
const (
	MetaPlain = "plain"
	MetaDDL   = "ddl"
	MetaVideo = "video"
	MetaAudio = "audio"
	MetaRaw   = "raw"
)

// Property is a single named, typed attribute of a StreamType.
type Property struct {
	Name  string
	Type  string
	Value string
}

// StreamType is a named meta-type plus an ordered mapping from property name
// to (type-name, value-string).
type StreamType struct {
	MetaType   string
	Properties []Property
}

// New constructs a StreamType with the given meta-type and properties, in
// the order given.
func New(metaType string, properties ...Property) StreamType {
	return StreamType{MetaType: metaType, Properties: append([]Property(nil), properties...)}
}

// Get returns the property with the given name, if present.
func (s StreamType) Get(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Equal reports whether s and other have matching meta-type names and every
// property in s occurs in other with an equal value (equality is
// left-in-right, not symmetric set equality — other may carry additional
// properties s does not mention).
func (s StreamType) Equal(other StreamType) bool {
	if s.MetaType != other.MetaType {
		return false
	}
	for _, p := range s.Properties {
		op, ok := other.Get(p.Name)
		if !ok || op.Value != p.Value {
			return false
		}
	}
	return true
}

// Sorted returns a copy of s with Properties ordered by name, useful for
// deterministic wire output and test comparisons.
func (s StreamType) Sorted() StreamType {
	out := StreamType{MetaType: s.MetaType, Properties: append([]Property(nil), s.Properties...)}
	sort.Slice(out.Properties, func(i, j int) bool { return out.Properties[i].Name < out.Properties[j].Name })
	return out
}

// Marshal renders s as a JSON object of the shape expected by the
// data_registry getStreamType RPC:
//
//	{"meta_type":"...","properties":{"names":[...],"types":[...],"values":[...]}}
//
// It is hand-rolled with jsonenc rather than encoding/json, matching the
// allocation-free append style the rest of the wire layer uses.
func (s StreamType) Marshal() []byte {
	buf := make([]byte, 0, 64+32*len(s.Properties))
	buf = append(buf, `{"meta_type":`...)
	buf = jsonenc.AppendString(buf, s.MetaType)
	buf = append(buf, `,"properties":{"names":[`...)
	for i, p := range s.Properties {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = jsonenc.AppendString(buf, p.Name)
	}
	buf = append(buf, `],"types":[`...)
	for i, p := range s.Properties {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = jsonenc.AppendString(buf, p.Type)
	}
	buf = append(buf, `],"values":[`...)
	for i, p := range s.Properties {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = jsonenc.AppendString(buf, p.Value)
	}
	buf = append(buf, `]}}`...)
	return buf
}

// wireProperties is the decode-side counterpart of the parallel-array
// "properties" object Marshal produces.
type wireProperties struct {
	Names  []string `json:"names"`
	Types  []string `json:"types"`
	Values []string `json:"values"`
}

type wireStreamType struct {
	MetaType   string         `json:"meta_type"`
	Properties wireProperties `json:"properties"`
}

// Unmarshal parses the JSON object produced by Marshal back into a
// StreamType. Decoding uses encoding/json (rather than a hand-rolled
// scanner) since the wire layer, unlike the hot-path sample encoder, is not
// performance sensitive.
func Unmarshal(data []byte) (StreamType, error) {
	var w wireStreamType
	if err := json.Unmarshal(data, &w); err != nil {
		return StreamType{}, fmt.Errorf("streamtype: %w", err)
	}
	if len(w.Properties.Names) != len(w.Properties.Types) || len(w.Properties.Names) != len(w.Properties.Values) {
		return StreamType{}, fmt.Errorf("streamtype: mismatched properties arrays")
	}
	st := StreamType{MetaType: w.MetaType, Properties: make([]Property, len(w.Properties.Names))}
	for i := range w.Properties.Names {
		st.Properties[i] = Property{
			Name:  w.Properties.Names[i],
			Type:  w.Properties.Types[i],
			Value: w.Properties.Values[i],
		}
	}
	return st, nil
}

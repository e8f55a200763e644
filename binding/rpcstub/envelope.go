package rpcstub

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// MediaType is the content type of request and response envelopes.
const MediaType = "application/cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpcstub: CBOR encoder initialization failed: " + err.Error())
	}
	// Protocol headers decode into any; keep them usable as map[string]any.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rpcstub: CBOR decoder initialization failed: " + err.Error())
	}
}

// Request is the envelope posted for every call.
type Request struct {
	Header       map[string]any    `cbor:"header,omitempty"`
	Service      string            `cbor:"service"`
	Operation    string            `cbor:"op"`
	RepositoryID string            `cbor:"repo"`
	ObjectID     string            `cbor:"object,omitempty"`
	Params       map[string]string `cbor:"params,omitempty"`
	Properties   []Property        `cbor:"props,omitempty"`
	Policies     []string          `cbor:"policies,omitempty"`
	AddACEs      []ACE             `cbor:"addACEs,omitempty"`
	Content      *Content          `cbor:"content,omitempty"`
	Range        *Range            `cbor:"range,omitempty"`
}

// Response is the envelope returned for every call. Fault is set when the
// call failed.
type Response struct {
	Fault    *Fault   `cbor:"fault,omitempty"`
	ObjectID string   `cbor:"object,omitempty"`
	Object   *Object  `cbor:"data,omitempty"`
	Content  *Content `cbor:"content,omitempty"`
}

// Fault is a failed call. Kind is a cmis.Kind wire name.
type Fault struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}

type Property struct {
	ID     string `cbor:"id"`
	Type   string `cbor:"type"`
	Values []any  `cbor:"values"`
}

type ACE struct {
	Principal   string   `cbor:"principal"`
	Permissions []string `cbor:"permissions"`
	Direct      bool     `cbor:"direct,omitempty"`
}

type Object struct {
	Properties       []Property `cbor:"props"`
	PolicyIDs        []string   `cbor:"policies,omitempty"`
	ACL              []ACE      `cbor:"acl,omitempty"`
	AllowableActions []string   `cbor:"actions,omitempty"`
}

// Content carries stream bytes inline. Length is the total length of the
// stream; Data holds only the requested range.
type Content struct {
	Filename string `cbor:"filename,omitempty"`
	MimeType string `cbor:"mime,omitempty"`
	Length   int64  `cbor:"length"`
	Data     []byte `cbor:"data"`
}

type Range struct {
	Offset int64 `cbor:"offset"`
	Length int64 `cbor:"length"`
}

func encodeProperties(props cmis.Properties) []Property {
	out := make([]Property, 0, len(props))
	for _, id := range props.IDs() {
		p := props[id]
		values := make([]any, len(p.Values))
		for i, v := range p.Values {
			if t, ok := v.(time.Time); ok {
				v = t.UnixMilli()
			}
			values[i] = v
		}
		out = append(out, Property{ID: p.ID, Type: string(p.Type), Values: values})
	}
	return out
}

func decodeProperties(in []Property) (cmis.Properties, error) {
	props := make(cmis.Properties, len(in))
	for _, p := range in {
		typ := cmis.PropertyType(p.Type)
		values := make([]any, len(p.Values))
		for i, v := range p.Values {
			nv, err := normalize(typ, v)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", p.ID, err)
			}
			values[i] = nv
		}
		props.Set(p.ID, typ, values...)
	}
	return props, nil
}

// normalize maps CBOR-decoded values back to the Go types cmis.Property
// documents. Unsigned integers are what the decoder yields for
// non-negative integers.
func normalize(typ cmis.PropertyType, v any) (any, error) {
	switch typ {
	case cmis.PropertyTypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case uint64:
			return int64(n), nil
		case string:
			return n, nil
		}
	case cmis.PropertyTypeDecimal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case string:
			return n, nil
		}
	case cmis.PropertyTypeDateTime:
		switch n := v.(type) {
		case int64:
			return time.UnixMilli(n).UTC(), nil
		case uint64:
			return time.UnixMilli(int64(n)).UTC(), nil
		case string:
			return n, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("unexpected %T for %s value", v, typ)
}

func encodeACEs(in []cmis.ACE) []ACE {
	if len(in) == 0 {
		return nil
	}
	out := make([]ACE, len(in))
	for i, a := range in {
		out[i] = ACE{Principal: a.Principal, Permissions: a.Permissions, Direct: a.Direct}
	}
	return out
}

func decodeACEs(in []ACE) []cmis.ACE {
	if len(in) == 0 {
		return nil
	}
	out := make([]cmis.ACE, len(in))
	for i, a := range in {
		out[i] = cmis.ACE{Principal: a.Principal, Permissions: a.Permissions, Direct: a.Direct}
	}
	return out
}

func encodeObject(o *cmis.ObjectData) *Object {
	if o == nil {
		return nil
	}
	return &Object{
		Properties:       encodeProperties(o.Properties),
		PolicyIDs:        o.PolicyIDs,
		ACL:              encodeACEs(o.ACL),
		AllowableActions: o.AllowableActions,
	}
}

func decodeObject(o *Object) (*cmis.ObjectData, error) {
	if o == nil {
		return nil, nil
	}
	props, err := decodeProperties(o.Properties)
	if err != nil {
		return nil, err
	}
	return &cmis.ObjectData{
		Properties:       props,
		PolicyIDs:        o.PolicyIDs,
		ACL:              decodeACEs(o.ACL),
		AllowableActions: o.AllowableActions,
	}, nil
}

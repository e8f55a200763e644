// Package browserjson encodes and decodes the JSON documents exchanged by the
// browser binding: object documents and error bodies.
//
// An object document looks like
//
//	{
//	  "properties": {
//	    "cmis:name": {"id": "cmis:name", "type": "string", "cardinality": "single", "value": "report.txt"}
//	  },
//	  "allowableActions": {"canGetContentStream": true},
//	  "policyIds": {"ids": ["p1"]},
//	  "acl": {"aces": [{"principal": {"principalId": "alice"}, "permissions": ["cmis:read"], "isDirect": true}]}
//	}
//
// Datetime values travel as milliseconds since the Unix epoch.
package browserjson

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// TypeSource resolves type definitions while encoding.
type TypeSource interface {
	Get(ctx context.Context, typeID string) (*cmis.TypeDefinition, error)
}

// EncodeObject renders obj as an object document. When types is non-nil the
// object's type definition supplies query names, display names and
// cardinality; a failed lookup fails the encoding.
func EncodeObject(ctx context.Context, obj *cmis.ObjectData, types TypeSource) ([]byte, error) {
	doc, err := objectContainer(ctx, obj, types)
	if err != nil {
		return nil, err
	}
	return doc.Bytes(), nil
}

func objectContainer(ctx context.Context, obj *cmis.ObjectData, types TypeSource) (*gabs.Container, error) {
	if obj == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, "encodeObject", "no object data")
	}
	var td *cmis.TypeDefinition
	if types != nil && obj.TypeID() != "" {
		var err error
		if td, err = types.Get(ctx, obj.TypeID()); err != nil {
			return nil, fmt.Errorf("resolve type %q: %w", obj.TypeID(), err)
		}
	}

	doc := gabs.New()
	if _, err := doc.Object("properties"); err != nil {
		return nil, err
	}
	for _, id := range obj.Properties.IDs() {
		p := obj.Properties[id]
		entry := map[string]any{
			"id":   p.ID,
			"type": string(p.Type),
		}
		card := cmis.CardinalitySingle
		if len(p.Values) > 1 {
			card = cmis.CardinalityMulti
		}
		if def := td.Property(id); def != nil {
			card = def.Cardinality
			entry["queryName"] = def.QueryName
			entry["displayName"] = def.DisplayName
		}
		entry["cardinality"] = string(card)
		entry["value"] = encodeValue(card, p.Values)
		if _, err := doc.Set(entry, "properties", id); err != nil {
			return nil, err
		}
	}

	if len(obj.AllowableActions) > 0 {
		actions := make(map[string]any, len(obj.AllowableActions))
		for _, a := range obj.AllowableActions {
			actions[a] = true
		}
		if _, err := doc.Set(actions, "allowableActions"); err != nil {
			return nil, err
		}
	}
	if len(obj.PolicyIDs) > 0 {
		if _, err := doc.Set(append([]string(nil), obj.PolicyIDs...), "policyIds", "ids"); err != nil {
			return nil, err
		}
	}
	if len(obj.ACL) > 0 {
		aces := make([]any, 0, len(obj.ACL))
		for _, ace := range obj.ACL {
			aces = append(aces, map[string]any{
				"principal":   map[string]any{"principalId": ace.Principal},
				"permissions": append([]string(nil), ace.Permissions...),
				"isDirect":    ace.Direct,
			})
		}
		if _, err := doc.Set(aces, "acl", "aces"); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func encodeValue(card cmis.Cardinality, values []any) any {
	conv := func(v any) any {
		if t, ok := v.(time.Time); ok {
			return t.UnixMilli()
		}
		return v
	}
	if card == cmis.CardinalityMulti {
		out := make([]any, 0, len(values))
		for _, v := range values {
			out = append(out, conv(v))
		}
		return out
	}
	if len(values) == 0 {
		return nil
	}
	return conv(values[0])
}

// DecodeObject parses an object document.
func DecodeObject(b []byte) (*cmis.ObjectData, error) {
	doc, err := gabs.ParseJSON(b)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, "decodeObject", "parse object document: %w", err)
	}
	return objectFrom(doc)
}

func objectFrom(doc *gabs.Container) (*cmis.ObjectData, error) {
	obj := &cmis.ObjectData{Properties: cmis.Properties{}}

	if doc.Exists("properties") {
		props, err := doc.S("properties").ChildrenMap()
		if err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, "decodeObject", "properties: %w", err)
		}
		for id, p := range props {
			typ := cmis.PropertyType(stringAt(p, "type"))
			if pid := stringAt(p, "id"); pid != "" {
				id = pid
			}
			values, err := decodeValues(typ, p.S("value").Data())
			if err != nil {
				return nil, cmis.Errorf(cmis.KindMalformedRequest, "decodeObject", "property %s: %w", id, err)
			}
			obj.Properties.Set(id, typ, values...)
		}
	}

	if doc.Exists("allowableActions") {
		actions, err := doc.S("allowableActions").ChildrenMap()
		if err == nil {
			for name, v := range actions {
				if allowed, _ := v.Data().(bool); allowed {
					obj.AllowableActions = append(obj.AllowableActions, name)
				}
			}
		}
	}

	if ids, err := doc.Search("policyIds", "ids").Children(); err == nil {
		for _, id := range ids {
			if s, ok := id.Data().(string); ok {
				obj.PolicyIDs = append(obj.PolicyIDs, s)
			}
		}
	}

	if aces, err := doc.Search("acl", "aces").Children(); err == nil {
		for _, a := range aces {
			ace := cmis.ACE{Principal: stringAt(a, "principal", "principalId")}
			ace.Direct, _ = a.S("isDirect").Data().(bool)
			if perms, err := a.S("permissions").Children(); err == nil {
				for _, p := range perms {
					if s, ok := p.Data().(string); ok {
						ace.Permissions = append(ace.Permissions, s)
					}
				}
			}
			obj.ACL = append(obj.ACL, ace)
		}
	}
	return obj, nil
}

func stringAt(c *gabs.Container, path ...string) string {
	s, _ := c.Search(path...).Data().(string)
	return s
}

func decodeValues(typ cmis.PropertyType, raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	out := make([]any, 0, len(list))
	for _, v := range list {
		dv, err := decodeValue(typ, v)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, nil
}

func decodeValue(typ cmis.PropertyType, v any) (any, error) {
	switch typ {
	case cmis.PropertyTypeInteger:
		f, err := number(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("integer value %v has a fraction", f)
		}
		return int64(f), nil
	case cmis.PropertyTypeDecimal:
		return number(v)
	case cmis.PropertyTypeDateTime:
		f, err := number(v)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	case cmis.PropertyTypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want boolean, got %T", v)
		}
		return b, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return s, nil
	}
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}

// EncodeError renders the error body returned by the browser endpoint.
func EncodeError(kind cmis.Kind, message string) []byte {
	doc := gabs.New()
	_, _ = doc.Set(kind.String(), "exception")
	_, _ = doc.Set(message, "message")
	return doc.Bytes()
}

// DecodeError parses an error body. ok is false when b is not one.
func DecodeError(b []byte) (kind cmis.Kind, message string, ok bool) {
	doc, err := gabs.ParseJSON(b)
	if err != nil {
		return cmis.KindRuntime, "", false
	}
	exc, isStr := doc.S("exception").Data().(string)
	if !isStr {
		return cmis.KindRuntime, "", false
	}
	message, _ = doc.S("message").Data().(string)
	return cmis.ParseKind(exc), message, true
}

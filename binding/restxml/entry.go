package restxml

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// MediaType is the content type of entry documents.
const MediaType = "application/atom+xml;type=entry"

// Entry is an Atom entry wrapping one CMIS object.
type Entry struct {
	XMLName xml.Name        `xml:"http://www.w3.org/2005/Atom entry"`
	ID      string          `xml:"id,omitempty"`
	Title   string          `xml:"title,omitempty"`
	Updated string          `xml:"updated,omitempty"`
	Object  objectElement   `xml:"object"`
	Content *contentElement `xml:"content,omitempty"`
}

type objectElement struct {
	Properties       []propertyElement `xml:"properties>property"`
	PolicyIDs        []string          `xml:"policyIds>id,omitempty"`
	ACL              []aceElement      `xml:"acl>ace,omitempty"`
	AllowableActions []string          `xml:"allowableActions>action,omitempty"`
}

type propertyElement struct {
	ID     string   `xml:"propertyDefinitionId,attr"`
	Type   string   `xml:"type,attr"`
	Values []string `xml:"value"`
}

type aceElement struct {
	Principal   string   `xml:"principal"`
	Permissions []string `xml:"permission"`
	Direct      bool     `xml:"direct,attr,omitempty"`
}

// contentElement carries base64 content inline in a create request.
type contentElement struct {
	MimeType string `xml:"mimetype,attr,omitempty"`
	Filename string `xml:"filename,attr,omitempty"`
	Data     string `xml:",chardata"`
}

// errorElement is the body of a failure response.
type errorElement struct {
	XMLName xml.Name `xml:"error"`
	Kind    string   `xml:"kind,attr"`
	Message string   `xml:",chardata"`
}

func newEntry(obj *cmis.ObjectData) *Entry {
	e := &Entry{ID: obj.ID(), Title: obj.Name()}
	if t, ok := obj.Properties.Time(cmis.PropLastModificationDate); ok {
		e.Updated = t.UTC().Format(time.RFC3339Nano)
	}
	for _, id := range obj.Properties.IDs() {
		p := obj.Properties[id]
		pe := propertyElement{ID: p.ID, Type: string(p.Type)}
		for _, v := range p.Values {
			pe.Values = append(pe.Values, formatValue(v))
		}
		e.Object.Properties = append(e.Object.Properties, pe)
	}
	e.Object.PolicyIDs = obj.PolicyIDs
	for _, a := range obj.ACL {
		e.Object.ACL = append(e.Object.ACL, aceElement{Principal: a.Principal, Permissions: a.Permissions, Direct: a.Direct})
	}
	e.Object.AllowableActions = obj.AllowableActions
	return e
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// objectData converts e back to object data. Values are parsed according to
// the property type attribute.
func (e *Entry) objectData() (*cmis.ObjectData, error) {
	props := cmis.Properties{}
	for _, pe := range e.Object.Properties {
		typ := cmis.PropertyType(pe.Type)
		values := make([]any, 0, len(pe.Values))
		for _, s := range pe.Values {
			v, err := parseValue(typ, s)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", pe.ID, err)
			}
			values = append(values, v)
		}
		props.Set(pe.ID, typ, values...)
	}
	obj := &cmis.ObjectData{
		Properties:       props,
		PolicyIDs:        e.Object.PolicyIDs,
		AllowableActions: e.Object.AllowableActions,
	}
	for _, a := range e.Object.ACL {
		obj.ACL = append(obj.ACL, cmis.ACE{Principal: a.Principal, Permissions: a.Permissions, Direct: a.Direct})
	}
	return obj, nil
}

func parseValue(typ cmis.PropertyType, s string) (any, error) {
	switch typ {
	case cmis.PropertyTypeInteger:
		return strconv.ParseInt(s, 10, 64)
	case cmis.PropertyTypeDecimal:
		return strconv.ParseFloat(s, 64)
	case cmis.PropertyTypeBoolean:
		return strconv.ParseBool(s)
	case cmis.PropertyTypeDateTime:
		return time.Parse(time.RFC3339Nano, s)
	default:
		return s, nil
	}
}

func (c *contentElement) stream() (*cmis.ContentStream, error) {
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &cmis.ContentStream{
		Filename: c.Filename,
		MimeType: c.MimeType,
		Length:   int64(len(data)),
		Stream:   io.NopCloser(bytes.NewReader(data)),
	}, nil
}

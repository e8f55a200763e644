package cmis

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known property ids.
const (
	PropObjectID                  = "cmis:objectId"
	PropObjectTypeID              = "cmis:objectTypeId"
	PropBaseTypeID                = "cmis:baseTypeId"
	PropName                      = "cmis:name"
	PropCreatedBy                 = "cmis:createdBy"
	PropCreationDate              = "cmis:creationDate"
	PropLastModificationDate      = "cmis:lastModificationDate"
	PropParentID                  = "cmis:parentId"
	PropVersionSeriesID           = "cmis:versionSeriesId"
	PropVersionLabel              = "cmis:versionLabel"
	PropIsLatestVersion           = "cmis:isLatestVersion"
	PropIsMajorVersion            = "cmis:isMajorVersion"
	PropIsLatestMajorVersion      = "cmis:isLatestMajorVersion"
	PropContentStreamLength       = "cmis:contentStreamLength"
	PropContentStreamMimeType     = "cmis:contentStreamMimeType"
	PropContentStreamFileName     = "cmis:contentStreamFileName"
	PropContentStreamID           = "cmis:contentStreamId"
	PropIsVersionSeriesCheckedOut = "cmis:isVersionSeriesCheckedOut"
)

// BaseType is the base object type of a CMIS type hierarchy.
type BaseType string

const (
	BaseTypeDocument     BaseType = "cmis:document"
	BaseTypeFolder       BaseType = "cmis:folder"
	BaseTypeRelationship BaseType = "cmis:relationship"
	BaseTypePolicy       BaseType = "cmis:policy"
)

// PropertyType is the data type of a property value.
type PropertyType string

const (
	PropertyTypeString   PropertyType = "string"
	PropertyTypeID       PropertyType = "id"
	PropertyTypeInteger  PropertyType = "integer"
	PropertyTypeBoolean  PropertyType = "boolean"
	PropertyTypeDateTime PropertyType = "datetime"
	PropertyTypeDecimal  PropertyType = "decimal"
	PropertyTypeURI      PropertyType = "uri"
	PropertyTypeHTML     PropertyType = "html"
)

// Cardinality of a property definition.
type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

// Property is one named, typed, possibly multi-valued property.
//
// Values hold string for string/id/uri/html, int64 for integer, bool for
// boolean, float64 for decimal and time.Time for datetime.
type Property struct {
	ID     string
	Type   PropertyType
	Values []any
}

// First returns the first value or nil.
func (p *Property) First() any {
	if p == nil || len(p.Values) == 0 {
		return nil
	}
	return p.Values[0]
}

// Properties is a set of properties keyed by property id.
type Properties map[string]*Property

// Set stores a single- or multi-valued property, replacing any existing one.
func (ps Properties) Set(id string, typ PropertyType, values ...any) {
	ps[id] = &Property{ID: id, Type: typ, Values: values}
}

// String returns the first value of a string-like property, or "".
func (ps Properties) String(id string) string {
	p, ok := ps[id]
	if !ok {
		return ""
	}
	switch v := p.First().(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the first value of an integer property.
func (ps Properties) Int(id string) (int64, bool) {
	p, ok := ps[id]
	if !ok {
		return 0, false
	}
	v, ok := p.First().(int64)
	return v, ok
}

// Bool returns the first value of a boolean property.
func (ps Properties) Bool(id string) (bool, bool) {
	p, ok := ps[id]
	if !ok {
		return false, false
	}
	v, ok := p.First().(bool)
	return v, ok
}

// Time returns the first value of a datetime property.
func (ps Properties) Time(id string) (time.Time, bool) {
	p, ok := ps[id]
	if !ok {
		return time.Time{}, false
	}
	v, ok := p.First().(time.Time)
	return v, ok
}

// IDs returns the property ids in sorted order.
func (ps Properties) IDs() []string {
	ids := make([]string, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the property set (values are copied by value).
func (ps Properties) Clone() Properties {
	out := make(Properties, len(ps))
	for id, p := range ps {
		vals := make([]any, len(p.Values))
		copy(vals, p.Values)
		out[id] = &Property{ID: p.ID, Type: p.Type, Values: vals}
	}
	return out
}

// ACE is one access control entry.
type ACE struct {
	Principal   string
	Permissions []string
	Direct      bool
}

// ObjectData is the wire-independent representation of a repository object.
type ObjectData struct {
	Properties Properties
	PolicyIDs  []string
	ACL        []ACE
	// AllowableActions lists the actions the current principal may perform,
	// e.g. "canGetContentStream". Nil when not requested.
	AllowableActions []string
}

// ID returns the cmis:objectId property.
func (o *ObjectData) ID() string {
	if o == nil {
		return ""
	}
	return o.Properties.String(PropObjectID)
}

// TypeID returns the cmis:objectTypeId property.
func (o *ObjectData) TypeID() string {
	if o == nil {
		return ""
	}
	return o.Properties.String(PropObjectTypeID)
}

// BaseType returns the cmis:baseTypeId property.
func (o *ObjectData) BaseType() BaseType {
	if o == nil {
		return ""
	}
	return BaseType(o.Properties.String(PropBaseTypeID))
}

// Name returns the cmis:name property.
func (o *ObjectData) Name() string {
	if o == nil {
		return ""
	}
	return o.Properties.String(PropName)
}

// ObjectInfo is the extended metadata the repository keeps about an object.
type ObjectInfo struct {
	Object          *ObjectData
	HasContent      bool
	HasParent       bool
	VersionSeriesID string
}

// VersioningState selects the version created by createDocument.
type VersioningState string

const (
	VersioningStateNone       VersioningState = "none"
	VersioningStateCheckedOut VersioningState = "checkedout"
	VersioningStateMajor      VersioningState = "major"
	VersioningStateMinor      VersioningState = "minor"
)

// ParseVersioningState parses a versioningState parameter. The empty string
// yields "" (repository default).
func ParseVersioningState(s string) (VersioningState, error) {
	switch v := VersioningState(strings.ToLower(s)); v {
	case "", VersioningStateNone, VersioningStateCheckedOut, VersioningStateMajor, VersioningStateMinor:
		return v, nil
	default:
		return "", fmt.Errorf("invalid versioning state %q", s)
	}
}

// ReturnVersion selects which version getObject returns.
type ReturnVersion string

const (
	ReturnThis        ReturnVersion = "this"
	ReturnLatest      ReturnVersion = "latest"
	ReturnLatestMajor ReturnVersion = "latestmajor"
)

// ParseReturnVersion parses a returnVersion parameter. The empty string yields
// ReturnThis.
func ParseReturnVersion(s string) (ReturnVersion, error) {
	switch v := ReturnVersion(strings.ToLower(s)); v {
	case "":
		return ReturnThis, nil
	case ReturnThis, ReturnLatest, ReturnLatestMajor:
		return v, nil
	default:
		return "", fmt.Errorf("invalid return version %q", s)
	}
}

// IncludeRelationships selects which relationships getObject includes.
type IncludeRelationships string

const (
	IncludeRelationshipsNone   IncludeRelationships = "none"
	IncludeRelationshipsSource IncludeRelationships = "source"
	IncludeRelationshipsTarget IncludeRelationships = "target"
	IncludeRelationshipsBoth   IncludeRelationships = "both"
)

// ObjectOptions carries the optional getObject parameters.
type ObjectOptions struct {
	Filter                  string
	IncludeAllowableActions bool
	IncludeRelationships    IncludeRelationships
	RenditionFilter         string
	IncludePolicyIDs        bool
	IncludeACL              bool
}

// PropertyDefinition describes one property of a type.
type PropertyDefinition struct {
	ID          string
	QueryName   string
	DisplayName string
	Type        PropertyType
	Cardinality Cardinality
	Required    bool
	Updatable   bool
}

// TypeDefinition describes an object type.
type TypeDefinition struct {
	ID          string
	BaseType    BaseType
	ParentID    string
	DisplayName string
	Properties  map[string]*PropertyDefinition
}

// Property returns the definition of the property with id, or nil.
func (t *TypeDefinition) Property(id string) *PropertyDefinition {
	if t == nil {
		return nil
	}
	return t.Properties[id]
}

package memrepo

import "github.com/ggoodman/cmis-bindings-go/cmis"

func prop(id string, typ cmis.PropertyType, card cmis.Cardinality, required, updatable bool) *cmis.PropertyDefinition {
	return &cmis.PropertyDefinition{
		ID:          id,
		QueryName:   id,
		DisplayName: id,
		Type:        typ,
		Cardinality: card,
		Required:    required,
		Updatable:   updatable,
	}
}

func commonProperties() map[string]*cmis.PropertyDefinition {
	single, multi := cmis.CardinalitySingle, cmis.CardinalityMulti
	return map[string]*cmis.PropertyDefinition{
		cmis.PropObjectID:             prop(cmis.PropObjectID, cmis.PropertyTypeID, single, false, false),
		cmis.PropObjectTypeID:         prop(cmis.PropObjectTypeID, cmis.PropertyTypeID, single, true, false),
		cmis.PropBaseTypeID:           prop(cmis.PropBaseTypeID, cmis.PropertyTypeID, single, false, false),
		cmis.PropName:                 prop(cmis.PropName, cmis.PropertyTypeString, single, true, true),
		cmis.PropCreatedBy:            prop(cmis.PropCreatedBy, cmis.PropertyTypeString, single, false, false),
		cmis.PropCreationDate:         prop(cmis.PropCreationDate, cmis.PropertyTypeDateTime, single, false, false),
		cmis.PropLastModificationDate: prop(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, single, false, false),
		"cmis:description":            prop("cmis:description", cmis.PropertyTypeString, single, false, true),
		"cmis:secondaryObjectTypeIds": prop("cmis:secondaryObjectTypeIds", cmis.PropertyTypeID, multi, false, true),
	}
}

func baseTypes() map[string]*cmis.TypeDefinition {
	doc := &cmis.TypeDefinition{
		ID:          string(cmis.BaseTypeDocument),
		BaseType:    cmis.BaseTypeDocument,
		DisplayName: "Document",
		Properties:  commonProperties(),
	}
	single := cmis.CardinalitySingle
	for _, p := range []*cmis.PropertyDefinition{
		prop(cmis.PropVersionSeriesID, cmis.PropertyTypeID, single, false, false),
		prop(cmis.PropVersionLabel, cmis.PropertyTypeString, single, false, false),
		prop(cmis.PropIsLatestVersion, cmis.PropertyTypeBoolean, single, false, false),
		prop(cmis.PropIsMajorVersion, cmis.PropertyTypeBoolean, single, false, false),
		prop(cmis.PropIsLatestMajorVersion, cmis.PropertyTypeBoolean, single, false, false),
		prop(cmis.PropIsVersionSeriesCheckedOut, cmis.PropertyTypeBoolean, single, false, false),
		prop(cmis.PropContentStreamLength, cmis.PropertyTypeInteger, single, false, false),
		prop(cmis.PropContentStreamMimeType, cmis.PropertyTypeString, single, false, false),
		prop(cmis.PropContentStreamFileName, cmis.PropertyTypeString, single, false, false),
		prop(cmis.PropContentStreamID, cmis.PropertyTypeID, single, false, false),
	} {
		doc.Properties[p.ID] = p
	}

	folder := &cmis.TypeDefinition{
		ID:          string(cmis.BaseTypeFolder),
		BaseType:    cmis.BaseTypeFolder,
		DisplayName: "Folder",
		Properties:  commonProperties(),
	}
	folder.Properties[cmis.PropParentID] = prop(cmis.PropParentID, cmis.PropertyTypeID, single, false, false)

	return map[string]*cmis.TypeDefinition{doc.ID: doc, folder.ID: folder}
}

// DocumentType returns a document subtype of cmis:document carrying the
// standard document properties plus extra.
func DocumentType(id string, extra ...*cmis.PropertyDefinition) *cmis.TypeDefinition {
	base := baseTypes()[string(cmis.BaseTypeDocument)]
	for _, p := range extra {
		base.Properties[p.ID] = p
	}
	base.ID = id
	base.ParentID = string(cmis.BaseTypeDocument)
	base.DisplayName = id
	return base
}

package browserjson

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// Query and form parameter names of the browser binding.
const (
	ParamAction                  = "cmisaction"
	ParamSelector                = "cmisselector"
	ParamObjectID                = "objectId"
	ParamFolderID                = "folderId"
	ParamStreamID                = "streamId"
	ParamReturnVersion           = "returnVersion"
	ParamFilter                  = "filter"
	ParamIncludeAllowableActions = "includeAllowableActions"
	ParamIncludePolicyIDs        = "includePolicyIds"
	ParamIncludeACL              = "includeACL"
	ParamVersioningState         = "versioningState"
	ParamAllVersions             = "allVersions"
	ParamOverwrite               = "overwriteFlag"
	ParamOffset                  = "offset"
	ParamLength                  = "length"
	ParamTransaction             = "transaction"
	ParamMajor                   = "major"

	// FieldContent is the multipart part carrying a content stream.
	FieldContent = "content"
)

// Actions and selectors.
const (
	ActionCreateDocument = "createDocument"
	ActionCreateFolder   = "createFolder"
	ActionDelete         = "delete"
	ActionSetContent     = "setContent"
	ActionDeleteContent  = "deleteContent"

	SelectorObject  = "object"
	SelectorContent = "content"
)

// PutProperties writes props as propertyId[i]/propertyValue[i] form fields.
// Multi-valued properties use propertyValue[i][j].
func PutProperties(form url.Values, props cmis.Properties) {
	for i, id := range props.IDs() {
		p := props[id]
		form.Set(fmt.Sprintf("propertyId[%d]", i), id)
		if len(p.Values) == 1 {
			form.Set(fmt.Sprintf("propertyValue[%d]", i), formValue(p.Values[0]))
			continue
		}
		for j, v := range p.Values {
			form.Set(fmt.Sprintf("propertyValue[%d][%d]", i, j), formValue(v))
		}
	}
}

func formValue(v any) string {
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

// Properties reads properties written by PutProperties. Values stay strings;
// the repository converts them according to the type definition.
func Properties(form url.Values) (cmis.Properties, error) {
	props := cmis.Properties{}
	for i := 0; ; i++ {
		id := form.Get(fmt.Sprintf("propertyId[%d]", i))
		if id == "" {
			break
		}
		if _, dup := props[id]; dup {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, "decodeForm", "property %q given twice", id)
		}
		if v, ok := form[fmt.Sprintf("propertyValue[%d]", i)]; ok && len(v) > 0 {
			props.Set(id, cmis.PropertyTypeString, v[0])
			continue
		}
		var values []any
		for j := 0; ; j++ {
			v, ok := form[fmt.Sprintf("propertyValue[%d][%d]", i, j)]
			if !ok || len(v) == 0 {
				break
			}
			values = append(values, v[0])
		}
		props.Set(id, cmis.PropertyTypeString, values...)
	}
	return props, nil
}

// PutPolicies writes policy ids as policy[i].
func PutPolicies(form url.Values, ids []string) {
	for i, id := range ids {
		form.Set(fmt.Sprintf("policy[%d]", i), id)
	}
}

// Policies reads policy ids written by PutPolicies.
func Policies(form url.Values) []string {
	var ids []string
	for i := 0; ; i++ {
		id := form.Get(fmt.Sprintf("policy[%d]", i))
		if id == "" {
			return ids
		}
		ids = append(ids, id)
	}
}

// PutACEs writes access control entries as <prefix>Principal[i] and
// <prefix>Permission[i][j]. prefix is "addACE" or "removeACE".
func PutACEs(form url.Values, prefix string, aces []cmis.ACE) {
	for i, ace := range aces {
		form.Set(fmt.Sprintf("%sPrincipal[%d]", prefix, i), ace.Principal)
		for j, perm := range ace.Permissions {
			form.Set(fmt.Sprintf("%sPermission[%d][%d]", prefix, i, j), perm)
		}
	}
}

// ACEs reads entries written by PutACEs.
func ACEs(form url.Values, prefix string) []cmis.ACE {
	var aces []cmis.ACE
	for i := 0; ; i++ {
		principal := form.Get(fmt.Sprintf("%sPrincipal[%d]", prefix, i))
		if principal == "" {
			return aces
		}
		ace := cmis.ACE{Principal: principal, Direct: true}
		for j := 0; ; j++ {
			perm := form.Get(fmt.Sprintf("%sPermission[%d][%d]", prefix, i, j))
			if perm == "" {
				break
			}
			ace.Permissions = append(ace.Permissions, perm)
		}
		aces = append(aces, ace)
	}
}

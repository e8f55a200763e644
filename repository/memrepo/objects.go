package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// validateProperties checks caller-supplied properties against td and
// returns the properties to store. System-maintained properties supplied by
// the caller are ignored.
func validateProperties(op string, td *cmis.TypeDefinition, in cmis.Properties) (cmis.Properties, error) {
	out := cmis.Properties{}
	for _, id := range in.IDs() {
		p := in[id]
		def := td.Property(id)
		if def == nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "property %q is not defined by type %q", id, td.ID)
		}
		if !def.Updatable && id != cmis.PropObjectTypeID {
			continue
		}
		if def.Cardinality == cmis.CardinalitySingle && len(p.Values) > 1 {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "property %q is single-valued", id)
		}
		values, err := coerce(def.Type, p.Values)
		if err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "property %q: %w", id, err)
		}
		out.Set(id, def.Type, values...)
	}
	for id, def := range td.Properties {
		if def.Required && def.Updatable {
			if p, ok := out[id]; !ok || len(p.Values) == 0 {
				return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "required property %q is missing", id)
			}
		}
	}
	return out, nil
}

func (r *Repository) resolveType(op string, props cmis.Properties, want cmis.BaseType) (*cmis.TypeDefinition, error) {
	typeID := props.String(cmis.PropObjectTypeID)
	if typeID == "" {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "%s is required", cmis.PropObjectTypeID)
	}
	td, ok := r.types[typeID]
	if !ok {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "type %q does not exist", typeID)
	}
	if td.BaseType != want {
		return nil, cmis.Errorf(cmis.KindConstraint, op, "type %q is not a %s type", typeID, want)
	}
	return td, nil
}

// checkParent verifies that folderID names a folder without a child called
// name. An empty folderID creates an unfiled object.
func (r *Repository) checkParent(op, folderID, name string) error {
	if folderID == "" {
		return nil
	}
	parent, ok := r.objects[folderID]
	if !ok {
		return cmis.Errorf(cmis.KindNotFound, op, "folder %q does not exist", folderID)
	}
	if parent.base != cmis.BaseTypeFolder {
		return cmis.Errorf(cmis.KindConstraint, op, "object %q is not a folder", folderID)
	}
	for _, o := range r.objects {
		if o.parentID == folderID && o.props.String(cmis.PropName) == name {
			if o.base == cmis.BaseTypeDocument && !isLatest(o) {
				continue
			}
			return cmis.Errorf(cmis.KindConstraint, op, "folder %q already contains %q", folderID, name)
		}
	}
	return nil
}

func isLatest(o *object) bool {
	v, _ := o.props.Bool(cmis.PropIsLatestVersion)
	return v
}

func (r *Repository) CreateDocument(ctx context.Context, repositoryID string, req *cmis.CreateDocumentRequest) (string, error) {
	const op = "createDocument"
	if err := r.checkRepository(op, repositoryID); err != nil {
		return "", err
	}
	if req == nil {
		return "", cmis.Errorf(cmis.KindMalformedRequest, op, "no request")
	}
	defer req.Content.Close()

	// Content is read before taking the lock; it may be large or slow.
	var blob *blobInput
	if req.Content != nil && req.Content.Stream != nil {
		b, err := r.readContent(op, req.Content)
		if err != nil {
			return "", err
		}
		blob = b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	td, err := r.resolveType(op, req.Properties, cmis.BaseTypeDocument)
	if err != nil {
		return "", err
	}
	props, err := validateProperties(op, td, req.Properties)
	if err != nil {
		return "", err
	}
	if err := r.checkParent(op, req.FolderID, props.String(cmis.PropName)); err != nil {
		return "", err
	}

	state := req.VersioningState
	if state == "" {
		state = cmis.VersioningStateMajor
	}
	id := r.newID()
	r.stampSystem(ctx, props, id, td)
	series := id
	props.Set(cmis.PropVersionSeriesID, cmis.PropertyTypeID, series)
	switch state {
	case cmis.VersioningStateNone:
		setVersion(props, "", false, true, false)
	case cmis.VersioningStateMajor:
		setVersion(props, "1.0", true, true, false)
	case cmis.VersioningStateMinor:
		setVersion(props, "0.1", false, true, false)
	case cmis.VersioningStateCheckedOut:
		setVersion(props, "0.1", false, true, true)
	}

	o := &object{
		props:    props,
		base:     cmis.BaseTypeDocument,
		parentID: req.FolderID,
		policies: slices.Clone(req.Policies),
		acl:      applyACEs(nil, req.AddACEs, req.RemoveACEs),
	}
	if blob != nil {
		if err := r.putContent(ctx, o, id, blob); err != nil {
			return "", err
		}
	}
	r.objects[id] = o
	r.series[series] = []string{id}
	r.log.InfoContext(ctx, "repo.create.ok", slog.String("id", id), slog.String("type", td.ID))
	return id, nil
}

func setVersion(props cmis.Properties, label string, major, latest, checkedOut bool) {
	props.Set(cmis.PropVersionLabel, cmis.PropertyTypeString, label)
	props.Set(cmis.PropIsMajorVersion, cmis.PropertyTypeBoolean, major)
	props.Set(cmis.PropIsLatestVersion, cmis.PropertyTypeBoolean, latest)
	props.Set(cmis.PropIsLatestMajorVersion, cmis.PropertyTypeBoolean, latest && major)
	props.Set(cmis.PropIsVersionSeriesCheckedOut, cmis.PropertyTypeBoolean, checkedOut)
}

func (r *Repository) stampSystem(ctx context.Context, props cmis.Properties, id string, td *cmis.TypeDefinition) {
	now := r.now().UTC()
	props.Set(cmis.PropObjectID, cmis.PropertyTypeID, id)
	props.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, td.ID)
	props.Set(cmis.PropBaseTypeID, cmis.PropertyTypeID, string(td.BaseType))
	props.Set(cmis.PropCreatedBy, cmis.PropertyTypeString, caller(ctx))
	props.Set(cmis.PropCreationDate, cmis.PropertyTypeDateTime, now)
	props.Set(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, now)
}

func applyACEs(acl, add, remove []cmis.ACE) []cmis.ACE {
	out := slices.Clone(acl)
	for _, a := range add {
		out = append(out, cmis.ACE{Principal: a.Principal, Permissions: slices.Clone(a.Permissions), Direct: true})
	}
	if len(remove) == 0 {
		return out
	}
	return slices.DeleteFunc(out, func(a cmis.ACE) bool {
		return slices.ContainsFunc(remove, func(rm cmis.ACE) bool {
			return rm.Principal == a.Principal && slices.Equal(rm.Permissions, a.Permissions)
		})
	})
}

func (r *Repository) CreateFolder(ctx context.Context, repositoryID string, req *cmis.CreateFolderRequest) (string, error) {
	const op = "createFolder"
	if err := r.checkRepository(op, repositoryID); err != nil {
		return "", err
	}
	if req == nil {
		return "", cmis.Errorf(cmis.KindMalformedRequest, op, "no request")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	td, err := r.resolveType(op, req.Properties, cmis.BaseTypeFolder)
	if err != nil {
		return "", err
	}
	props, err := validateProperties(op, td, req.Properties)
	if err != nil {
		return "", err
	}
	if req.FolderID == "" {
		return "", cmis.Errorf(cmis.KindMalformedRequest, op, "folders must have a parent")
	}
	if err := r.checkParent(op, req.FolderID, props.String(cmis.PropName)); err != nil {
		return "", err
	}
	id := r.newID()
	r.stampSystem(ctx, props, id, td)
	props.Set(cmis.PropParentID, cmis.PropertyTypeID, req.FolderID)
	r.objects[id] = &object{
		props:    props,
		base:     cmis.BaseTypeFolder,
		parentID: req.FolderID,
		policies: slices.Clone(req.Policies),
		acl:      applyACEs(nil, req.AddACEs, req.RemoveACEs),
	}
	r.log.InfoContext(ctx, "repo.create.ok", slog.String("id", id), slog.String("type", td.ID))
	return id, nil
}

func (r *Repository) lookup(op, repositoryID, objectID string) (*object, error) {
	if err := r.checkRepository(op, repositoryID); err != nil {
		return nil, err
	}
	if objectID == "" {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "object id is required")
	}
	o, ok := r.objects[objectID]
	if !ok {
		return nil, cmis.Errorf(cmis.KindNotFound, op, "object %q does not exist", objectID)
	}
	return o, nil
}

func (r *Repository) GetObjectInfo(ctx context.Context, repositoryID, objectID string) (*cmis.ObjectInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.lookup("getObjectInfo", repositoryID, objectID)
	if err != nil {
		return nil, err
	}
	return &cmis.ObjectInfo{
		Object:          r.render(o, cmis.ObjectOptions{IncludeAllowableActions: true, IncludePolicyIDs: true, IncludeACL: true}),
		HasContent:      o.streamID != "",
		HasParent:       o.parentID != "",
		VersionSeriesID: o.props.String(cmis.PropVersionSeriesID),
	}, nil
}

func (r *Repository) GetObject(ctx context.Context, repositoryID, objectID string, opts cmis.ObjectOptions) (*cmis.ObjectData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.lookup("getObject", repositoryID, objectID)
	if err != nil {
		return nil, err
	}
	return r.render(o, opts), nil
}

func (r *Repository) GetObjectOfLatestVersion(ctx context.Context, repositoryID, objectID string, major bool, opts cmis.ObjectOptions) (*cmis.ObjectData, error) {
	const op = "getObjectOfLatestVersion"
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		return nil, err
	}
	if o.base != cmis.BaseTypeDocument {
		return r.render(o, opts), nil
	}
	versions := r.series[o.props.String(cmis.PropVersionSeriesID)]
	for i := len(versions) - 1; i >= 0; i-- {
		v := r.objects[versions[i]]
		if !major {
			return r.render(v, opts), nil
		}
		if isMajor, _ := v.props.Bool(cmis.PropIsMajorVersion); isMajor {
			return r.render(v, opts), nil
		}
	}
	return nil, cmis.Errorf(cmis.KindNotFound, op, "version series of %q has no major version", objectID)
}

// render copies o into an ObjectData honouring opts.
func (r *Repository) render(o *object, opts cmis.ObjectOptions) *cmis.ObjectData {
	props := o.props.Clone()
	if f := strings.TrimSpace(opts.Filter); f != "" && f != "*" {
		keep := map[string]bool{
			cmis.PropObjectID:     true,
			cmis.PropObjectTypeID: true,
			cmis.PropBaseTypeID:   true,
		}
		for _, id := range strings.Split(f, ",") {
			keep[strings.TrimSpace(id)] = true
		}
		for id := range props {
			if !keep[id] {
				delete(props, id)
			}
		}
	}
	od := &cmis.ObjectData{Properties: props}
	if opts.IncludePolicyIDs {
		od.PolicyIDs = slices.Clone(o.policies)
	}
	if opts.IncludeACL {
		od.ACL = slices.Clone(o.acl)
	}
	if opts.IncludeAllowableActions {
		od.AllowableActions = allowableActions(o)
	}
	return od
}

func allowableActions(o *object) []string {
	actions := []string{"canGetProperties", "canUpdateProperties", "canApplyPolicy", "canApplyACL"}
	switch o.base {
	case cmis.BaseTypeFolder:
		actions = append(actions, "canCreateDocument", "canCreateFolder", "canGetChildren")
		if o.parentID != "" {
			actions = append(actions, "canDeleteObject", "canGetFolderParent")
		}
	case cmis.BaseTypeDocument:
		actions = append(actions, "canDeleteObject", "canSetContentStream", "canGetAllVersions")
		if o.streamID != "" {
			actions = append(actions, "canGetContentStream", "canDeleteContentStream")
		}
	}
	return actions
}

func (r *Repository) DeleteObject(ctx context.Context, repositoryID, objectID string, allVersions bool) error {
	const op = "deleteObject"
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		return err
	}
	if objectID == RootFolderID {
		return cmis.Errorf(cmis.KindConstraint, op, "the root folder cannot be deleted")
	}
	if o.base == cmis.BaseTypeFolder {
		for _, child := range r.objects {
			if child.parentID == objectID {
				return cmis.Errorf(cmis.KindConstraint, op, "folder %q is not empty", objectID)
			}
		}
		delete(r.objects, objectID)
		return nil
	}

	seriesID := o.props.String(cmis.PropVersionSeriesID)
	targets := []string{objectID}
	if allVersions {
		targets = slices.Clone(r.series[seriesID])
	}
	for _, id := range targets {
		if err := r.dropContent(ctx, r.objects[id]); err != nil {
			return err
		}
		delete(r.objects, id)
	}
	remaining := slices.DeleteFunc(r.series[seriesID], func(id string) bool { return slices.Contains(targets, id) })
	if len(remaining) == 0 {
		delete(r.series, seriesID)
	} else {
		r.series[seriesID] = remaining
		r.relabel(remaining)
	}
	r.log.InfoContext(ctx, "repo.delete.ok", slog.String("id", objectID), slog.Bool("all_versions", allVersions))
	return nil
}

// relabel recomputes the latest flags of a version series.
func (r *Repository) relabel(versions []string) {
	lastMajor := -1
	for i, id := range versions {
		if m, _ := r.objects[id].props.Bool(cmis.PropIsMajorVersion); m {
			lastMajor = i
		}
	}
	for i, id := range versions {
		p := r.objects[id].props
		p.Set(cmis.PropIsLatestVersion, cmis.PropertyTypeBoolean, i == len(versions)-1)
		p.Set(cmis.PropIsLatestMajorVersion, cmis.PropertyTypeBoolean, i == lastMajor)
	}
}

// CheckIn adds a new version to the series of objectID, copying its
// properties and optionally replacing its content. It returns the new
// version's id.
func (r *Repository) CheckIn(ctx context.Context, repositoryID, objectID string, major bool, content *cmis.ContentStream) (string, error) {
	const op = "checkIn"
	defer content.Close()

	var blob *blobInput
	if content != nil && content.Stream != nil {
		b, err := r.readContent(op, content)
		if err != nil {
			return "", err
		}
		blob = b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		return "", err
	}
	if prev.base != cmis.BaseTypeDocument {
		return "", cmis.Errorf(cmis.KindConstraint, op, "object %q is not a document", objectID)
	}
	seriesID := prev.props.String(cmis.PropVersionSeriesID)
	versions := r.series[seriesID]
	latest := r.objects[versions[len(versions)-1]]
	if label := latest.props.String(cmis.PropVersionLabel); label == "" {
		return "", cmis.Errorf(cmis.KindConstraint, op, "document %q is not versionable", objectID)
	}

	id := r.newID()
	props := latest.props.Clone()
	now := r.now().UTC()
	props.Set(cmis.PropObjectID, cmis.PropertyTypeID, id)
	props.Set(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, now)
	props.Set(cmis.PropCreationDate, cmis.PropertyTypeDateTime, now)
	props.Set(cmis.PropCreatedBy, cmis.PropertyTypeString, caller(ctx))
	setVersion(props, nextLabel(latest.props.String(cmis.PropVersionLabel), major), major, true, false)

	o := &object{
		props:    props,
		base:     cmis.BaseTypeDocument,
		parentID: latest.parentID,
		policies: slices.Clone(latest.policies),
		acl:      slices.Clone(latest.acl),
	}
	switch {
	case blob != nil:
		if err := r.putContent(ctx, o, id, blob); err != nil {
			return "", err
		}
	case latest.streamID != "":
		if err := r.copyContent(ctx, latest, o, id); err != nil {
			return "", err
		}
	}
	r.objects[id] = o
	r.series[seriesID] = append(versions, id)
	r.relabel(r.series[seriesID])
	return id, nil
}

func nextLabel(label string, major bool) string {
	var maj, min int
	if _, err := fmt.Sscanf(label, "%d.%d", &maj, &min); err != nil {
		maj, min = 0, 0
	}
	if major {
		return fmt.Sprintf("%d.0", maj+1)
	}
	return fmt.Sprintf("%d.%d", maj, min+1)
}

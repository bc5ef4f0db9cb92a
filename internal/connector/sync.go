package connector

import (
	"context"
	"fmt"

	"docs4usync/internal/acl"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	log "github.com/sirupsen/logrus"
)

// outcome accumulates what gets recorded as the operation's activity.
type outcome struct {
	code   string
	reason string
	bytes  int64
}

func (o *outcome) reject(reason string) (types.DocumentStatus, error) {
	o.code, o.reason = types.ResultRejected, reason
	return types.DocumentRejected, nil
}

// AddOrReplaceDocument sends doc to the repository, updating the document already
// stored under uri or creating a new one.
//
// Documents whose access control Docs4U cannot express are rejected, not failed.
// An interruption is returned as an error carrying types.ErrInterrupted and no activity
// is recorded for it; any other failure is recorded as ERROR and returned.
func (c *Connector) AddOrReplaceDocument(
	ctx context.Context,
	uri, description string,
	doc *types.Document,
	authorityName string,
	activities ports.ActivityRecorder,
) (status types.DocumentStatus, err error) {
	start := timeNow()
	out := &outcome{code: types.ResultOK}
	st := stageStart
	defer func() {
		if err != nil {
			if types.IsInterrupted(err) {
				return
			}
			out.code, out.reason = types.ResultError, err.Error()
			log.WithError(err).WithFields(log.Fields{"uri": uri, "stage": st}).Warn("docs4u: error ingesting document")
		}
		recordActivity(ctx, activities, types.Activity{
			StartTime:    start,
			Kind:         types.ActivitySave,
			ByteCount:    &out.bytes,
			ObjectID:     uri,
			ResultCode:   out.code,
			ResultReason: out.reason,
		})
	}()

	spec, err := outputdesc.Decode(description)
	if err != nil {
		return types.DocumentRejected, err
	}
	if spec.URLMetadataName == "" {
		return types.DocumentRejected, fmt.Errorf("%w: no URL metadata name", types.ErrInvalidSpecification)
	}
	translator, err := acl.NewTranslator(spec.SecurityRule)
	if err != nil {
		return types.DocumentRejected, err
	}

	st = stageSecurity
	if doc.DirectoryACLCount > 0 {
		return out.reject(ReasonDirectoryACLs)
	}
	if len(doc.ShareACL) > 0 || len(doc.ShareDenyACL) > 0 {
		return out.reject(ReasonShareACLs)
	}

	c.resolver.PurgeExpired(ctx, start)

	sess, err := c.getSession(ctx)
	if err != nil {
		return types.DocumentRejected, classify(ctx, "opening session", err)
	}
	defer func() {
		if err != nil {
			c.expireSession()
		}
	}()

	st = stageACL
	scope := c.cfg.ScopeKey()
	allowed, ok, err := c.resolver.TranslateACL(ctx, sess, translator, doc.ACL, scope, start)
	if err != nil {
		return types.DocumentRejected, classify(ctx, "mapping access tokens", err)
	}
	var denied []string
	if ok {
		denied, ok, err = c.resolver.TranslateACL(ctx, sess, translator, doc.DenyACL, scope, start)
		if err != nil {
			return types.DocumentRejected, classify(ctx, "mapping access tokens", err)
		}
	}
	if !ok {
		return out.reject(ReasonACLNotMapped)
	}

	info := types.NewDocInfo()
	defer info.Close()
	info.Allowed = allowed
	info.Disallowed = denied

	st = stageMetadata
	for _, f := range doc.Fields {
		target, mapped := spec.FieldMap[f.Name]
		if !mapped {
			log.WithFields(log.Fields{"uri": uri, "field": f.Name}).Debug("field discarded")
			continue
		}
		log.WithFields(log.Fields{"uri": uri, "field": f.Name, "target": target}).Debug("field maps to target field")
		info.SetMetadata(target, f.Values)
	}
	// The URL field is the lookup key; a mapped field never overrides it.
	info.SetMetadata(spec.URLMetadataName, []string{uri})

	st = stageContent
	out.bytes = doc.ContentLength
	info.Data = doc.Content

	st = stageLookup
	ids, err := sess.FindDocuments(ctx, map[string]string{spec.URLMetadataName: uri})
	if err != nil {
		return types.DocumentRejected, classify(ctx, fmt.Sprintf("ingesting '%s'", uri), err)
	}
	if len(ids) > 0 {
		st = stageUpdate
		err = sess.UpdateDocument(ctx, ids[0], info)
	} else {
		st = stageCreate
		_, err = sess.CreateDocument(ctx, info)
	}
	if err != nil {
		return types.DocumentRejected, classify(ctx, fmt.Sprintf("ingesting '%s'", uri), err)
	}
	return types.DocumentAccepted, nil
}

// RemoveDocument deletes whatever is stored under uri. A document that is already
// gone is not an error.
func (c *Connector) RemoveDocument(ctx context.Context, uri, description string, activities ports.ActivityRecorder) (err error) {
	start := timeNow()
	st := stageStart
	defer func() {
		a := types.Activity{
			StartTime:  start,
			Kind:       types.ActivityDelete,
			ObjectID:   uri,
			ResultCode: types.ResultOK,
		}
		if err != nil {
			if types.IsInterrupted(err) {
				return
			}
			a.ResultCode, a.ResultReason = types.ResultError, err.Error()
			log.WithError(err).WithFields(log.Fields{"uri": uri, "stage": st}).Warn("docs4u: error removing document")
		}
		recordActivity(ctx, activities, a)
	}()

	urlName, err := outputdesc.DecodeURLMetadataName(description)
	if err != nil {
		return err
	}
	if urlName == "" {
		return fmt.Errorf("%w: no URL metadata name", types.ErrInvalidSpecification)
	}

	sess, err := c.getSession(ctx)
	if err != nil {
		return classify(ctx, "opening session", err)
	}
	defer func() {
		if err != nil {
			c.expireSession()
		}
	}()

	st = stageLookup
	ids, err := sess.FindDocuments(ctx, map[string]string{urlName: uri})
	if err != nil {
		return classify(ctx, fmt.Sprintf("removing '%s'", uri), err)
	}
	st = stageDelete
	for _, id := range ids {
		if err = sess.DeleteDocument(ctx, id); err != nil {
			return classify(ctx, fmt.Sprintf("removing '%s'", uri), err)
		}
	}
	return nil
}

func recordActivity(ctx context.Context, activities ports.ActivityRecorder, a types.Activity) {
	if activities == nil {
		return
	}
	// The activity must land even if the operation's context is winding down.
	if err := activities.RecordActivity(context.WithoutCancel(ctx), a); err != nil {
		log.WithError(err).WithField("uri", a.ObjectID).Warn("failed to record activity")
	}
}

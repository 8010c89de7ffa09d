// Package importer turns a source document into a stored content record: fetch, extract,
// create or update, then localize embedded media.
package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/airstory"
	"github.com/hyperjump/storyhook/internal/apperr"
	"github.com/hyperjump/storyhook/internal/events"
	"github.com/hyperjump/storyhook/internal/media"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
	"github.com/hyperjump/storyhook/pkg/utils"
)

// DocumentFetcher supplies document metadata and rendered content. *airstory.Session implements it.
type DocumentFetcher interface {
	GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error)
	GetDocumentContent(ctx context.Context, projectID, documentID string) (string, error)
}

// BodyExtractor reduces a rendered document to its body fragment. *extract.Extractor implements it.
type BodyExtractor interface {
	Extract(fullHTML string) string
}

// MediaRewriter localizes remote images in a stored body. *media.Rewriter implements it.
type MediaRewriter interface {
	Rewrite(ctx context.Context, recordID int64, fragment string, allowed []string) media.Result
}

// Request identifies one document import. Fetcher carries the caller's credential.
type Request struct {
	ProjectID  string
	DocumentID string
	AuthorID   string
	Fetcher    DocumentFetcher
}

// Outcome describes a finished import.
type Outcome struct {
	RecordID      int64
	Updated       bool
	MediaReplaced int
}

// Pipeline runs imports against a record store.
type Pipeline struct {
	records   storage.RecordStore
	extractor BodyExtractor
	rewriter  MediaRewriter
	domains   func() []string
	bus       *events.Bus
	logger    *zap.Logger // optional; when set, logs debug events
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for import progress and media warnings.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMediaRewriter enables the post-persist media pass. domains is called once per
// import to read the current allow-list.
func WithMediaRewriter(r MediaRewriter, domains func() []string) Option {
	return func(p *Pipeline) {
		p.rewriter = r
		p.domains = domains
	}
}

// WithBus publishes record and failure events to bus.
func WithBus(bus *events.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(records storage.RecordStore, extractor BodyExtractor, opts ...Option) *Pipeline {
	p := &Pipeline{records: records, extractor: extractor}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindExistingDraft returns the oldest not-yet-published record imported from the
// document, or 0 when there is none.
func (p *Pipeline) FindExistingDraft(ctx context.Context, projectID, documentID string) (int64, error) {
	id, err := p.records.FindDraft(ctx, projectID, documentID)
	if err != nil {
		return 0, apperr.Persistence("failed to look up existing draft", err)
	}
	return id, nil
}

// Import creates a record for the document, or updates its existing draft.
func (p *Pipeline) Import(ctx context.Context, req Request) (*Outcome, error) {
	return p.run(ctx, req, -1)
}

// Create imports the document as a new draft record.
func (p *Pipeline) Create(ctx context.Context, req Request) (*Outcome, error) {
	return p.run(ctx, req, 0)
}

// Update re-imports the document body into recordID. Title, author and source ids
// of the record are left as they are.
func (p *Pipeline) Update(ctx context.Context, req Request, recordID int64) (*Outcome, error) {
	if recordID <= 0 {
		return nil, apperr.NotFound(fmt.Sprintf("record %d not found", recordID))
	}
	return p.run(ctx, req, recordID)
}

// run executes the import. target < 0 decides via FindExistingDraft, 0 creates, > 0 updates.
func (p *Pipeline) run(ctx context.Context, req Request, target int64) (*Outcome, error) {
	out, err := p.execute(ctx, req, target)
	if err != nil {
		p.fail(ctx, req, err)
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) execute(ctx context.Context, req Request, target int64) (*Outcome, error) {
	if req.Fetcher == nil {
		return nil, apperr.Credential("no credential available for import", nil)
	}

	doc, err := req.Fetcher.GetDocument(ctx, req.ProjectID, req.DocumentID)
	if err != nil {
		return nil, classifyFetch("failed to fetch document", err)
	}

	rec := &models.ContentRecord{
		Title:            utils.PlainText(doc.Title),
		Status:           models.StatusDraft,
		AuthorID:         req.AuthorID,
		SourceProjectID:  req.ProjectID,
		SourceDocumentID: req.DocumentID,
	}

	content, err := req.Fetcher.GetDocumentContent(ctx, req.ProjectID, req.DocumentID)
	if err != nil {
		return nil, classifyFetch("failed to fetch document content", err)
	}
	rec.BodyHTML = p.extractor.Extract(content)

	if target < 0 {
		if target, err = p.FindExistingDraft(ctx, req.ProjectID, req.DocumentID); err != nil {
			return nil, err
		}
	}

	out := &Outcome{}
	if target == 0 {
		err = p.create(ctx, rec)
		if errors.Is(err, storage.ErrDuplicateDraft) {
			// A concurrent delivery created the draft first; fold this one into it.
			if target, err = p.FindExistingDraft(ctx, req.ProjectID, req.DocumentID); err == nil {
				if target == 0 {
					err = apperr.Persistence("failed to create record", storage.ErrDuplicateDraft)
				} else {
					err = p.update(ctx, target, rec)
				}
			}
		}
	} else {
		err = p.update(ctx, target, rec)
	}
	if err != nil {
		return nil, err
	}
	out.RecordID = rec.ID
	out.Updated = target > 0

	out.MediaReplaced = p.localizeMedia(ctx, rec)

	if p.bus != nil {
		payload := events.RecordPayload{
			RecordID:   rec.ID,
			ProjectID:  req.ProjectID,
			DocumentID: req.DocumentID,
			AuthorID:   rec.AuthorID,
			Title:      rec.Title,
			BodyHTML:   rec.BodyHTML,
		}
		if out.Updated {
			p.bus.Publish(ctx, events.RecordUpdated(payload))
		} else {
			p.bus.Publish(ctx, events.RecordCreated(payload))
		}
	}
	if p.logger != nil {
		p.logger.Info("document imported",
			zap.String("project", req.ProjectID),
			zap.String("document", req.DocumentID),
			zap.Int64("record_id", rec.ID),
			zap.Bool("updated", out.Updated),
			zap.Int("media_replaced", out.MediaReplaced),
		)
	}
	return out, nil
}

func (p *Pipeline) create(ctx context.Context, rec *models.ContentRecord) error {
	if err := p.records.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateDraft) {
			return err
		}
		return apperr.Persistence("failed to create record", err)
	}
	return nil
}

// update stores rec's body on record id and reloads the stored title and author into rec.
func (p *Pipeline) update(ctx context.Context, id int64, rec *models.ContentRecord) error {
	if err := p.records.UpdateRecordBody(ctx, id, rec.BodyHTML); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(fmt.Sprintf("record %d not found", id))
		}
		return apperr.Persistence("failed to update record", err)
	}
	rec.ID = id
	if stored, err := p.records.GetRecord(ctx, id); err == nil {
		rec.Title = stored.Title
		rec.AuthorID = stored.AuthorID
		rec.Status = stored.Status
	}
	return nil
}

// localizeMedia runs the media pass over the stored body and writes back the rewritten
// body when it changed. It never fails the import.
func (p *Pipeline) localizeMedia(ctx context.Context, rec *models.ContentRecord) int {
	if p.rewriter == nil || rec.BodyHTML == "" {
		return 0
	}
	var allowed []string
	if p.domains != nil {
		allowed = p.domains()
	}
	res := p.rewriter.Rewrite(ctx, rec.ID, rec.BodyHTML, allowed)
	if !res.Changed(rec.BodyHTML) {
		return 0
	}
	if ctx.Err() != nil {
		return 0
	}
	if err := p.records.UpdateRecordBody(ctx, rec.ID, res.HTML); err != nil {
		if p.logger != nil {
			p.logger.Warn("media pass: failed to store rewritten body", zap.Int64("record_id", rec.ID), zap.Error(err))
		}
		return 0
	}
	rec.BodyHTML = res.HTML
	return res.Replaced
}

func (p *Pipeline) fail(ctx context.Context, req Request, err error) {
	code := apperr.CodeInternal
	if e, ok := apperr.As(err); ok {
		code = e.Code
	}
	if p.logger != nil {
		p.logger.Error("document import failed",
			zap.String("project", req.ProjectID),
			zap.String("document", req.DocumentID),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	if p.bus != nil {
		p.bus.Publish(ctx, events.ImportFailed(events.ImportFailedPayload{
			ProjectID:  req.ProjectID,
			DocumentID: req.DocumentID,
			Code:       code,
			Message:    err.Error(),
		}))
	}
}

// classifyFetch maps a source-service error to the error taxonomy.
func classifyFetch(msg string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, airstory.ErrMissingToken) {
		return apperr.Credential("missing credentials", err)
	}
	return apperr.Upstream(msg, err)
}

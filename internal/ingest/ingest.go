// Package ingest accepts emailed dealership reports through a single
// webhook entry point. One handler owns signature verification, attachment
// limits and archiving; the format-specific parsing sits behind the
// Processor interface.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"vendora/internal/common/config"
	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
	"vendora/internal/common/validation"
	"vendora/internal/store"
)

// Request is the webhook payload describing one inbound report email.
type Request struct {
	DealershipID string `json:"dealership_id"`
	Sender       string `json:"sender"`
	Subject      string `json:"subject"`
	ReceivedAt   string `json:"received_at"`
	Signature    string `json:"signature"`
}

// Attachment is one file from the report email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Processor turns one attachment into an archivable insight document.
// Implementations own all format heuristics.
type Processor interface {
	CanProcess(att Attachment) bool
	Process(ctx context.Context, dealershipID string, att Attachment) (store.InsightDocument, error)
}

// Archive is the slice of the insight archive the handler needs.
type Archive interface {
	Store(ctx context.Context, doc store.InsightDocument) error
}

// Result summarizes one webhook delivery.
type Result struct {
	Processed []string `json:"processed"`
	Skipped   []string `json:"skipped"`
}

type Handler struct {
	cfg        config.IngestConfig
	processors []Processor
	archive    Archive
	logger     logger.Logger
}

func NewHandler(cfg config.IngestConfig, archive Archive, log logger.Logger, processors ...Processor) *Handler {
	return &Handler{
		cfg:        cfg,
		processors: processors,
		archive:    archive,
		logger:     log,
	}
}

// Process verifies the webhook, runs every parseable attachment through
// its processor and archives the resulting documents. A single bad
// attachment skips, it does not fail the whole delivery.
func (h *Handler) Process(ctx context.Context, req Request, attachments []Attachment) (*Result, error) {
	if err := validation.ValidateDealershipID(req.DealershipID); err != nil {
		return nil, err
	}
	if !h.verifySignature(req) {
		return nil, stderrors.NewIngestSignatureInvalidError()
	}

	result := &Result{}
	for _, att := range attachments {
		if h.cfg.MaxAttachment > 0 && int64(len(att.Data)) > h.cfg.MaxAttachment {
			h.logger.Warn("Attachment exceeds size limit", map[string]interface{}{
				"dealershipId": req.DealershipID,
				"filename":     att.Filename,
				"bytes":        len(att.Data),
			})
			result.Skipped = append(result.Skipped, att.Filename)
			continue
		}

		processor := h.processorFor(att)
		if processor == nil {
			result.Skipped = append(result.Skipped, att.Filename)
			continue
		}

		doc, err := processor.Process(ctx, req.DealershipID, att)
		if err != nil {
			h.logger.Warn("Attachment parse failed", map[string]interface{}{
				"dealershipId": req.DealershipID,
				"filename":     att.Filename,
				"error":        err.Error(),
			})
			result.Skipped = append(result.Skipped, att.Filename)
			continue
		}

		doc.DealershipID = req.DealershipID
		if doc.ProcessedTimestamp.IsZero() {
			doc.ProcessedTimestamp = time.Now().UTC()
		}
		if err := h.archive.Store(ctx, doc); err != nil {
			return nil, err
		}
		result.Processed = append(result.Processed, att.Filename)
	}

	h.logger.Info("Report delivery ingested", map[string]interface{}{
		"dealershipId": req.DealershipID,
		"processed":    len(result.Processed),
		"skipped":      len(result.Skipped),
	})
	return result, nil
}

// verifySignature checks the HMAC-SHA256 of dealership id, sender and
// subject against the shared signing secret.
func (h *Handler) verifySignature(req Request) bool {
	if h.cfg.SigningSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.SigningSecret))
	mac.Write([]byte(req.DealershipID))
	mac.Write([]byte(req.Sender))
	mac.Write([]byte(req.Subject))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(req.Signature))
}

func (h *Handler) processorFor(att Attachment) Processor {
	for _, p := range h.processors {
		if p.CanProcess(att) {
			return p
		}
	}
	return nil
}

package api

import (
	"fmt"

	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/schema"
)

// ContentRequest carries raw schema content. Format may be omitted and is
// then detected from the content.
type ContentRequest struct {
	Format  string `json:"format,omitempty"`
	Content string `json:"content"`
}

func (r ContentRequest) format() (schema.Format, error) {
	if r.Content == "" {
		return 0, fmt.Errorf("content is required")
	}
	if r.Format == "" {
		return schema.DetectFormat([]byte(r.Content))
	}
	return schema.ParseFormat(r.Format)
}

// CompatibilityRequest checks content against a subject's registered versions
type CompatibilityRequest struct {
	ContentRequest
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Mode      string `json:"mode,omitempty"`
}

// AbandonRequest is the optional body of an abandon call
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// ResubmitRequest replaces the content of a rejected version
type ResubmitRequest struct {
	Content string `json:"content"`
}

// RollbackRequest is the body of a rollback call; the subject comes from
// the path.
type RollbackRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	Force  bool   `json:"force,omitempty"`
}

func (r RollbackRequest) toLifecycle(subject schema.Subject) (lifecycle.RollbackRequest, error) {
	from, err := schema.ParseVersion(r.From)
	if err != nil {
		return lifecycle.RollbackRequest{}, fmt.Errorf("invalid from version: %w", err)
	}
	to, err := schema.ParseVersion(r.To)
	if err != nil {
		return lifecycle.RollbackRequest{}, fmt.Errorf("invalid to version: %w", err)
	}
	return lifecycle.RollbackRequest{
		Subject: subject,
		From:    from,
		To:      to,
		Reason:  r.Reason,
		Force:   r.Force,
	}, nil
}

// VersionsResponse lists a subject's versions, oldest first
type VersionsResponse struct {
	Subject  schema.Subject          `json:"subject"`
	Versions []lifecycle.VersionInfo `json:"versions"`
}

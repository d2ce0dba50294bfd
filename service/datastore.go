package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/taugalabs/villageproposals/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStatusRegression is returned when a status update would move a
// project backwards. A submitted project never returns to draft.
var ErrStatusRegression = errors.New("project status cannot regress")

// Datastore persists projects, invoices, artifact file records and grading
// analyses as individual statements. No multi-table transaction wraps a
// submission; callers must tolerate partial rows.
type Datastore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	UpdateProjectStatus(ctx context.Context, id, status string) error
	GetProject(ctx context.Context, id string) (*model.Project, error)

	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	ListInvoices(ctx context.Context, projectID string) ([]model.Invoice, error)

	CreateArtifactFile(ctx context.Context, f *model.ArtifactFile) error
	ListArtifactFiles(ctx context.Context, projectID string) ([]model.ArtifactFile, error)

	UpsertAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, projectID string) (*model.Analysis, error)
}

// validateArtifactScope rejects file records whose category is unknown or
// whose invoice linkage does not match the category's scope, so an
// invoice-level artifact can never be stored without its owning invoice
// and a project-level one can never claim an invoice.
func validateArtifactScope(f *model.ArtifactFile) error {
	if !model.ValidCategory(f.Category) {
		return fmt.Errorf("unknown artifact category %q", f.Category)
	}
	if model.InvoiceScoped(f.Category) && f.InvoiceID == "" {
		return fmt.Errorf("category %q requires an owning invoice", f.Category)
	}
	if !model.InvoiceScoped(f.Category) && f.InvoiceID != "" {
		return fmt.Errorf("category %q is project-level", f.Category)
	}
	return nil
}

// statusRank orders project statuses so updates can refuse to regress.
func statusRank(status string) int {
	switch status {
	case model.StatusDraft:
		return 0
	case model.StatusSubmitted:
		return 1
	case model.StatusReviewed:
		return 2
	}
	return -1
}

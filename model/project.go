package model

import (
	"time"
)

// Project represents one procurement proposal submitted by a village
type Project struct {
	ID              string    `json:"id"`
	VillageName     string    `json:"village_name"`
	ProjectName     string    `json:"project_name"`
	SubmitterName   string    `json:"submitter_name"`
	SubmitterEmail  string    `json:"submitter_email"`
	SubmitterPhone  string    `json:"submitter_phone"`
	TotalCost       float64   `json:"total_cost"`
	AdditionalNotes string    `json:"additional_notes,omitempty"`
	LAApproval      *bool     `json:"la_approval"`
	AvivaApproval   *bool     `json:"aviva_approval"`
	Status          string    `json:"status"` // draft, submitted, reviewed
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Invoice is a single priced invoice inside a project. Immutable after
// creation; rows are only created during submission.
type Invoice struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactFile is the stored-file record for an uploaded artifact.
// InvoiceID is empty for project-level artifacts (committee approval,
// charge notice).
type ArtifactFile struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	InvoiceID       string    `json:"invoice_id,omitempty"`
	FileName        string    `json:"file_name"`
	StoragePath     string    `json:"storage_path"`
	Category        string    `json:"category"`
	Size            int64     `json:"size"`
	MimeType        string    `json:"mime_type"`
	ProposalOrdinal *int      `json:"proposal_ordinal,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Analysis is produced by the external grading collaborator and is
// read-only to this service apart from callback ingestion.
type Analysis struct {
	ProjectID  string    `json:"project_id"`
	Verdict    *bool     `json:"verdict"`
	Notes      string    `json:"notes,omitempty"`
	Confidence float64   `json:"confidence"`
	Issues     []string  `json:"issues,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Project status constants
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusReviewed  = "reviewed"
)

// Artifact categories
const (
	CategoryInvoice           = "invoice"
	CategoryProposal          = "proposal"
	CategoryTender            = "tender"
	CategoryCommitteeApproval = "committee_approval"
	CategoryChargeNotice      = "charge_notice"
)

// MaxNotesLength caps the additional notes field
const MaxNotesLength = 1000

// InvoiceScoped reports whether files of the given category must belong
// to an invoice rather than to the project itself.
func InvoiceScoped(category string) bool {
	switch category {
	case CategoryInvoice, CategoryProposal, CategoryTender:
		return true
	}
	return false
}

// ValidCategory reports whether the category is one this service stores.
func ValidCategory(category string) bool {
	switch category {
	case CategoryInvoice, CategoryProposal, CategoryTender,
		CategoryCommitteeApproval, CategoryChargeNotice:
		return true
	}
	return false
}

// Package wizard implements the client-side submission collector: a linear
// step machine that gathers contact details, the committee approval, invoice
// scans, per-invoice prices and the price proposals each price demands, and
// refuses to offer submission until every invoice satisfies its resolved
// document profile.
package wizard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/taugalabs/villageproposals/tier"
)

// Step identifies the wizard's current stage. Steps advance linearly;
// Back is the only way to revisit an earlier stage.
type Step int

const (
	StepContactInfo Step = iota
	StepApprovalDocument
	StepInvoiceCollection
	StepInvoicePricing
	StepProposalCollection
	StepReadyToSubmit
)

func (s Step) String() string {
	switch s {
	case StepContactInfo:
		return "contact_info"
	case StepApprovalDocument:
		return "approval_document"
	case StepInvoiceCollection:
		return "invoice_collection"
	case StepInvoicePricing:
		return "invoice_pricing"
	case StepProposalCollection:
		return "proposal_collection"
	case StepReadyToSubmit:
		return "ready_to_submit"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d\s\-\+\(\)]+$`)
)

var (
	ErrWrongStep         = errors.New("operation not allowed in current step")
	ErrIncomplete        = errors.New("submission requirements not met")
	ErrArtifactsDropped  = errors.New("price change invalidated collected artifacts")
	ErrOrdinalOutOfRange = errors.New("proposal slot out of range")
)

// FileRef is a client-side handle to a file picked for upload. The wizard
// tracks metadata only; bytes travel in the multipart request at the end.
type FileRef struct {
	Name     string
	Size     int64
	MimeType string
}

// ContactInfo is everything the first step collects.
type ContactInfo struct {
	Village        string
	ProjectName    string
	SubmitterName  string
	SubmitterEmail string
	SubmitterPhone string
	TotalCost      float64
}

// InvoiceEntry holds one invoice scan plus the artifacts its price demands.
// Requirements are always recomputed from the price, never stored as
// independently mutable state; only the slot array reflects them.
type InvoiceEntry struct {
	File      FileRef
	Price     float64
	priced    bool
	proposals []*FileRef
	tender    *FileRef
}

// Requirements resolves the document profile for the entry's current price.
func (e *InvoiceEntry) Requirements() (tier.Requirements, error) {
	if !e.priced {
		return tier.Requirements{}, tier.ErrInvalidAmount
	}
	return tier.Resolve(e.Price)
}

// Proposals returns the collected proposal files, one slot per required
// proposal; unfilled slots are nil.
func (e *InvoiceEntry) Proposals() []*FileRef { return e.proposals }

// Tender returns the collected tender document, if any.
func (e *InvoiceEntry) Tender() *FileRef { return e.tender }

func (e *InvoiceEntry) satisfied() bool {
	req, err := e.Requirements()
	if err != nil {
		return false
	}
	if len(e.proposals) != req.Proposals {
		return false
	}
	for _, p := range e.proposals {
		if p == nil {
			return false
		}
	}
	return (e.tender != nil) == req.Tender
}

// Collector walks a submitter through the steps and guards every
// transition. The zero value is not usable; call New.
type Collector struct {
	step              Step
	contact           ContactInfo
	committeeApproval *FileRef
	chargeNotice      *FileRef
	notes             string
	invoices          []*InvoiceEntry
}

func New() *Collector {
	return &Collector{step: StepContactInfo}
}

// Step returns the wizard's current stage.
func (c *Collector) Step() Step { return c.step }

// Invoices exposes the collected entries, in collection order.
func (c *Collector) Invoices() []*InvoiceEntry { return c.invoices }

// Contact returns the collected contact info.
func (c *Collector) Contact() ContactInfo { return c.contact }

// CommitteeApproval returns the collected approval document, if any.
func (c *Collector) CommitteeApproval() *FileRef { return c.committeeApproval }

// ChargeNotice returns the optional charge notice, if any.
func (c *Collector) ChargeNotice() *FileRef { return c.chargeNotice }

// SetChargeNotice attaches the optional project-level charge notice. It may
// be set at any step before submission.
func (c *Collector) SetChargeNotice(f FileRef) { c.chargeNotice = &f }

// SetNotes records the free-text notes field, truncation left to the
// server's validation.
func (c *Collector) SetNotes(notes string) { c.notes = notes }

// Notes returns the collected notes.
func (c *Collector) Notes() string { return c.notes }

// SubmitContactInfo validates the first step and advances to the approval
// document stage.
func (c *Collector) SubmitContactInfo(info ContactInfo) error {
	if c.step != StepContactInfo {
		return ErrWrongStep
	}
	if err := validateContact(info); err != nil {
		return err
	}
	c.contact = info
	c.step = StepApprovalDocument
	return nil
}

func validateContact(info ContactInfo) error {
	if strings.TrimSpace(info.Village) == "" {
		return errors.New("village is required")
	}
	if strings.TrimSpace(info.SubmitterName) == "" {
		return errors.New("submitter name is required")
	}
	if !emailPattern.MatchString(info.SubmitterEmail) {
		return errors.New("invalid email address")
	}
	if strings.TrimSpace(info.SubmitterPhone) == "" || !phonePattern.MatchString(info.SubmitterPhone) {
		return errors.New("invalid phone number")
	}
	if strings.TrimSpace(info.ProjectName) == "" {
		return errors.New("project name is required")
	}
	if _, err := tier.Resolve(info.TotalCost); err != nil {
		return fmt.Errorf("total cost: %w", err)
	}
	return nil
}

// SubmitCommitteeApproval records the approval document and advances to
// invoice collection.
func (c *Collector) SubmitCommitteeApproval(f FileRef) error {
	if c.step != StepApprovalDocument {
		return ErrWrongStep
	}
	c.committeeApproval = &f
	c.step = StepInvoiceCollection
	return nil
}

// SubmitInvoices records the invoice scans and advances to pricing.
// At least one invoice is required.
func (c *Collector) SubmitInvoices(files []FileRef) error {
	if c.step != StepInvoiceCollection {
		return ErrWrongStep
	}
	if len(files) == 0 {
		return errors.New("at least one invoice is required")
	}
	c.invoices = make([]*InvoiceEntry, len(files))
	for i, f := range files {
		c.invoices[i] = &InvoiceEntry{File: f}
	}
	c.step = StepInvoicePricing
	return nil
}

// SetPrice assigns a price to invoice i and sizes its proposal slots from
// the resolved profile. Changing a price after artifacts were collected
// drops those artifacts when the recomputed profile differs from the one
// the slots were sized for, and reports ErrArtifactsDropped so the caller
// can warn the submitter. Allowed during pricing and proposal collection.
func (c *Collector) SetPrice(i int, price float64) error {
	if c.step != StepInvoicePricing && c.step != StepProposalCollection {
		return ErrWrongStep
	}
	if i < 0 || i >= len(c.invoices) {
		return fmt.Errorf("invoice %d does not exist", i)
	}
	newReq, err := tier.Resolve(price)
	if err != nil {
		return err
	}

	entry := c.invoices[i]
	dropped := false
	if entry.priced {
		oldReq, _ := entry.Requirements()
		if oldReq != newReq && entry.hasArtifacts() {
			dropped = true
		}
	}

	entry.Price = price
	entry.priced = true
	if dropped || len(entry.proposals) != newReq.Proposals {
		entry.proposals = make([]*FileRef, newReq.Proposals)
		entry.tender = nil
	}
	if !newReq.Tender {
		entry.tender = nil
	}
	if dropped {
		return ErrArtifactsDropped
	}
	return nil
}

func (e *InvoiceEntry) hasArtifacts() bool {
	for _, p := range e.proposals {
		if p != nil {
			return true
		}
	}
	return e.tender != nil
}

// ConfirmPrices verifies every invoice has a valid price and advances to
// proposal collection.
func (c *Collector) ConfirmPrices() error {
	if c.step != StepInvoicePricing {
		return ErrWrongStep
	}
	for i, entry := range c.invoices {
		if _, err := entry.Requirements(); err != nil {
			return fmt.Errorf("invoice %d: %w", i+1, err)
		}
	}
	c.step = StepProposalCollection
	return nil
}

// AttachProposal fills proposal slot ordinal for invoice i.
func (c *Collector) AttachProposal(i, ordinal int, f FileRef) error {
	if c.step != StepProposalCollection {
		return ErrWrongStep
	}
	if i < 0 || i >= len(c.invoices) {
		return fmt.Errorf("invoice %d does not exist", i)
	}
	entry := c.invoices[i]
	if ordinal < 0 || ordinal >= len(entry.proposals) {
		return ErrOrdinalOutOfRange
	}
	entry.proposals[ordinal] = &f
	return nil
}

// AttachTender records the tender document for invoice i. Rejected when the
// invoice's price does not require one.
func (c *Collector) AttachTender(i int, f FileRef) error {
	if c.step != StepProposalCollection {
		return ErrWrongStep
	}
	if i < 0 || i >= len(c.invoices) {
		return fmt.Errorf("invoice %d does not exist", i)
	}
	entry := c.invoices[i]
	req, err := entry.Requirements()
	if err != nil {
		return err
	}
	if !req.Tender {
		return errors.New("tender document not required for this invoice")
	}
	entry.tender = &f
	return nil
}

// Finalize verifies every invoice satisfies its resolved profile and
// advances to ReadyToSubmit. This is the only gate to submission.
func (c *Collector) Finalize() error {
	if c.step != StepProposalCollection {
		return ErrWrongStep
	}
	if len(c.invoices) == 0 {
		return fmt.Errorf("%w: no invoices collected", ErrIncomplete)
	}
	for i, entry := range c.invoices {
		if !entry.satisfied() {
			return fmt.Errorf("%w: invoice %d is missing required documents", ErrIncomplete, i+1)
		}
	}
	c.step = StepReadyToSubmit
	return nil
}

// Back steps to the previous stage, discarding whatever the abandoned stage
// collected, mirroring the reset the submitter sees on screen.
func (c *Collector) Back() {
	switch c.step {
	case StepApprovalDocument:
		c.committeeApproval = nil
		c.step = StepContactInfo
	case StepInvoiceCollection:
		c.invoices = nil
		c.step = StepApprovalDocument
	case StepInvoicePricing:
		c.invoices = nil
		c.step = StepInvoiceCollection
	case StepProposalCollection:
		for _, entry := range c.invoices {
			entry.priced = false
			entry.proposals = nil
			entry.tender = nil
		}
		c.step = StepInvoicePricing
	case StepReadyToSubmit:
		c.step = StepProposalCollection
	}
}

// Reset returns the wizard to a blank first step.
func (c *Collector) Reset() {
	*c = Collector{step: StepContactInfo}
}

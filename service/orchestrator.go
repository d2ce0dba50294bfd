package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taugalabs/villageproposals/config"
	"github.com/taugalabs/villageproposals/model"
	"github.com/taugalabs/villageproposals/pkg/logger"
	"github.com/taugalabs/villageproposals/tier"
)

var (
	// ErrMissingFields marks caller-correctable input problems; nothing was
	// persisted when it is returned.
	ErrMissingFields = errors.New("missing required fields")
	// ErrPersistence marks datastore failures; earlier records of the same
	// request may already exist.
	ErrPersistence = errors.New("persistence failure")
	// ErrArtifact marks an artifact upload failure under the strict policy.
	ErrArtifact = errors.New("artifact upload failed")
)

// ArtifactUpload is one file arriving with a submission. Open is called
// once per upload attempt so concurrent uploads each get their own reader.
type ArtifactUpload struct {
	FileName string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// InvoiceInput is one invoice with the artifacts its tier demands. The
// server persists whatever arrives; document-count enforcement happened
// client-side and is deliberately not repeated here.
type InvoiceInput struct {
	Price     float64
	File      *ArtifactUpload
	Proposals []*ArtifactUpload
	Tender    *ArtifactUpload
}

// SubmissionInput is the complete payload of one submission request.
type SubmissionInput struct {
	VillageName       string
	ProjectName       string
	SubmitterName     string
	SubmitterEmail    string
	SubmitterPhone    string
	TotalCost         float64
	AdditionalNotes   string
	LAApproval        *bool
	AvivaApproval     *bool
	CommitteeApproval *ArtifactUpload
	ChargeNotice      *ArtifactUpload
	Invoices          []InvoiceInput
}

// ArtifactResult records the fate of one artifact so completeness is
// visible in the response instead of requiring a follow-up query.
// InvoiceIndex is -1 for project-level artifacts; Ordinal is -1 when the
// category carries no ordinal.
type ArtifactResult struct {
	Category     string `json:"category"`
	InvoiceIndex int    `json:"invoice_index"`
	Ordinal      int    `json:"ordinal"`
	FileName     string `json:"file_name"`
	StoragePath  string `json:"storage_path,omitempty"`
	URL          string `json:"url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Stored reports whether the artifact made it into storage and got its
// file record.
func (r *ArtifactResult) Stored() bool { return r.Error == "" && r.StoragePath != "" }

// SubmissionResult is returned once a submission completed (status flipped
// to submitted). FilesUploaded counts artifacts actually stored, which may
// be fewer than submitted under the lenient policy.
type SubmissionResult struct {
	Success          bool             `json:"success"`
	ProjectID        string           `json:"project_id"`
	InvoicesCreated  int              `json:"invoices_created"`
	FilesUploaded    int              `json:"files_uploaded"`
	Artifacts        []ArtifactResult `json:"artifacts"`
	NotificationSent bool             `json:"notification_sent"`
}

// Orchestrator runs the server side of a submission: validate, persist,
// upload, publish access URLs, notify the grading collaborator.
type Orchestrator struct {
	store    Datastore
	objects  ObjectStore
	notifier Notifier
	minioCfg *config.MinioConfig
	strict   bool
}

func NewOrchestrator(store Datastore, objects ObjectStore, notifier Notifier, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		objects:  objects,
		notifier: notifier,
		minioCfg: &cfg.Minio,
		strict:   cfg.Upload.Policy == config.PolicyStrict,
	}
}

// Submit processes one submission request. On a validation error nothing
// is persisted. Once the project row exists there is no rollback: later
// failures leave earlier records in place.
func (o *Orchestrator) Submit(ctx context.Context, input *SubmissionInput) (*SubmissionResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	for i, inv := range input.Invoices {
		if _, err := tier.Resolve(inv.Price); err != nil {
			return nil, fmt.Errorf("invoice %d: %w", i+1, err)
		}
	}

	project := &model.Project{
		ID:              uuid.New().String(),
		VillageName:     input.VillageName,
		ProjectName:     input.ProjectName,
		SubmitterName:   input.SubmitterName,
		SubmitterEmail:  input.SubmitterEmail,
		SubmitterPhone:  input.SubmitterPhone,
		TotalCost:       input.TotalCost,
		AdditionalNotes: input.AdditionalNotes,
		LAApproval:      input.LAApproval,
		AvivaApproval:   input.AvivaApproval,
		Status:          model.StatusDraft,
	}
	if err := o.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("%w: create project: %v", ErrPersistence, err)
	}

	ctx = context.WithValue(ctx, logger.ProjectIDKey, project.ID)

	// Pre-size the result table so concurrent workers write disjoint slots.
	results := buildResultTable(input)

	g, gctx := errgroup.WithContext(ctx)
	for i := range input.Invoices {
		i := i
		g.Go(func() error {
			return o.processInvoice(gctx, project.ID, i, &input.Invoices[i], results)
		})
	}
	for _, slot := range []struct {
		category string
		file     *ArtifactUpload
	}{
		{model.CategoryCommitteeApproval, input.CommitteeApproval},
		{model.CategoryChargeNotice, input.ChargeNotice},
	} {
		if slot.file == nil {
			continue
		}
		slot := slot
		g.Go(func() error {
			res := findResult(results, slot.category, -1, -1)
			return o.uploadArtifact(gctx, project.ID, "", slot.file, res)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := o.store.UpdateProjectStatus(ctx, project.ID, model.StatusSubmitted); err != nil {
		return nil, fmt.Errorf("%w: finalize project: %v", ErrPersistence, err)
	}

	o.publishURLs(ctx, results)

	result := &SubmissionResult{
		Success:         true,
		ProjectID:       project.ID,
		InvoicesCreated: len(input.Invoices),
		Artifacts:       flattenResults(results),
	}
	for _, r := range result.Artifacts {
		if r.Stored() {
			result.FilesUploaded++
		}
	}

	// The response is already determined; the grader outcome can only be
	// observed in logs and in NotificationSent.
	result.NotificationSent = o.notify(ctx, project, input, result.Artifacts)

	return result, nil
}

func validateInput(input *SubmissionInput) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s", ErrMissingFields, field)
	}
	if strings.TrimSpace(input.VillageName) == "" {
		return missing("villageName")
	}
	if strings.TrimSpace(input.ProjectName) == "" {
		return missing("projectName")
	}
	if strings.TrimSpace(input.SubmitterName) == "" {
		return missing("submitterName")
	}
	if strings.TrimSpace(input.SubmitterEmail) == "" {
		return missing("submitterEmail")
	}
	if strings.TrimSpace(input.SubmitterPhone) == "" {
		return missing("submitterPhone")
	}
	// NaN fails no ordered comparison, so <= 0 alone would let it through;
	// a NaN total also breaks the notice JSON encoding later.
	if input.TotalCost <= 0 || math.IsNaN(input.TotalCost) || math.IsInf(input.TotalCost, 0) {
		return missing("totalCost")
	}
	if len(input.AdditionalNotes) > model.MaxNotesLength {
		return fmt.Errorf("%w: additionalNotes exceeds %d characters", ErrMissingFields, model.MaxNotesLength)
	}
	if input.CommitteeApproval == nil {
		return missing("committeeApprovalFile")
	}
	if len(input.Invoices) == 0 {
		return missing("invoices")
	}
	for i, inv := range input.Invoices {
		if inv.File == nil {
			return missing(fmt.Sprintf("invoiceFile_%d", i))
		}
	}
	return nil
}

// invoiceResults groups the result slots for one invoice.
type invoiceResults struct {
	invoice   *ArtifactResult
	proposals []*ArtifactResult
	tender    *ArtifactResult
}

// resultTable holds every artifact's result slot, allocated up front.
type resultTable struct {
	invoices     []invoiceResults
	projectLevel []*ArtifactResult
}

func buildResultTable(input *SubmissionInput) *resultTable {
	t := &resultTable{}
	for i, inv := range input.Invoices {
		ir := invoiceResults{
			invoice: &ArtifactResult{
				Category:     model.CategoryInvoice,
				InvoiceIndex: i,
				Ordinal:      -1,
				FileName:     inv.File.FileName,
			},
		}
		for j, p := range inv.Proposals {
			ir.proposals = append(ir.proposals, &ArtifactResult{
				Category:     model.CategoryProposal,
				InvoiceIndex: i,
				Ordinal:      j,
				FileName:     p.FileName,
			})
		}
		if inv.Tender != nil {
			ir.tender = &ArtifactResult{
				Category:     model.CategoryTender,
				InvoiceIndex: i,
				Ordinal:      -1,
				FileName:     inv.Tender.FileName,
			}
		}
		t.invoices = append(t.invoices, ir)
	}
	if input.CommitteeApproval != nil {
		t.projectLevel = append(t.projectLevel, &ArtifactResult{
			Category:     model.CategoryCommitteeApproval,
			InvoiceIndex: -1,
			Ordinal:      -1,
			FileName:     input.CommitteeApproval.FileName,
		})
	}
	if input.ChargeNotice != nil {
		t.projectLevel = append(t.projectLevel, &ArtifactResult{
			Category:     model.CategoryChargeNotice,
			InvoiceIndex: -1,
			Ordinal:      -1,
			FileName:     input.ChargeNotice.FileName,
		})
	}
	return t
}

func findResult(t *resultTable, category string, invoiceIndex, ordinal int) *ArtifactResult {
	if invoiceIndex < 0 {
		for _, r := range t.projectLevel {
			if r.Category == category {
				return r
			}
		}
		return nil
	}
	ir := t.invoices[invoiceIndex]
	switch category {
	case model.CategoryInvoice:
		return ir.invoice
	case model.CategoryTender:
		return ir.tender
	case model.CategoryProposal:
		return ir.proposals[ordinal]
	}
	return nil
}

func flattenResults(t *resultTable) []ArtifactResult {
	var out []ArtifactResult
	for _, ir := range t.invoices {
		out = append(out, *ir.invoice)
		for _, p := range ir.proposals {
			out = append(out, *p)
		}
		if ir.tender != nil {
			out = append(out, *ir.tender)
		}
	}
	for _, r := range t.projectLevel {
		out = append(out, *r)
	}
	return out
}

// processInvoice creates the invoice row, then uploads its artifacts
// concurrently. The row must exist before any artifact can reference it;
// a row failure aborts the whole request so required records are never
// silently skipped.
func (o *Orchestrator) processInvoice(ctx context.Context, projectID string, idx int, input *InvoiceInput, results *resultTable) error {
	invoice := &model.Invoice{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Price:     input.Price,
	}
	if err := o.store.CreateInvoice(ctx, invoice); err != nil {
		return fmt.Errorf("%w: create invoice %d: %v", ErrPersistence, idx+1, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res := findResult(results, model.CategoryInvoice, idx, -1)
		return o.uploadArtifact(gctx, projectID, invoice.ID, input.File, res)
	})
	for j := range input.Proposals {
		j := j
		g.Go(func() error {
			res := findResult(results, model.CategoryProposal, idx, j)
			return o.uploadArtifact(gctx, projectID, invoice.ID, input.Proposals[j], res)
		})
	}
	if input.Tender != nil {
		g.Go(func() error {
			res := findResult(results, model.CategoryTender, idx, -1)
			return o.uploadArtifact(gctx, projectID, invoice.ID, input.Tender, res)
		})
	}
	return g.Wait()
}

// uploadArtifact stores one artifact and creates its file record, writing
// the outcome into res. Under the lenient policy failures are logged and
// absorbed: the record is simply never created. Under the strict policy
// the failure aborts the request.
func (o *Orchestrator) uploadArtifact(ctx context.Context, projectID, invoiceID string, upload *ArtifactUpload, res *ArtifactResult) error {
	ordinal := -1
	if res.Category == model.CategoryProposal {
		ordinal = res.Ordinal
	} else if res.Category == model.CategoryInvoice {
		ordinal = res.InvoiceIndex
	}
	objectName := ObjectName(projectID, res.Category, upload.FileName, ordinal)

	err := o.storeObject(ctx, objectName, upload)
	if err == nil {
		file := &model.ArtifactFile{
			ID:          uuid.New().String(),
			ProjectID:   projectID,
			InvoiceID:   invoiceID,
			FileName:    upload.FileName,
			StoragePath: objectName,
			Category:    res.Category,
			Size:        upload.Size,
			MimeType:    upload.MimeType,
		}
		if res.Category == model.CategoryProposal {
			ord := res.Ordinal
			file.ProposalOrdinal = &ord
		}
		if err = o.store.CreateArtifactFile(ctx, file); err != nil {
			err = fmt.Errorf("create file record: %w", err)
		}
	}

	if err != nil {
		res.Error = err.Error()
		logger.Warn(ctx, "artifact not stored",
			"category", res.Category,
			"file_name", upload.FileName,
			"error", err,
		)
		if o.strict {
			return fmt.Errorf("%w: %s %s: %v", ErrArtifact, res.Category, upload.FileName, err)
		}
		return nil
	}

	res.StoragePath = objectName
	return nil
}

func (o *Orchestrator) storeObject(ctx context.Context, objectName string, upload *ArtifactUpload) error {
	reader, err := upload.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer reader.Close()
	return o.objects.Upload(ctx, objectName, reader, upload.Size, upload.MimeType)
}

// publishURLs generates signed access URLs for every stored artifact,
// fanned out concurrently. A URL failure only loses that link.
func (o *Orchestrator) publishURLs(ctx context.Context, results *resultTable) {
	var g errgroup.Group
	for _, ir := range results.invoices {
		slots := append([]*ArtifactResult{ir.invoice}, ir.proposals...)
		if ir.tender != nil {
			slots = append(slots, ir.tender)
		}
		for _, res := range slots {
			res := res
			g.Go(func() error { o.signResult(ctx, res); return nil })
		}
	}
	for _, res := range results.projectLevel {
		res := res
		g.Go(func() error { o.signResult(ctx, res); return nil })
	}
	g.Wait()
}

func (o *Orchestrator) signResult(ctx context.Context, res *ArtifactResult) {
	if !res.Stored() {
		return
	}
	url, err := o.objects.SignedURL(ctx, res.StoragePath, URLTTLFor(o.minioCfg, res.Category))
	if err != nil {
		logger.Warn(ctx, "failed to sign artifact URL",
			"storage_path", res.StoragePath,
			"error", err,
		)
		return
	}
	res.URL = url
}

// notify dispatches the grader webhook. Failures are logged only and never
// change the submission outcome.
func (o *Orchestrator) notify(ctx context.Context, project *model.Project, input *SubmissionInput, artifacts []ArtifactResult) bool {
	notice := &SubmissionNotice{
		ProjectID:   project.ID,
		ProjectName: project.ProjectName,
		VillageName: project.VillageName,
		TotalCost:   project.TotalCost,
	}

	perInvoice := make([]InvoiceNotice, len(input.Invoices))
	for i, inv := range input.Invoices {
		perInvoice[i].Price = inv.Price
	}

	var allInvoiceURLs, allProposalURLs []string
	for _, r := range artifacts {
		if r.URL == "" {
			continue
		}
		switch r.Category {
		case model.CategoryCommitteeApproval:
			notice.CommitteeApprovalURL = r.URL
		case model.CategoryChargeNotice:
			notice.ChargeNoticeURL = r.URL
		case model.CategoryInvoice:
			allInvoiceURLs = append(allInvoiceURLs, r.URL)
			perInvoice[r.InvoiceIndex].InvoiceURL = r.URL
		case model.CategoryProposal:
			allProposalURLs = append(allProposalURLs, r.URL)
			n := &perInvoice[r.InvoiceIndex]
			if n.ProposalURLs == "" {
				n.ProposalURLs = r.URL
			} else {
				n.ProposalURLs += "," + r.URL
			}
		case model.CategoryTender:
			perInvoice[r.InvoiceIndex].TenderURL = r.URL
		}
	}
	notice.InvoiceURLs = strings.Join(allInvoiceURLs, ",")
	notice.ProposalURLs = strings.Join(allProposalURLs, ",")
	notice.Invoices = perInvoice

	if err := o.notifier.NotifySubmission(ctx, notice); err != nil {
		logger.Warn(ctx, "grader notification failed",
			"project_id", project.ID,
			"error", err,
		)
		return false
	}
	return true
}

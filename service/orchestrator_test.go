package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taugalabs/villageproposals/config"
	"github.com/taugalabs/villageproposals/model"
	"github.com/taugalabs/villageproposals/tier"
)

// fakeObjectStore records uploads in memory and can be told to fail
// specific objects by substring.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]int64
	fail    []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string]int64)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	for _, s := range f.fail {
		if strings.Contains(objectName, s) {
			return fmt.Errorf("transient storage failure for %s", objectName)
		}
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = size
	return nil
}

func (f *fakeObjectStore) SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + objectName, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []*SubmissionNotice
	err     error
}

func (f *fakeNotifier) NotifySubmission(ctx context.Context, notice *SubmissionNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notices = append(f.notices, notice)
	return nil
}

func upload(name string) *ArtifactUpload {
	content := []byte("pdf-bytes-" + name)
	return &ArtifactUpload{
		FileName: name,
		Size:     int64(len(content)),
		MimeType: "application/pdf",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func invoiceInput(price float64, proposals int, tender bool) InvoiceInput {
	in := InvoiceInput{
		Price: price,
		File:  upload("invoice.pdf"),
	}
	for j := 0; j < proposals; j++ {
		in.Proposals = append(in.Proposals, upload(fmt.Sprintf("proposal_%d.pdf", j)))
	}
	if tender {
		in.Tender = upload("tender.pdf")
	}
	return in
}

func validInput() *SubmissionInput {
	return &SubmissionInput{
		VillageName:       "Ein Harod",
		ProjectName:       "Community hall renovation",
		SubmitterName:     "Dana Levi",
		SubmitterEmail:    "dana@example.com",
		SubmitterPhone:    "050-1234567",
		TotalCost:         202000,
		CommitteeApproval: upload("approval.pdf"),
		Invoices: []InvoiceInput{
			invoiceInput(2000, 1, false),
			invoiceInput(200000, 4, true),
		},
	}
}

func testConfig(policy string) *config.Config {
	return &config.Config{
		Minio: config.MinioConfig{
			ApprovalURLExpireDays:  7,
			ArtifactURLExpireHours: 1,
		},
		Upload: config.UploadConfig{Policy: policy},
	}
}

func newTestOrchestrator(policy string) (*Orchestrator, *MemoryStore, *fakeObjectStore, *fakeNotifier) {
	store := NewMemoryStore()
	objects := newFakeObjectStore()
	notifier := &fakeNotifier{}
	return NewOrchestrator(store, objects, notifier, testConfig(policy)), store, objects, notifier
}

func TestSubmitTwoInvoices(t *testing.T) {
	orch, store, objects, notifier := newTestOrchestrator(config.PolicyLenient)
	ctx := context.Background()

	result, err := orch.Submit(ctx, validInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !result.Success {
		t.Error("Expected Success to be set on a completed submission")
	}
	if result.InvoicesCreated != 2 {
		t.Errorf("InvoicesCreated = %d, want 2", result.InvoicesCreated)
	}
	// invoice+1 proposal, invoice+4 proposals+tender, plus committee approval
	if result.FilesUploaded != 9 {
		t.Errorf("FilesUploaded = %d, want 9", result.FilesUploaded)
	}

	invoices, _ := store.ListInvoices(ctx, result.ProjectID)
	if len(invoices) != 2 {
		t.Fatalf("Expected 2 invoice rows, got %d", len(invoices))
	}

	files, _ := store.ListArtifactFiles(ctx, result.ProjectID)
	if len(files) != 9 {
		t.Errorf("Expected 9 artifact rows, got %d", len(files))
	}

	counts := store.CountArtifacts(result.ProjectID)
	if counts[model.CategoryInvoice] != 2 || counts[model.CategoryProposal] != 5 ||
		counts[model.CategoryTender] != 1 || counts[model.CategoryCommitteeApproval] != 1 {
		t.Errorf("Unexpected artifact breakdown: %v", counts)
	}

	if len(objects.objects) != 9 {
		t.Errorf("Expected 9 stored objects, got %d", len(objects.objects))
	}

	project, err := store.GetProject(ctx, result.ProjectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.Status != model.StatusSubmitted {
		t.Errorf("Project status = %s, want submitted", project.Status)
	}

	if !result.NotificationSent {
		t.Error("Expected notification to be sent")
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("Expected 1 notice, got %d", len(notifier.notices))
	}
	notice := notifier.notices[0]
	if len(notice.Invoices) != 2 {
		t.Fatalf("Notice has %d invoice sections, want 2", len(notice.Invoices))
	}
	if notice.CommitteeApprovalURL == "" {
		t.Error("Notice missing committee approval URL")
	}
	if got := len(strings.Split(notice.Invoices[1].ProposalURLs, ",")); got != 4 {
		t.Errorf("Second invoice proposal URLs = %d, want 4", got)
	}
	if notice.Invoices[1].TenderURL == "" {
		t.Error("Notice missing tender URL for high-tier invoice")
	}
}

func TestSubmitTolerantTenderFailure(t *testing.T) {
	orch, store, objects, _ := newTestOrchestrator(config.PolicyLenient)
	objects.fail = []string{"tender"}
	ctx := context.Background()

	result, err := orch.Submit(ctx, validInput())
	if err != nil {
		t.Fatalf("Submit with failing tender upload: %v", err)
	}

	if result.FilesUploaded != 8 {
		t.Errorf("FilesUploaded = %d, want 8", result.FilesUploaded)
	}

	// The response still reports success; only the stored artifact set
	// reveals the missing tender.
	counts := store.CountArtifacts(result.ProjectID)
	if counts[model.CategoryTender] != 0 {
		t.Errorf("Tender rows = %d, want 0", counts[model.CategoryTender])
	}

	var tenderResult *ArtifactResult
	for i := range result.Artifacts {
		if result.Artifacts[i].Category == model.CategoryTender {
			tenderResult = &result.Artifacts[i]
		}
	}
	if tenderResult == nil {
		t.Fatal("Expected a tender entry in the result table")
	}
	if tenderResult.Error == "" {
		t.Error("Expected tender result to carry the upload error")
	}
	if tenderResult.Stored() {
		t.Error("Tender result should not read as stored")
	}

	project, _ := store.GetProject(ctx, result.ProjectID)
	if project.Status != model.StatusSubmitted {
		t.Errorf("Project status = %s, want submitted despite lost tender", project.Status)
	}
}

func TestSubmitStrictPolicyAborts(t *testing.T) {
	orch, _, objects, _ := newTestOrchestrator(config.PolicyStrict)
	objects.fail = []string{"tender"}

	_, err := orch.Submit(context.Background(), validInput())
	if !errors.Is(err, ErrArtifact) {
		t.Errorf("Submit under strict policy = %v, want ErrArtifact", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmissionInput)
	}{
		{"missing village", func(in *SubmissionInput) { in.VillageName = "" }},
		{"missing project name", func(in *SubmissionInput) { in.ProjectName = " " }},
		{"missing submitter name", func(in *SubmissionInput) { in.SubmitterName = "" }},
		{"missing email", func(in *SubmissionInput) { in.SubmitterEmail = "" }},
		{"missing phone", func(in *SubmissionInput) { in.SubmitterPhone = "" }},
		{"zero total cost", func(in *SubmissionInput) { in.TotalCost = 0 }},
		{"NaN total cost", func(in *SubmissionInput) { in.TotalCost = math.NaN() }},
		{"infinite total cost", func(in *SubmissionInput) { in.TotalCost = math.Inf(1) }},
		{"oversized notes", func(in *SubmissionInput) { in.AdditionalNotes = strings.Repeat("x", 1001) }},
		{"missing committee approval", func(in *SubmissionInput) { in.CommitteeApproval = nil }},
		{"no invoices", func(in *SubmissionInput) { in.Invoices = nil }},
		{"invoice without file", func(in *SubmissionInput) { in.Invoices[0].File = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, store, objects, _ := newTestOrchestrator(config.PolicyLenient)
			input := validInput()
			tt.mutate(input)

			_, err := orch.Submit(context.Background(), input)
			if !errors.Is(err, ErrMissingFields) {
				t.Fatalf("Submit = %v, want ErrMissingFields", err)
			}
			// No side effects on validation failure
			if len(store.projects) != 0 {
				t.Error("Project row created despite validation failure")
			}
			if len(objects.objects) != 0 {
				t.Error("Objects uploaded despite validation failure")
			}
		})
	}
}

func TestSubmitRejectsBadPriceWholeRequest(t *testing.T) {
	orch, store, objects, _ := newTestOrchestrator(config.PolicyLenient)
	input := validInput()
	input.Invoices[1].Price = -50

	_, err := orch.Submit(context.Background(), input)
	if !errors.Is(err, tier.ErrInvalidAmount) {
		t.Fatalf("Submit = %v, want ErrInvalidAmount", err)
	}
	if len(store.projects) != 0 || len(store.invoices) != 0 {
		t.Error("Records created despite invalid price")
	}
	if len(objects.objects) != 0 {
		t.Error("Objects uploaded despite invalid price")
	}
}

func TestSubmitNotificationFailureInvisible(t *testing.T) {
	orch, _, _, notifier := newTestOrchestrator(config.PolicyLenient)
	notifier.err = errors.New("grader is down")

	result, err := orch.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.NotificationSent {
		t.Error("NotificationSent = true despite grader failure")
	}
	if result.FilesUploaded != 9 {
		t.Errorf("FilesUploaded = %d, want 9", result.FilesUploaded)
	}
}

func TestSubmitPersistsUndersuppliedInvoice(t *testing.T) {
	// The document-count gate lives client-side; a payload short on
	// proposals is stored as-is.
	orch, store, _, _ := newTestOrchestrator(config.PolicyLenient)
	input := validInput()
	input.Invoices = []InvoiceInput{invoiceInput(200000, 0, false)}

	result, err := orch.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.InvoicesCreated != 1 {
		t.Errorf("InvoicesCreated = %d, want 1", result.InvoicesCreated)
	}
	counts := store.CountArtifacts(result.ProjectID)
	if counts[model.CategoryProposal] != 0 {
		t.Errorf("Proposal rows = %d, want 0", counts[model.CategoryProposal])
	}
}

func TestSubmitSignedURLsInResult(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(config.PolicyLenient)

	result, err := orch.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, r := range result.Artifacts {
		if r.Stored() && r.URL == "" {
			t.Errorf("Stored artifact %s/%s has no access URL", r.Category, r.FileName)
		}
	}
}

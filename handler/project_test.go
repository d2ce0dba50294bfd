package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/taugalabs/villageproposals/model"
	"github.com/taugalabs/villageproposals/service"
)

func seedProject(t *testing.T, store *service.MemoryStore) string {
	t.Helper()
	ctx := context.Background()

	project := &model.Project{
		ID:          "proj-lookup",
		VillageName: "Ein Harod",
		ProjectName: "Community hall renovation",
		TotalCost:   2000,
		Status:      model.StatusDraft,
	}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	invoice := &model.Invoice{ID: "inv-1", ProjectID: project.ID, Price: 2000}
	if err := store.CreateInvoice(ctx, invoice); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	files := []*model.ArtifactFile{
		{ID: "f-1", ProjectID: project.ID, InvoiceID: invoice.ID, FileName: "invoice.pdf", StoragePath: "a/invoice", Category: model.CategoryInvoice},
		{ID: "f-2", ProjectID: project.ID, InvoiceID: invoice.ID, FileName: "proposal.pdf", StoragePath: "b/proposal", Category: model.CategoryProposal},
		{ID: "f-3", ProjectID: project.ID, FileName: "approval.pdf", StoragePath: "c/approval", Category: model.CategoryCommitteeApproval},
	}
	for _, f := range files {
		if err := store.CreateArtifactFile(ctx, f); err != nil {
			t.Fatalf("CreateArtifactFile(%s): %v", f.ID, err)
		}
	}
	return project.ID
}

func getProject(handler *ProjectHandler, id string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/projects/:id", handler.Get)
	req := httptest.NewRequest("GET", "/projects/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProjectHandlerGet(t *testing.T) {
	store := service.NewMemoryStore()
	projectID := seedProject(t, store)
	handler := NewProjectHandler(store)

	w := getProject(handler, projectID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		Project  model.Project        `json:"project"`
		Invoices []model.Invoice      `json:"invoices"`
		Files    []model.ArtifactFile `json:"files"`
		Analysis *model.Analysis      `json:"analysis"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Project.ID != projectID {
		t.Errorf("Project ID = %s, want %s", response.Project.ID, projectID)
	}
	if len(response.Invoices) != 1 {
		t.Errorf("Invoices = %d, want 1", len(response.Invoices))
	}
	if len(response.Files) != 3 {
		t.Errorf("Files = %d, want 3", len(response.Files))
	}
	if response.Analysis != nil {
		t.Error("Expected no analysis before the grader reports")
	}
}

func TestProjectHandlerGetWithAnalysis(t *testing.T) {
	store := service.NewMemoryStore()
	projectID := seedProject(t, store)
	handler := NewProjectHandler(store)

	verdict := false
	analysis := &model.Analysis{
		ProjectID:  projectID,
		Verdict:    &verdict,
		Notes:      "Missing charge notice",
		Confidence: 0.8,
	}
	if err := store.UpsertAnalysis(context.Background(), analysis); err != nil {
		t.Fatalf("UpsertAnalysis: %v", err)
	}

	w := getProject(handler, projectID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Analysis *model.Analysis `json:"analysis"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Analysis == nil {
		t.Fatal("Expected analysis in response")
	}
	if response.Analysis.Verdict == nil || *response.Analysis.Verdict {
		t.Error("Expected a negative verdict")
	}
}

func TestProjectHandlerGetNotFound(t *testing.T) {
	handler := NewProjectHandler(service.NewMemoryStore())

	w := getProject(handler, "missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

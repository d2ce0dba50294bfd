package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/taugalabs/villageproposals/config"
	"github.com/taugalabs/villageproposals/model"
	"github.com/taugalabs/villageproposals/service"
)

const callbackSeed = "test-seed"

func checksumFor(projectID, content string) string {
	hash := sha256.Sum256([]byte(projectID + callbackSeed + content))
	return hex.EncodeToString(hash[:])
}

func newCallbackFixture(t *testing.T) (*CallbackHandler, *service.MemoryStore, string) {
	t.Helper()
	store := service.NewMemoryStore()
	project := &model.Project{
		ID:          "proj-1",
		VillageName: "Ein Harod",
		ProjectName: "Community hall renovation",
		TotalCost:   2000,
		Status:      model.StatusDraft,
	}
	if err := store.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := store.UpdateProjectStatus(context.Background(), project.ID, model.StatusSubmitted); err != nil {
		t.Fatalf("UpdateProjectStatus: %v", err)
	}

	grader := service.NewGraderService(&config.GraderConfig{CallbackSeed: callbackSeed})
	return NewCallbackHandler(grader, store), store, project.ID
}

func postCallback(handler *CallbackHandler, body interface{}) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/callback", handler.HandleCallback)

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		data, _ := json.Marshal(b)
		buf.Write(data)
	}
	req := httptest.NewRequest("POST", "/callback", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCallbackHandlerStoresVerdict(t *testing.T) {
	handler, store, projectID := newCallbackFixture(t)

	verdict := true
	content, _ := json.Marshal(CallbackContent{
		ProjectID:  projectID,
		Verdict:    &verdict,
		Notes:      "Documents complete",
		Confidence: 0.93,
		Issues:     []string{"invoice 2 missing stamp"},
	})

	w := postCallback(handler, CallbackRequest{
		Checksum: checksumFor(projectID, string(content)),
		Content:  string(content),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	analysis, err := store.GetAnalysis(context.Background(), projectID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if analysis.Verdict == nil || !*analysis.Verdict {
		t.Error("Expected a positive verdict")
	}
	if analysis.Confidence != 0.93 {
		t.Errorf("Confidence = %v, want 0.93", analysis.Confidence)
	}
	if len(analysis.Issues) != 1 {
		t.Errorf("Issues = %v, want one entry", analysis.Issues)
	}

	project, _ := store.GetProject(context.Background(), projectID)
	if project.Status != model.StatusReviewed {
		t.Errorf("Project status = %s, want reviewed", project.Status)
	}
}

func TestCallbackHandlerRepeatDelivery(t *testing.T) {
	handler, store, projectID := newCallbackFixture(t)

	content, _ := json.Marshal(CallbackContent{ProjectID: projectID, Confidence: 0.5})
	req := CallbackRequest{
		Checksum: checksumFor(projectID, string(content)),
		Content:  string(content),
	}

	for i := 0; i < 2; i++ {
		if w := postCallback(handler, req); w.Code != http.StatusOK {
			t.Fatalf("Delivery %d: expected status 200, got %d", i+1, w.Code)
		}
	}

	project, _ := store.GetProject(context.Background(), projectID)
	if project.Status != model.StatusReviewed {
		t.Errorf("Project status = %s, want reviewed", project.Status)
	}
}

func TestCallbackHandlerInvalidChecksum(t *testing.T) {
	handler, store, projectID := newCallbackFixture(t)

	content, _ := json.Marshal(CallbackContent{ProjectID: projectID})
	w := postCallback(handler, CallbackRequest{
		Checksum: "deadbeef",
		Content:  string(content),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if _, err := store.GetAnalysis(context.Background(), projectID); err == nil {
		t.Error("Analysis stored despite bad checksum")
	}
}

func TestCallbackHandlerUnknownProject(t *testing.T) {
	handler, _, _ := newCallbackFixture(t)

	content, _ := json.Marshal(CallbackContent{ProjectID: "no-such-project"})
	w := postCallback(handler, CallbackRequest{
		Checksum: checksumFor("no-such-project", string(content)),
		Content:  string(content),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCallbackHandlerBadPayload(t *testing.T) {
	handler, _, _ := newCallbackFixture(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "not json"},
		{"invalid content", CallbackRequest{Checksum: "x", Content: "not json"}},
		{"missing project id", CallbackRequest{Checksum: "x", Content: "{}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postCallback(handler, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taugalabs/villageproposals/config"
)

// Notifier dispatches a submission notice to the external grading
// collaborator. Implementations may queue; the default posts synchronously.
type Notifier interface {
	NotifySubmission(ctx context.Context, notice *SubmissionNotice) error
}

// SubmissionNotice is the webhook payload sent to the grading collaborator
// once a submission is stored. URL fields carry time-limited access links;
// joined lists are comma-separated for the collaborator's flat schema.
type SubmissionNotice struct {
	ProjectID            string          `json:"projectId"`
	ProjectName          string          `json:"projectName"`
	VillageName          string          `json:"villageName"`
	TotalCost            float64         `json:"totalCost"`
	CommitteeApprovalURL string          `json:"committeeApprovalUrl,omitempty"`
	ChargeNoticeURL      string          `json:"chargeNoticeUrl,omitempty"`
	InvoiceURLs          string          `json:"invoiceUrls,omitempty"`
	ProposalURLs         string          `json:"proposalUrls,omitempty"`
	Invoices             []InvoiceNotice `json:"invoices"`
}

// InvoiceNotice is the per-invoice section of the notification payload.
type InvoiceNotice struct {
	Price        float64 `json:"price"`
	InvoiceURL   string  `json:"invoiceUrl,omitempty"`
	ProposalURLs string  `json:"proposalUrls,omitempty"`
	TenderURL    string  `json:"tenderUrl,omitempty"`
}

// GraderService talks to the external grading collaborator over HTTP.
type GraderService struct {
	config     *config.GraderConfig
	httpClient *http.Client
}

func NewGraderService(cfg *config.GraderConfig) *GraderService {
	return &GraderService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NotifySubmission posts the notice to the grader webhook. The response is
// consumed for logging only; the grader reports its verdict later through
// the callback endpoint.
func (s *GraderService) NotifySubmission(ctx context.Context, notice *SubmissionNotice) error {
	if s.config.WebhookURL == "" {
		return fmt.Errorf("grader webhook URL not configured")
	}

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(s.config.AuthHeaderName, s.config.AuthHeaderValue)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	slog.Info("grader notified",
		"project_id", notice.ProjectID,
		"status", resp.StatusCode,
		"body", string(respBody),
	)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("grader webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// VerifyCallback verifies the callback checksum.
// Checksum = SHA256(projectID + seed + content).
func (s *GraderService) VerifyCallback(checksum, content, projectID string) bool {
	data := projectID + s.config.CallbackSeed + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

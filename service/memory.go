package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taugalabs/villageproposals/model"
)

// MemoryStore is an in-memory Datastore used in tests and as a fallback
// when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*model.Project
	invoices  map[string]*model.Invoice
	artifacts map[string]*model.ArtifactFile
	analyses  map[string]*model.Analysis
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*model.Project),
		invoices:  make(map[string]*model.Invoice),
		artifacts: make(map[string]*model.ArtifactFile),
		analyses:  make(map[string]*model.Analysis),
	}
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	if statusRank(status) < statusRank(p.Status) {
		return ErrStatusRegression
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[inv.ProjectID]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *MemoryStore) ListInvoices(ctx context.Context, projectID string) ([]model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Invoice
	for _, inv := range s.invoices {
		if inv.ProjectID == projectID {
			result = append(result, *inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) CreateArtifactFile(ctx context.Context, f *model.ArtifactFile) error {
	if err := validateArtifactScope(f); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[f.ProjectID]; !ok {
		return ErrNotFound
	}
	if f.InvoiceID != "" {
		if _, ok := s.invoices[f.InvoiceID]; !ok {
			return ErrNotFound
		}
	}
	f.CreatedAt = time.Now()
	cp := *f
	s.artifacts[f.ID] = &cp
	return nil
}

func (s *MemoryStore) ListArtifactFiles(ctx context.Context, projectID string) ([]model.ArtifactFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ArtifactFile
	for _, f := range s.artifacts {
		if f.ProjectID == projectID {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StoragePath < result[j].StoragePath
	})
	return result, nil
}

func (s *MemoryStore) UpsertAnalysis(ctx context.Context, a *model.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[a.ProjectID]; !ok {
		return ErrNotFound
	}
	now := time.Now()
	if existing, ok := s.analyses[a.ProjectID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.analyses[a.ProjectID] = &cp
	return nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, projectID string) (*model.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analyses[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// CountArtifacts returns the number of stored artifact records for a
// project, broken down by category.
func (s *MemoryStore) CountArtifacts(projectID string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, f := range s.artifacts {
		if f.ProjectID == projectID {
			counts[f.Category]++
		}
	}
	return counts
}

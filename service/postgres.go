package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/taugalabs/villageproposals/model"
)

// PostgresStore is the production Datastore backed by Postgres via the pgx
// stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the tables this service needs if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`create table if not exists projects (
			id text primary key,
			village_name text not null,
			project_name text not null,
			submitter_name text not null,
			submitter_email text not null,
			submitter_phone text not null,
			total_cost double precision not null,
			additional_notes text,
			la_approval boolean,
			aviva_approval boolean,
			status text not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists invoices (
			id text primary key,
			project_id text not null references projects(id),
			price double precision not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists artifact_files (
			id text primary key,
			project_id text not null references projects(id),
			invoice_id text references invoices(id),
			file_name text not null,
			storage_path text not null,
			category text not null,
			size_bytes bigint not null,
			mime_type text not null,
			proposal_ordinal int,
			created_at timestamptz not null default now()
		)`,
		`create table if not exists analyses (
			project_id text primary key references projects(id),
			verdict boolean,
			notes text,
			confidence double precision not null default 0,
			issues jsonb,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	row := s.db.QueryRowContext(ctx, `
		insert into projects (id, village_name, project_name, submitter_name, submitter_email,
			submitter_phone, total_cost, additional_notes, la_approval, aviva_approval, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning created_at, updated_at
	`, p.ID, p.VillageName, p.ProjectName, p.SubmitterName, p.SubmitterEmail,
		p.SubmitterPhone, p.TotalCost, nullString(p.AdditionalNotes), nullBool(p.LAApproval),
		nullBool(p.AvivaApproval), p.Status)
	return row.Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	// The rank guard keeps a submitted project from sliding back to draft.
	res, err := s.db.ExecContext(ctx, `
		update projects set status = $2, updated_at = now()
		where id = $1
		  and array_position(array['draft','submitted','reviewed'], status)
		      <= array_position(array['draft','submitted','reviewed'], $2)
	`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetProject(ctx, id); err != nil {
			return err
		}
		return ErrStatusRegression
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, village_name, project_name, submitter_name, submitter_email, submitter_phone,
		       total_cost, additional_notes, la_approval, aviva_approval, status, created_at, updated_at
		from projects where id = $1
	`, id)

	var (
		p     model.Project
		notes sql.NullString
		la    sql.NullBool
		aviva sql.NullBool
	)
	if err := row.Scan(&p.ID, &p.VillageName, &p.ProjectName, &p.SubmitterName, &p.SubmitterEmail,
		&p.SubmitterPhone, &p.TotalCost, &notes, &la, &aviva, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if notes.Valid {
		p.AdditionalNotes = notes.String
	}
	p.LAApproval = boolPtr(la)
	p.AvivaApproval = boolPtr(aviva)
	return &p, nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	row := s.db.QueryRowContext(ctx, `
		insert into invoices (id, project_id, price)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, inv.ID, inv.ProjectID, inv.Price)
	return row.Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (s *PostgresStore) ListInvoices(ctx context.Context, projectID string) ([]model.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, project_id, price, created_at, updated_at
		from invoices where project_id = $1
		order by created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.Price, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateArtifactFile(ctx context.Context, f *model.ArtifactFile) error {
	if err := validateArtifactScope(f); err != nil {
		return err
	}
	var ordinal sql.NullInt32
	if f.ProposalOrdinal != nil {
		ordinal = sql.NullInt32{Int32: int32(*f.ProposalOrdinal), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		insert into artifact_files (id, project_id, invoice_id, file_name, storage_path,
			category, size_bytes, mime_type, proposal_ordinal)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at
	`, f.ID, f.ProjectID, nullString(f.InvoiceID), f.FileName, f.StoragePath,
		f.Category, f.Size, f.MimeType, ordinal)
	return row.Scan(&f.CreatedAt)
}

func (s *PostgresStore) ListArtifactFiles(ctx context.Context, projectID string) ([]model.ArtifactFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, project_id, invoice_id, file_name, storage_path, category,
		       size_bytes, mime_type, proposal_ordinal, created_at
		from artifact_files where project_id = $1
		order by created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ArtifactFile
	for rows.Next() {
		var (
			f         model.ArtifactFile
			invoiceID sql.NullString
			ordinal   sql.NullInt32
		)
		if err := rows.Scan(&f.ID, &f.ProjectID, &invoiceID, &f.FileName, &f.StoragePath,
			&f.Category, &f.Size, &f.MimeType, &ordinal, &f.CreatedAt); err != nil {
			return nil, err
		}
		if invoiceID.Valid {
			f.InvoiceID = invoiceID.String
		}
		if ordinal.Valid {
			v := int(ordinal.Int32)
			f.ProposalOrdinal = &v
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertAnalysis(ctx context.Context, a *model.Analysis) error {
	row := s.db.QueryRowContext(ctx, `
		insert into analyses (project_id, verdict, notes, confidence, issues)
		values ($1, $2, $3, $4, $5)
		on conflict (project_id) do update
		set verdict = excluded.verdict,
		    notes = excluded.notes,
		    confidence = excluded.confidence,
		    issues = excluded.issues,
		    updated_at = now()
		returning created_at, updated_at
	`, a.ProjectID, nullBool(a.Verdict), nullString(a.Notes), a.Confidence, encodeIssues(a.Issues))
	return row.Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, projectID string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		select project_id, verdict, notes, confidence, issues, created_at, updated_at
		from analyses where project_id = $1
	`, projectID)

	var (
		a       model.Analysis
		verdict sql.NullBool
		notes   sql.NullString
		issues  []byte
	)
	if err := row.Scan(&a.ProjectID, &verdict, &notes, &a.Confidence, &issues, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Verdict = boolPtr(verdict)
	if notes.Valid {
		a.Notes = notes.String
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &a.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues: %w", err)
		}
	}
	return &a, nil
}

func encodeIssues(issues []string) any {
	if len(issues) == 0 {
		return nil
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return nil
	}
	return b
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production backing store for Upload/Page/Schema,
// reachable via DATABASE_URL (spec §6). It plays the role the teacher's
// store.FirestoreStore plays for its NoSQL backend: the same Store
// interface, a different persistence engine, behind a connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore dials DATABASE_URL and returns a ready Store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	company TEXT NOT NULL,
	year INT,
	month INT,
	doc_type TEXT NOT NULL,
	content_sha256 TEXT NOT NULL,
	total_pages INT NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	current_page INT NOT NULL DEFAULT 0,
	extract_state TEXT NOT NULL DEFAULT 'none',
	cancelled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS uploads_workspace_idx ON uploads(workspace_id);

CREATE TABLE IF NOT EXISTS pages (
	upload_id TEXT NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
	page_num INT NOT NULL,
	markdown TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (upload_id, page_num)
);

CREATE TABLE IF NOT EXISTS schemas (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	company TEXT NOT NULL,
	name TEXT NOT NULL,
	config JSONB NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS schemas_workspace_company_idx ON schemas(workspace_id, company);

CREATE TABLE IF NOT EXISTS api_tokens (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at TIMESTAMPTZ,
	revoked BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS api_tokens_workspace_idx ON api_tokens(workspace_id);
`

// Migrate applies the schema DDL. Idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaDDL)
	return err
}

func (p *PostgresStore) CreateUpload(ctx context.Context, u *Upload) error {
	now := time.Now()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO uploads (id, workspace_id, filename, company, year, month, doc_type, content_sha256,
			total_pages, state, message, current_page, extract_state, cancelled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		u.ID, u.WorkspaceID, u.Filename, u.Company, u.Year, u.Month, string(u.DocType), u.ContentSHA256,
		u.TotalPages, string(u.State), u.Message, u.CurrentPage, string(u.ExtractState), u.Cancelled, now)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (p *PostgresStore) GetUpload(ctx context.Context, workspaceID, id string) (*Upload, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, workspace_id, filename, company, year, month, doc_type, content_sha256,
			total_pages, state, message, current_page, extract_state, cancelled, created_at, updated_at
		FROM uploads WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	return scanUpload(row)
}

func (p *PostgresStore) UpdateUpload(ctx context.Context, u *Upload) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE uploads SET filename=$3, company=$4, year=$5, month=$6, doc_type=$7,
			total_pages=$8, state=$9, message=$10, current_page=$11, extract_state=$12,
			cancelled=$13, updated_at=now()
		WHERE id=$1 AND workspace_id=$2`,
		u.ID, u.WorkspaceID, u.Filename, u.Company, u.Year, u.Month, string(u.DocType),
		u.TotalPages, string(u.State), u.Message, u.CurrentPage, string(u.ExtractState), u.Cancelled)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapUploadState implements the optimistic CAS from spec §5 as a
// single conditional UPDATE, letting Postgres itself provide cross-process
// atomicity rather than an application-level transaction.
func (p *PostgresStore) CompareAndSwapUploadState(ctx context.Context, workspaceID, id string, from, to IngestState) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE uploads SET state=$1, updated_at=now()
		WHERE id=$2 AND workspace_id=$3 AND state=$4`,
		string(to), id, workspaceID, string(from))
	if err != nil {
		return false, fmt.Errorf("cas upload state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) DeleteUpload(ctx context.Context, workspaceID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM uploads WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListUploads(ctx context.Context, workspaceID string) ([]*Upload, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, workspace_id, filename, company, year, month, doc_type, content_sha256,
			total_pages, state, message, current_page, extract_state, cancelled, created_at, updated_at
		FROM uploads WHERE workspace_id=$1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*Upload, error) {
	var u Upload
	var docType, state, extractState string
	if err := row.Scan(&u.ID, &u.WorkspaceID, &u.Filename, &u.Company, &u.Year, &u.Month, &docType,
		&u.ContentSHA256, &u.TotalPages, &state, &u.Message, &u.CurrentPage, &extractState,
		&u.Cancelled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan upload: %w", err)
	}
	u.DocType = DocType(docType)
	u.State = IngestState(state)
	u.ExtractState = ExtractState(extractState)
	return &u, nil
}

func (p *PostgresStore) UpsertPage(ctx context.Context, pg *Page) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO pages (upload_id, page_num, markdown, state, error, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (upload_id, page_num) DO UPDATE SET
			markdown=EXCLUDED.markdown, state=EXCLUDED.state, error=EXCLUDED.error, updated_at=now()`,
		pg.UploadID, pg.PageNum, pg.Markdown, string(pg.State), pg.Error)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPage(ctx context.Context, uploadID string, pageNum int) (*Page, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT upload_id, page_num, markdown, state, error, updated_at
		FROM pages WHERE upload_id=$1 AND page_num=$2`, uploadID, pageNum)
	return scanPage(row)
}

func (p *PostgresStore) ListPages(ctx context.Context, uploadID string) ([]*Page, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT upload_id, page_num, markdown, state, error, updated_at
		FROM pages WHERE upload_id=$1 ORDER BY page_num ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []*Page
	for rows.Next() {
		pg, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pg)
	}
	return out, rows.Err()
}

func scanPage(row scanner) (*Page, error) {
	var pg Page
	var state string
	if err := row.Scan(&pg.UploadID, &pg.PageNum, &pg.Markdown, &state, &pg.Error, &pg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan page: %w", err)
	}
	pg.State = PageState(state)
	return &pg, nil
}

func (p *PostgresStore) ResetPagesToPending(ctx context.Context, uploadID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE pages SET state='pending', error='', markdown='', updated_at=now() WHERE upload_id=$1`, uploadID)
	return err
}

func (p *PostgresStore) RequeuePendingAndRunning(ctx context.Context, uploadID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE pages SET state='pending', updated_at=now() WHERE upload_id=$1 AND state='running'`, uploadID)
	return err
}

func (p *PostgresStore) CreateSchema(ctx context.Context, s *Schema) error {
	cfgJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE schemas SET is_default=FALSE WHERE workspace_id=$1 AND company=$2`,
			s.WorkspaceID, s.Company); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO schemas (id, workspace_id, company, name, config, is_default, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		s.ID, s.WorkspaceID, s.Company, s.Name, cfgJSON, s.IsDefault, now)
	if err != nil {
		return fmt.Errorf("insert schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (p *PostgresStore) GetSchema(ctx context.Context, workspaceID, id string) (*Schema, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, workspace_id, company, name, config, is_default, created_at, updated_at
		FROM schemas WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	return scanSchema(row)
}

func (p *PostgresStore) DeleteSchema(ctx context.Context, workspaceID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM schemas WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListSchemas(ctx context.Context, workspaceID string) ([]*Schema, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, workspace_id, company, name, config, is_default, created_at, updated_at
		FROM schemas WHERE workspace_id=$1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var out []*Schema
	for rows.Next() {
		s, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetDefaultSchema(ctx context.Context, workspaceID, company string) (*Schema, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, workspace_id, company, name, config, is_default, created_at, updated_at
		FROM schemas WHERE workspace_id=$1 AND company=$2 AND is_default=TRUE`, workspaceID, company)
	return scanSchema(row)
}

func (p *PostgresStore) SetDefaultSchema(ctx context.Context, workspaceID, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var company string
	if err := tx.QueryRow(ctx, `SELECT company FROM schemas WHERE id=$1 AND workspace_id=$2`, id, workspaceID).Scan(&company); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE schemas SET is_default=FALSE WHERE workspace_id=$1 AND company=$2`, workspaceID, company); err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE schemas SET is_default=TRUE, updated_at=now() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) CreateApiToken(ctx context.Context, t *ApiToken) error {
	now := time.Now()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_tokens (id, workspace_id, name, token_hash, created_at, revoked)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.WorkspaceID, t.Name, t.TokenHash, now, t.Revoked)
	if err != nil {
		return fmt.Errorf("insert api token: %w", err)
	}
	t.CreatedAt = now
	return nil
}

func (p *PostgresStore) GetApiTokenByHash(ctx context.Context, tokenHash string) (*ApiToken, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, token_hash, created_at, last_used_at, revoked
		FROM api_tokens WHERE token_hash=$1 AND revoked=FALSE`, tokenHash)
	return scanApiToken(row)
}

func (p *PostgresStore) RevokeApiToken(ctx context.Context, workspaceID, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE api_tokens SET revoked=TRUE WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListApiTokens(ctx context.Context, workspaceID string) ([]*ApiToken, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, workspace_id, name, token_hash, created_at, last_used_at, revoked
		FROM api_tokens WHERE workspace_id=$1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	defer rows.Close()

	var out []*ApiToken
	for rows.Next() {
		t, err := scanApiToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanApiToken(row scanner) (*ApiToken, error) {
	var t ApiToken
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt, &t.Revoked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api token: %w", err)
	}
	return &t, nil
}

func scanSchema(row scanner) (*Schema, error) {
	var s Schema
	var cfgJSON []byte
	if err := row.Scan(&s.ID, &s.WorkspaceID, &s.Company, &s.Name, &cfgJSON, &s.IsDefault, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan schema: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &s.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}

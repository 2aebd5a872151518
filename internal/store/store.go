package store

import "context"

//go:generate mockgen -source=store.go -destination=store_mock.go -package=store

// Store defines every database operation the core invokes. Both
// MemoryStore (local dev + tests) and PostgresStore (production)
// implement it, the same split the teacher makes between
// store.MemoryStore and store.FirestoreStore.
type Store interface {
	CreateUpload(ctx context.Context, u *Upload) error
	GetUpload(ctx context.Context, workspaceID, id string) (*Upload, error)
	UpdateUpload(ctx context.Context, u *Upload) error
	// CompareAndSwapUploadState performs the optimistic state transition from
	// spec §5: it updates State only if the stored state still equals from.
	CompareAndSwapUploadState(ctx context.Context, workspaceID, id string, from, to IngestState) (bool, error)
	DeleteUpload(ctx context.Context, workspaceID, id string) error
	ListUploads(ctx context.Context, workspaceID string) ([]*Upload, error)

	UpsertPage(ctx context.Context, p *Page) error
	GetPage(ctx context.Context, uploadID string, pageNum int) (*Page, error)
	ListPages(ctx context.Context, uploadID string) ([]*Page, error)
	ResetPagesToPending(ctx context.Context, uploadID string) error
	RequeuePendingAndRunning(ctx context.Context, uploadID string) error

	CreateSchema(ctx context.Context, s *Schema) error
	GetSchema(ctx context.Context, workspaceID, id string) (*Schema, error)
	DeleteSchema(ctx context.Context, workspaceID, id string) error
	ListSchemas(ctx context.Context, workspaceID string) ([]*Schema, error)
	GetDefaultSchema(ctx context.Context, workspaceID, company string) (*Schema, error)
	SetDefaultSchema(ctx context.Context, workspaceID, id string) error

	CreateApiToken(ctx context.Context, t *ApiToken) error
	GetApiTokenByHash(ctx context.Context, tokenHash string) (*ApiToken, error)
	RevokeApiToken(ctx context.Context, workspaceID, id string) error
	ListApiTokens(ctx context.Context, workspaceID string) ([]*ApiToken, error)
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castlemilk/pricelake/backend/internal/progress"
	"github.com/castlemilk/pricelake/backend/internal/render"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

type fakeObjectStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{data: map[string][]byte{}}
}

func (f *fakeObjectStore) key(bucket, key string) string { return bucket + "/" + key }

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[f.key(bucket, key)] = data
	return nil
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[f.key(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("not found: %s/%s", bucket, key)
	}
	return d, nil
}

func (f *fakeObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := bucket + "/" + prefix
	for k := range f.data {
		if len(k) >= len(full) && k[:len(full)] == full {
			delete(f.data, k)
		}
	}
	return nil
}

type fakeOCR struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeOCR) OCR(ctx context.Context, imageBytes []byte, mime string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "<table><tr><th>Reference</th><th>Value</th></tr><tr><td>A</td><td>10</td></tr></table>", nil
}

func tinyPNG() []byte {
	// minimal valid 1x1 PNG signature is excessive to construct by hand;
	// render.Render's image-passthrough path only needs image.Decode to
	// succeed, so tests exercise ingest above the renderer by pre-seeding
	// Page rows directly instead of driving Start() through render.
	return nil
}

func TestPipeline_ParseRunsOCRForPendingPages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	ocrFake := &fakeOCR{}
	mgr := progress.NewManager()
	p := New(st, objects, ocrFake, mgr, render.DefaultOptions(), 4)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", Company: "schneider", DocType: store.DocTypePDF, State: store.IngestRendering, TotalPages: 2}
	require.NoError(t, st.CreateUpload(ctx, u))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 1, State: store.PageStatePending}))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 2, State: store.PageStatePending}))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_001.png", []byte{1}, "image/png"))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_002.png", []byte{2}, "image/png"))

	p.parse(ctx, "ws1", "up1")

	got, err := st.GetUpload(ctx, "ws1", "up1")
	require.NoError(t, err)
	require.Equal(t, store.IngestDone, got.State)
	require.Equal(t, 2, got.CurrentPage)
	require.Equal(t, store.ExtractNoConfig, got.ExtractState, "no default schema configured for schneider")
	require.Equal(t, 2, ocrFake.calls)

	pages, err := st.ListPages(ctx, "up1")
	require.NoError(t, err)
	for _, pg := range pages {
		require.Equal(t, store.PageStateDone, pg.State)
	}
}

func TestPipeline_PerPageOCRFailureIsContainedNotFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	mgr := progress.NewManager()

	failingOnce := &failingOCRClient{failPage: 1}
	p := New(st, objects, failingOnce, mgr, render.DefaultOptions(), 2)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", Company: "acme", State: store.IngestRendering, TotalPages: 2}
	require.NoError(t, st.CreateUpload(ctx, u))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 1, State: store.PageStatePending}))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 2, State: store.PageStatePending}))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_001.png", []byte{1}, "image/png"))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_002.png", []byte{2}, "image/png"))

	p.parse(ctx, "ws1", "up1")

	got, err := st.GetUpload(ctx, "ws1", "up1")
	require.NoError(t, err)
	require.Equal(t, store.IngestDone, got.State, "upload still reaches done when only some pages fail")

	p1, _ := st.GetPage(ctx, "up1", 1)
	p2, _ := st.GetPage(ctx, "up1", 2)
	require.Equal(t, store.PageStateError, p1.State)
	require.Equal(t, store.PageStateDone, p2.State)
}

type failingOCRClient struct {
	failPage int
	calls    int
}

func (f *failingOCRClient) OCR(ctx context.Context, imageBytes []byte, mime string) (string, error) {
	f.calls++
	if len(imageBytes) == 1 && imageBytes[0] == byte(f.failPage) {
		return "", fmt.Errorf("upstream unavailable")
	}
	return "<table><tr><td>A</td><td>1</td></tr></table>", nil
}

func TestPipeline_AllPagesFailingOCRFailsTheUpload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	mgr := progress.NewManager()

	p := New(st, objects, &alwaysFailingOCRClient{}, mgr, render.DefaultOptions(), 2)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", Company: "acme", State: store.IngestRendering, TotalPages: 2}
	require.NoError(t, st.CreateUpload(ctx, u))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 1, State: store.PageStatePending}))
	require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: 2, State: store.PageStatePending}))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_001.png", []byte{1}, "image/png"))
	require.NoError(t, objects.Put(ctx, "pages", "up1/page_002.png", []byte{2}, "image/png"))

	p.parse(ctx, "ws1", "up1")

	got, err := st.GetUpload(ctx, "ws1", "up1")
	require.NoError(t, err)
	require.Equal(t, store.IngestError, got.State, "upload must become error when every page fails OCR")

	p1, _ := st.GetPage(ctx, "up1", 1)
	p2, _ := st.GetPage(ctx, "up1", 2)
	require.Equal(t, store.PageStateError, p1.State)
	require.Equal(t, store.PageStateError, p2.State)
}

type alwaysFailingOCRClient struct{}

func (f *alwaysFailingOCRClient) OCR(ctx context.Context, imageBytes []byte, mime string) (string, error) {
	return "", fmt.Errorf("upstream unavailable")
}

func TestPipeline_ResumeIsNoOpOnDoneUpload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	mgr := progress.NewManager()
	p := New(st, objects, &fakeOCR{}, mgr, render.DefaultOptions(), 2)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", State: store.IngestDone}
	require.NoError(t, st.CreateUpload(ctx, u))

	require.NoError(t, p.Resume(ctx, "ws1", "up1"))

	got, _ := st.GetUpload(ctx, "ws1", "up1")
	require.Equal(t, store.IngestDone, got.State)
}

func TestPipeline_ResumeRejectsNonInterruptedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	mgr := progress.NewManager()
	p := New(st, objects, &fakeOCR{}, mgr, render.DefaultOptions(), 2)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", State: store.IngestParsing}
	require.NoError(t, st.CreateUpload(ctx, u))

	err := p.Resume(ctx, "ws1", "up1")
	require.Error(t, err)
}

func TestPipeline_CurrentPageIsMonotonicNonDecreasing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	objects := newFakeObjectStore()
	mgr := progress.NewManager()
	p := New(st, objects, &fakeOCR{}, mgr, render.DefaultOptions(), 1)

	u := &store.Upload{ID: "up1", WorkspaceID: "ws1", State: store.IngestRendering, TotalPages: 3}
	require.NoError(t, st.CreateUpload(ctx, u))
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.UpsertPage(ctx, &store.Page{UploadID: "up1", PageNum: i, State: store.PageStatePending}))
		require.NoError(t, objects.Put(ctx, "pages", fmt.Sprintf("up1/page_%03d.png", i), []byte{byte(i)}, "image/png"))
	}

	var lastSeen int
	ch, unsub := mgr.Subscribe("up1")
	defer unsub()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rec := range ch {
			require.GreaterOrEqual(t, rec.CurrentPage, lastSeen)
			lastSeen = rec.CurrentPage
		}
	}()

	p.parse(ctx, "ws1", "up1")

	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

var _ = tinyPNG

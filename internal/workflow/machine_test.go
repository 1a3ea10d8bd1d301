package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"provador/internal/domain"
	"provador/internal/gateway"
	"provador/internal/infra"
)

type fakeGateway struct {
	mu          sync.Mutex
	catalog     json.RawMessage
	catalogErr  error
	tryOnRaw    json.RawMessage
	tryOnErr    error
	listCalls   int
	tryOnCalls  int
	lastTryOn   gateway.TryOnRequest
	listBlocker chan struct{}
}

func (f *fakeGateway) ListProducts(ctx context.Context) (json.RawMessage, int, error) {
	f.mu.Lock()
	f.listCalls++
	blocker := f.listBlocker
	f.mu.Unlock()
	if blocker != nil {
		<-blocker
	}
	if f.catalogErr != nil {
		return nil, 0, f.catalogErr
	}
	return f.catalog, 200, nil
}

func (f *fakeGateway) GenerateTryOn(ctx context.Context, req gateway.TryOnRequest) (json.RawMessage, int, error) {
	f.mu.Lock()
	f.tryOnCalls++
	f.lastTryOn = req
	f.mu.Unlock()
	if f.tryOnErr != nil {
		return nil, 0, f.tryOnErr
	}
	return f.tryOnRaw, 200, nil
}

const aviatorCatalog = `{"oculos":[{"id":1,"nome":"Aviator","preco":"199.90","imagem":"http://x/a.jpg"}]}`

func jpegPhoto(size int) domain.UploadedPhoto {
	return domain.UploadedPhoto{MIME: "image/jpeg", Data: bytes.Repeat([]byte{0xab}, size)}
}

func newTestMachine(gw Gateway, policy Policy) *Machine {
	return NewMachine(gw, policy, nil)
}

func waitPending(t *testing.T, m *Machine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !m.Snapshot().Pending {
		if time.Now().After(deadline) {
			t.Fatalf("call never became pending")
		}
		time.Sleep(time.Millisecond)
	}
}

func selectStage(t *testing.T, gw *fakeGateway, policy Policy) *Machine {
	t.Helper()
	m := newTestMachine(gw, policy)
	if err := m.SubmitPhoto(context.Background(), jpegPhoto(2<<20)); err != nil {
		t.Fatalf("SubmitPhoto: %v", err)
	}
	if snap := m.Snapshot(); snap.Stage != StageSelect {
		t.Fatalf("stage = %q, want select", snap.Stage)
	}
	return m
}

func TestSubmitPhotoHappyPath(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog)}
	m := newTestMachine(gw, Policy{})

	if err := m.SubmitPhoto(context.Background(), jpegPhoto(2<<20)); err != nil {
		t.Fatalf("SubmitPhoto: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect {
		t.Fatalf("stage = %q, want select", snap.Stage)
	}
	if snap.Pending {
		t.Fatalf("pending should be cleared")
	}
	if snap.Err != nil {
		t.Fatalf("unexpected error on state: %#v", snap.Err)
	}
	if !snap.HasPhoto || snap.PhotoMIME != "image/jpeg" {
		t.Fatalf("photo not recorded: %#v", snap)
	}
	if len(snap.Products) != 1 {
		t.Fatalf("got %d products, want 1", len(snap.Products))
	}
	p := snap.Products[0]
	if p.ID != "1" || p.Name != "Aviator" || p.Price != "199.90" || p.ImageRef != "http://x/a.jpg" {
		t.Fatalf("product mismatch: %#v", p)
	}
	if p.Brand != domain.DefaultBrand || p.ThumbnailRef != "http://x/a.jpg" {
		t.Fatalf("defaults not applied: %#v", p)
	}
}

func TestSubmitPhotoRejectsOversized(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog)}
	m := newTestMachine(gw, Policy{MaxPhotoBytes: 5 << 20})

	err := m.SubmitPhoto(context.Background(), jpegPhoto(6<<20))
	if !errors.Is(err, domain.ErrPhotoTooLarge) {
		t.Fatalf("error = %v, want ErrPhotoTooLarge", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageUpload {
		t.Fatalf("stage = %q, want upload", snap.Stage)
	}
	if snap.HasPhoto {
		t.Fatalf("rejected photo must not be stored")
	}
	if snap.Err == nil || snap.Err.Kind != domain.KindValidation {
		t.Fatalf("Err = %#v, want validation", snap.Err)
	}
	if snap.Err.Retryable() {
		t.Fatalf("validation errors are not retryable")
	}
	if gw.listCalls != 0 {
		t.Fatalf("catalog must not be fetched after validation failure")
	}
}

func TestSubmitPhotoRejectsNonImage(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog)}
	m := newTestMachine(gw, Policy{})

	err := m.SubmitPhoto(context.Background(), domain.UploadedPhoto{MIME: "application/pdf", Data: []byte("x")})
	if !errors.Is(err, domain.ErrNotAnImage) {
		t.Fatalf("error = %v, want ErrNotAnImage", err)
	}
	if snap := m.Snapshot(); snap.Stage != StageUpload || snap.Err.Kind != domain.KindValidation {
		t.Fatalf("snapshot = %#v", snap)
	}
}

func TestSubmitPhotoUpstreamStatus(t *testing.T) {
	gw := &fakeGateway{catalogErr: &gateway.Error{Kind: gateway.KindUpstreamStatus, Status: 503}}
	m := newTestMachine(gw, Policy{})

	if err := m.SubmitPhoto(context.Background(), jpegPhoto(1024)); err == nil {
		t.Fatalf("expected error")
	}

	snap := m.Snapshot()
	if snap.Stage != StageUpload {
		t.Fatalf("stage = %q, want upload", snap.Stage)
	}
	if snap.Err == nil || snap.Err.Kind != domain.KindUpstreamStatus || snap.Err.Status != 503 {
		t.Fatalf("Err = %#v, want upstream status 503", snap.Err)
	}
	if !snap.Err.Retryable() {
		t.Fatalf("upstream status must be retryable")
	}
	if !snap.HasPhoto {
		t.Fatalf("photo survives a failed fetch so retry works without re-upload")
	}
}

func TestSubmitPhotoUnreachable(t *testing.T) {
	gw := &fakeGateway{catalogErr: &gateway.Error{Kind: gateway.KindUnreachable, Detail: "dial tcp: refused"}}
	m := newTestMachine(gw, Policy{})

	if err := m.SubmitPhoto(context.Background(), jpegPhoto(1024)); err == nil {
		t.Fatalf("expected error")
	}
	if snap := m.Snapshot(); snap.Err.Kind != domain.KindGatewayUnreachable {
		t.Fatalf("Err = %#v, want gateway_unreachable", snap.Err)
	}
}

func TestEmptyCatalogStayPolicy(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(`{"oculos":[]}`)}
	m := newTestMachine(gw, Policy{EmptyCatalog: infra.EmptyCatalogStay})

	err := m.SubmitPhoto(context.Background(), jpegPhoto(1024))
	if !errors.Is(err, domain.ErrEmptyCatalog) {
		t.Fatalf("error = %v, want ErrEmptyCatalog", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageUpload {
		t.Fatalf("stage = %q, want upload under stay policy", snap.Stage)
	}
	if snap.Err == nil || snap.Err.Kind != domain.KindNormalizationEmpty {
		t.Fatalf("Err = %#v, want normalization_empty", snap.Err)
	}
}

func TestEmptyCatalogProceedPolicy(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(`{"oculos":[]}`)}
	m := newTestMachine(gw, Policy{EmptyCatalog: infra.EmptyCatalogProceed})

	if err := m.SubmitPhoto(context.Background(), jpegPhoto(1024)); err != nil {
		t.Fatalf("SubmitPhoto: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect {
		t.Fatalf("stage = %q, want select under proceed policy", snap.Stage)
	}
	if len(snap.Products) != 0 {
		t.Fatalf("expected empty product list, got %d", len(snap.Products))
	}
	if snap.Err == nil || snap.Err.Kind != domain.KindNormalizationEmpty {
		t.Fatalf("Err = %#v, want normalization_empty even when proceeding", snap.Err)
	}
}

func TestRetryListProducts(t *testing.T) {
	gw := &fakeGateway{catalogErr: &gateway.Error{Kind: gateway.KindUnreachable, Detail: "refused"}}
	m := newTestMachine(gw, Policy{})

	if err := m.SubmitPhoto(context.Background(), jpegPhoto(1024)); err == nil {
		t.Fatalf("expected initial failure")
	}

	gw.catalogErr = nil
	gw.catalog = json.RawMessage(aviatorCatalog)
	if err := m.RetryListProducts(context.Background()); err != nil {
		t.Fatalf("RetryListProducts: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect || len(snap.Products) != 1 {
		t.Fatalf("snapshot after retry = %#v", snap)
	}
	if snap.Err != nil {
		t.Fatalf("retry must clear the previous error")
	}
	if gw.listCalls != 2 {
		t.Fatalf("listCalls = %d, want 2", gw.listCalls)
	}
}

func TestRetryRequiresPhoto(t *testing.T) {
	m := newTestMachine(&fakeGateway{}, Policy{})
	if err := m.RetryListProducts(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestRetryFromSelectRefreshesCatalog(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog)}
	m := selectStage(t, gw, Policy{})
	photo, _ := m.Photo()

	gw.mu.Lock()
	gw.catalog = json.RawMessage(`{"oculos":[{"id":1,"nome":"Aviator"},{"id":2,"nome":"Wayfarer"}]}`)
	gw.mu.Unlock()

	if err := m.RetryListProducts(context.Background()); err != nil {
		t.Fatalf("RetryListProducts from select: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect || len(snap.Products) != 2 {
		t.Fatalf("snapshot after refresh = %#v", snap)
	}
	if snap.Products[1].Name != "Wayfarer" {
		t.Fatalf("catalog not replaced: %#v", snap.Products)
	}
	after, ok := m.Photo()
	if !ok || !bytes.Equal(after.Data, photo.Data) {
		t.Fatalf("photo must survive a catalog refresh")
	}
	if gw.listCalls != 2 {
		t.Fatalf("listCalls = %d, want 2", gw.listCalls)
	}
}

func TestRetryBlockedInResult(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnRaw: json.RawMessage(`{"resultado_url":"http://x/composite.png"}`),
	}
	m := selectStage(t, gw, Policy{})
	if err := m.SelectProduct(context.Background(), "1"); err != nil {
		t.Fatalf("SelectProduct: %v", err)
	}
	if err := m.RetryListProducts(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition in result stage", err)
	}
}

func TestSnapshotProductsNeverNull(t *testing.T) {
	m := newTestMachine(&fakeGateway{}, Policy{})

	snap := m.Snapshot()
	if snap.Products == nil {
		t.Fatalf("Products must be non-nil before any fetch")
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if !strings.Contains(string(encoded), `"products":[]`) {
		t.Fatalf("snapshot JSON = %s, want empty products array", encoded)
	}
}

func TestSelectProductHappyPath(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnRaw: json.RawMessage(`{"resultado_url":"http://x/composite.png"}`),
	}
	m := selectStage(t, gw, Policy{})

	if err := m.SelectProduct(context.Background(), "1"); err != nil {
		t.Fatalf("SelectProduct: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageResult {
		t.Fatalf("stage = %q, want result", snap.Stage)
	}
	if snap.Selected == nil || snap.Selected.ID != "1" {
		t.Fatalf("Selected = %#v", snap.Selected)
	}
	if snap.Result == nil || snap.Result.ImageRef != "http://x/composite.png" {
		t.Fatalf("Result = %#v", snap.Result)
	}
	if snap.Result.Product.ID != "1" {
		t.Fatalf("result must carry the producing product")
	}

	if !strings.HasPrefix(gw.lastTryOn.PhotoData, "data:image/jpeg;base64,") {
		t.Fatalf("PhotoData = %q, want data url", gw.lastTryOn.PhotoData)
	}
	if gw.lastTryOn.ProductID != "1" || gw.lastTryOn.ImageRef != "http://x/a.jpg" {
		t.Fatalf("wire request = %#v", gw.lastTryOn)
	}
}

func TestSelectProductResultNotFound(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnRaw: json.RawMessage(`{"imagem_final":""}`),
	}
	m := selectStage(t, gw, Policy{})

	err := m.SelectProduct(context.Background(), "1")
	if !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("error = %v, want ErrResultNotFound", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect {
		t.Fatalf("stage = %q, want select", snap.Stage)
	}
	if snap.Selected != nil {
		t.Fatalf("selection must not be committed on failure")
	}
	if snap.Result != nil {
		t.Fatalf("no result expected")
	}
	if snap.Err == nil || snap.Err.Kind != domain.KindResultNotFound {
		t.Fatalf("Err = %#v, want result_not_found", snap.Err)
	}
}

func TestSelectProductGatewayFailure(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnErr: &gateway.Error{Kind: gateway.KindUpstreamStatus, Status: 500},
	}
	m := selectStage(t, gw, Policy{})

	if err := m.SelectProduct(context.Background(), "1"); err == nil {
		t.Fatalf("expected error")
	}
	snap := m.Snapshot()
	if snap.Stage != StageSelect || snap.Selected != nil {
		t.Fatalf("failed selection must not commit: %#v", snap)
	}
	if snap.Err.Kind != domain.KindUpstreamStatus || snap.Err.Status != 500 {
		t.Fatalf("Err = %#v", snap.Err)
	}
}

func TestSelectProductUnknownID(t *testing.T) {
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog)}
	m := selectStage(t, gw, Policy{})

	if err := m.SelectProduct(context.Background(), "999"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("error = %v, want ErrUnknownProduct", err)
	}
	if gw.tryOnCalls != 0 {
		t.Fatalf("no webhook call for unknown product")
	}
}

func TestSelectProductWrongStage(t *testing.T) {
	m := newTestMachine(&fakeGateway{}, Policy{})
	if err := m.SelectProduct(context.Background(), "1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestBackToSelectPreservesCatalogAndPhoto(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnRaw: json.RawMessage(`{"resultado_url":"http://x/c.png"}`),
	}
	m := selectStage(t, gw, Policy{})
	photoBefore, _ := m.Photo()
	productsBefore := m.Snapshot().Products

	if err := m.SelectProduct(context.Background(), "1"); err != nil {
		t.Fatalf("SelectProduct: %v", err)
	}
	if err := m.BackToSelect(); err != nil {
		t.Fatalf("BackToSelect: %v", err)
	}

	snap := m.Snapshot()
	if snap.Stage != StageSelect {
		t.Fatalf("stage = %q, want select", snap.Stage)
	}
	if snap.Result != nil || snap.Selected != nil {
		t.Fatalf("result and selection must be cleared: %#v", snap)
	}
	photoAfter, ok := m.Photo()
	if !ok || !bytes.Equal(photoBefore.Data, photoAfter.Data) || photoBefore.MIME != photoAfter.MIME {
		t.Fatalf("photo must be preserved byte-for-byte")
	}
	if len(snap.Products) != len(productsBefore) || snap.Products[0] != productsBefore[0] {
		t.Fatalf("products must be preserved")
	}
	if gw.listCalls != 1 {
		t.Fatalf("BackToSelect must not re-fetch the catalog, listCalls = %d", gw.listCalls)
	}
}

func TestBackToSelectWrongStage(t *testing.T) {
	m := newTestMachine(&fakeGateway{}, Policy{})
	if err := m.BackToSelect(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestResetFromEveryStage(t *testing.T) {
	gw := &fakeGateway{
		catalog:  json.RawMessage(aviatorCatalog),
		tryOnRaw: json.RawMessage(`{"resultado_url":"http://x/c.png"}`),
	}

	assertPristine := func(t *testing.T, m *Machine) {
		t.Helper()
		snap := m.Snapshot()
		if snap.Stage != StageUpload || snap.HasPhoto || snap.Selected != nil ||
			snap.Result != nil || snap.Err != nil || snap.Pending || len(snap.Products) != 0 {
			t.Fatalf("not pristine after reset: %#v", snap)
		}
	}

	t.Run("from upload", func(t *testing.T) {
		m := newTestMachine(gw, Policy{})
		m.Reset()
		assertPristine(t, m)
	})

	t.Run("from select", func(t *testing.T) {
		m := selectStage(t, gw, Policy{})
		m.Reset()
		assertPristine(t, m)
	})

	t.Run("from result", func(t *testing.T) {
		m := selectStage(t, gw, Policy{})
		if err := m.SelectProduct(context.Background(), "1"); err != nil {
			t.Fatalf("SelectProduct: %v", err)
		}
		m.Reset()
		assertPristine(t, m)
	})
}

func TestStaleCatalogResponseDiscarded(t *testing.T) {
	blocker := make(chan struct{})
	gw := &fakeGateway{
		catalog:     json.RawMessage(aviatorCatalog),
		listBlocker: blocker,
	}
	m := newTestMachine(gw, Policy{})

	done := make(chan error, 1)
	go func() {
		done <- m.SubmitPhoto(context.Background(), jpegPhoto(1024))
	}()

	// Wait until the call is in flight, then supersede it.
	waitPending(t, m)
	m.Reset()
	close(blocker)

	if err := <-done; !errors.Is(err, domain.ErrStaleRequest) {
		t.Fatalf("error = %v, want ErrStaleRequest", err)
	}
	snap := m.Snapshot()
	if snap.Stage != StageUpload || len(snap.Products) != 0 || snap.HasPhoto {
		t.Fatalf("stale response leaked into state: %#v", snap)
	}
}

func TestPendingFlagVisibleDuringCall(t *testing.T) {
	blocker := make(chan struct{})
	gw := &fakeGateway{catalog: json.RawMessage(aviatorCatalog), listBlocker: blocker}
	m := newTestMachine(gw, Policy{})

	done := make(chan error, 1)
	go func() {
		done <- m.SubmitPhoto(context.Background(), jpegPhoto(1024))
	}()

	waitPending(t, m)
	close(blocker)
	if err := <-done; err != nil {
		t.Fatalf("SubmitPhoto: %v", err)
	}
	if m.Snapshot().Pending {
		t.Fatalf("pending must clear once the call finishes")
	}
}

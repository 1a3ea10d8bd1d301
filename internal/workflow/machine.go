// Package workflow implements the three-stage try-on flow as an explicit
// state machine: upload a photo, pick a product, view the generated result.
// The HTTP layer only invokes named transitions and reads snapshots; all
// workflow rules live here so they can be tested without a server.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"provador/internal/catalog"
	"provador/internal/domain"
	"provador/internal/gateway"
	"provador/internal/infra"
	"provador/internal/tryon"
)

// Stage is the current point in the linear user journey.
type Stage string

const (
	StageUpload Stage = "upload"
	StageSelect Stage = "select"
	StageResult Stage = "result"
)

var (
	ErrInvalidTransition = errors.New("workflow: transition not valid in current stage")
	ErrUnknownProduct    = errors.New("workflow: product not in current catalog")
)

// Gateway is the outbound dependency of the machine.
type Gateway interface {
	ListProducts(ctx context.Context) (json.RawMessage, int, error)
	GenerateTryOn(ctx context.Context, req gateway.TryOnRequest) (json.RawMessage, int, error)
}

// Policy holds the configurable behavior knobs observed to differ between
// storefront deployments.
type Policy struct {
	MaxPhotoBytes int64
	EmptyCatalog  infra.EmptyCatalogPolicy
}

// Snapshot is an immutable view of the machine for the presentation layer.
type Snapshot struct {
	Stage     Stage               `json:"stage"`
	Pending   bool                `json:"pending"`
	HasPhoto  bool                `json:"has_photo"`
	PhotoMIME string              `json:"photo_mime,omitempty"`
	Products  []domain.Product    `json:"products"`
	Selected  *domain.Product     `json:"selected,omitempty"`
	Result    *domain.TryOnResult `json:"result,omitempty"`
	Err       *domain.ErrorInfo   `json:"error,omitempty"`
}

// Machine drives one user's flow. It is safe for concurrent use: transitions
// serialize on a mutex, and responses from superseded webhook calls are
// discarded (last request wins) so a stale reply can never corrupt state.
type Machine struct {
	gw     Gateway
	policy Policy
	logger *infra.Logger

	mu       sync.Mutex
	stage    Stage
	photo    *domain.UploadedPhoto
	products []domain.Product
	selected *domain.Product
	result   *domain.TryOnResult
	lastErr  *domain.ErrorInfo
	pending  bool
	seq      uint64
}

// NewMachine constructs a machine in the upload stage.
func NewMachine(gw Gateway, policy Policy, logger *infra.Logger) *Machine {
	if policy.MaxPhotoBytes <= 0 {
		policy.MaxPhotoBytes = 5 << 20
	}
	if policy.EmptyCatalog == "" {
		policy.EmptyCatalog = infra.EmptyCatalogStay
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Machine{gw: gw, policy: policy, logger: logger, stage: StageUpload}
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Stage:    m.stage,
		Pending:  m.pending,
		HasPhoto: m.photo != nil,
		Products: append([]domain.Product{}, m.products...),
		Err:      m.lastErr,
	}
	if m.photo != nil {
		snap.PhotoMIME = m.photo.MIME
	}
	if m.selected != nil {
		sel := *m.selected
		snap.Selected = &sel
	}
	if m.result != nil {
		res := *m.result
		snap.Result = &res
	}
	return snap
}

// Photo returns the stored photo, if any. The returned value shares the
// underlying byte slice; callers must not mutate it.
func (m *Machine) Photo() (domain.UploadedPhoto, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.photo == nil {
		return domain.UploadedPhoto{}, false
	}
	return *m.photo, true
}

// SubmitPhoto validates and stores the photo, then fetches the catalog.
// Validation failures keep the machine on the upload stage; the photo is
// only stored once it passes.
func (m *Machine) SubmitPhoto(ctx context.Context, photo domain.UploadedPhoto) error {
	m.mu.Lock()
	if m.stage != StageUpload {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if err := validatePhoto(photo, m.policy.MaxPhotoBytes); err != nil {
		m.lastErr = &domain.ErrorInfo{Kind: domain.KindValidation, Detail: err.Error()}
		m.mu.Unlock()
		return err
	}
	m.photo = &photo
	m.lastErr = nil
	seq := m.beginCallLocked()
	m.mu.Unlock()

	return m.fetchCatalog(ctx, seq)
}

// RetryListProducts re-issues the catalog fetch without requiring a new
// photo. Valid after a photo was submitted, from the upload stage (after a
// failed fetch) or the selection stage.
func (m *Machine) RetryListProducts(ctx context.Context) error {
	m.mu.Lock()
	if m.photo == nil || m.stage == StageResult {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.lastErr = nil
	seq := m.beginCallLocked()
	m.mu.Unlock()

	return m.fetchCatalog(ctx, seq)
}

// SelectProduct requests a try-on generation for the given catalog entry.
// The selection is only committed when the generation succeeds.
func (m *Machine) SelectProduct(ctx context.Context, productID string) error {
	m.mu.Lock()
	if m.stage != StageSelect || m.photo == nil {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	var picked *domain.Product
	for i := range m.products {
		if m.products[i].ID == productID {
			picked = &m.products[i]
			break
		}
	}
	if picked == nil {
		m.mu.Unlock()
		return ErrUnknownProduct
	}
	product := *picked
	photo := *m.photo
	m.lastErr = nil
	seq := m.beginCallLocked()
	m.mu.Unlock()

	raw, _, err := m.gw.GenerateTryOn(ctx, gateway.TryOnRequest{
		PhotoData: EncodeDataURL(photo),
		ProductID: product.ID,
		ImageRef:  product.ImageRef,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.endCallLocked(seq) {
		return domain.ErrStaleRequest
	}
	if err != nil {
		m.lastErr = errorInfoFromGateway(err)
		return err
	}

	imageRef, err := tryon.ExtractImage(raw)
	if err != nil {
		m.lastErr = &domain.ErrorInfo{Kind: domain.KindResultNotFound, Detail: err.Error()}
		return err
	}

	m.selected = &product
	m.result = &domain.TryOnResult{ImageRef: imageRef, Product: product}
	m.stage = StageResult
	m.logger.Debug().Str("product_id", product.ID).Msg("try-on generated")
	return nil
}

// BackToSelect returns from the result view to product selection, keeping
// the catalog and photo so nothing is re-fetched.
func (m *Machine) BackToSelect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage != StageResult {
		return ErrInvalidTransition
	}
	m.result = nil
	m.selected = nil
	m.lastErr = nil
	m.stage = StageSelect
	return nil
}

// Reset returns the machine to its initial state from any stage. In-flight
// webhook responses are discarded when they land.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.pending = false
	m.stage = StageUpload
	m.photo = nil
	m.products = nil
	m.selected = nil
	m.result = nil
	m.lastErr = nil
}

// fetchCatalog runs the ListProducts call for the given request generation
// and applies the outcome unless a newer request superseded it.
func (m *Machine) fetchCatalog(ctx context.Context, seq uint64) error {
	raw, _, err := m.gw.ListProducts(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.endCallLocked(seq) {
		return domain.ErrStaleRequest
	}
	if err != nil {
		m.lastErr = errorInfoFromGateway(err)
		return err
	}

	products, err := catalog.Normalize(raw)
	if err != nil {
		// The failure record is kept either way so the UI can explain
		// the empty shelf; only the stage transition depends on policy.
		m.lastErr = &domain.ErrorInfo{Kind: domain.KindNormalizationEmpty, Detail: err.Error()}
		if m.policy.EmptyCatalog == infra.EmptyCatalogProceed {
			m.products = []domain.Product{}
			m.stage = StageSelect
			return nil
		}
		return err
	}

	m.products = products
	m.stage = StageSelect
	m.logger.Debug().Int("products", len(products)).Msg("catalog loaded")
	return nil
}

// beginCallLocked marks a webhook call as in flight and returns its
// generation. Issuing a new call bumps the generation so the older response
// is discarded when it arrives.
func (m *Machine) beginCallLocked() uint64 {
	m.seq++
	m.pending = true
	return m.seq
}

// endCallLocked reports whether the finishing call is still the latest. The
// pending flag clears on every exit path of the current generation.
func (m *Machine) endCallLocked(seq uint64) bool {
	if m.seq != seq {
		return false
	}
	m.pending = false
	return true
}

func errorInfoFromGateway(err error) *domain.ErrorInfo {
	if ge, ok := gateway.AsError(err); ok {
		if ge.Kind == gateway.KindUpstreamStatus {
			return &domain.ErrorInfo{Kind: domain.KindUpstreamStatus, Status: ge.Status, Detail: ge.Detail}
		}
		return &domain.ErrorInfo{Kind: domain.KindGatewayUnreachable, Detail: ge.Detail}
	}
	return &domain.ErrorInfo{Kind: domain.KindGatewayUnreachable, Detail: err.Error()}
}

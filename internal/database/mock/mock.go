// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/racepix/racepix/internal/database"
)

// MockPhotoStore is a mock implementation of database.PhotoStore.
type MockPhotoStore struct {
	mu     sync.RWMutex
	photos map[string]*database.Photo

	// Linked reports whether a photo has bibs or faces attached. Wired to
	// the sibling mocks by NewStores; ListUnlinked treats nil as unlinked.
	Linked func(photoID string) bool

	// Error injection
	CreateError error
	GetError    error
	UpdateError error
	ListError   error
}

func NewMockPhotoStore() *MockPhotoStore {
	return &MockPhotoStore{photos: make(map[string]*database.Photo)}
}

func (m *MockPhotoStore) CreateBatch(_ context.Context, photos []database.Photo) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range photos {
		cp := p
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		m.photos[p.ID] = &cp
	}
	return nil
}

func (m *MockPhotoStore) Get(_ context.Context, photoID string) (*database.Photo, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[photoID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPhotoStore) SetRenditions(_ context.Context, photoID, originalKey, webKey string) error {
	return m.mutate(photoID, func(p *database.Photo) {
		p.OriginalKey = originalKey
		p.WebKey = webKey
	})
}

func (m *MockPhotoStore) SetQuality(_ context.Context, photoID string, score int, blurry bool) error {
	return m.mutate(photoID, func(p *database.Photo) {
		p.QualityScore = score
		p.Blurry = blurry
	})
}

func (m *MockPhotoStore) SetAutoEdited(_ context.Context, photoID string) error {
	return m.mutate(photoID, func(p *database.Photo) { p.AutoEdited = true })
}

func (m *MockPhotoStore) SetThumbnail(_ context.Context, photoID, thumbKey string) error {
	return m.mutate(photoID, func(p *database.Photo) { p.ThumbKey = thumbKey })
}

func (m *MockPhotoStore) SetFaceIndexed(_ context.Context, photoID string) error {
	return m.mutate(photoID, func(p *database.Photo) { p.FaceIndexed = true })
}

func (m *MockPhotoStore) SetLabels(_ context.Context, photoID string, labels []string) error {
	return m.mutate(photoID, func(p *database.Photo) { p.Labels = labels })
}

func (m *MockPhotoStore) MarkProcessed(_ context.Context, photoID, provider string) error {
	now := time.Now()
	return m.mutate(photoID, func(p *database.Photo) {
		p.ProcessedAt = &now
		p.Provider = provider
	})
}

func (m *MockPhotoStore) ListUnlinked(_ context.Context, eventID string) ([]database.Photo, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var photos []database.Photo
	for _, p := range m.photos {
		if p.EventID != eventID || p.ProcessedAt == nil {
			continue
		}
		if m.Linked != nil && m.Linked(p.ID) {
			continue
		}
		photos = append(photos, *p)
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i].CreatedAt.Before(photos[j].CreatedAt) })
	return photos, nil
}

func (m *MockPhotoStore) mutate(photoID string, fn func(*database.Photo)) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[photoID]
	if !ok {
		return database.ErrNotFound
	}
	fn(p)
	return nil
}

// MockBibStore is a mock implementation of database.BibStore.
type MockBibStore struct {
	mu     sync.RWMutex
	nextID int64
	bibs   map[string][]database.BibNumber // by photo ID

	// Photo event lookup for ListByEvent; nil means every photo matches.
	EventOf func(photoID string) string

	// Error injection
	ReplaceError error
	AssignError  error
	GetError     error
	ListError    error
}

func NewMockBibStore() *MockBibStore {
	return &MockBibStore{bibs: make(map[string][]database.BibNumber)}
}

func (m *MockBibStore) ReplaceOCR(_ context.Context, photoID string, bibs []database.BibNumber) error {
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []database.BibNumber
	for _, b := range m.bibs[photoID] {
		if b.Source != database.BibSourceOCR {
			kept = append(kept, b)
		}
	}
	for _, b := range bibs {
		m.nextID++
		b.ID = m.nextID
		b.PhotoID = photoID
		b.Source = database.BibSourceOCR
		b.CreatedAt = time.Now()
		kept = append(kept, b)
	}
	m.bibs[photoID] = kept
	return nil
}

func (m *MockBibStore) Assign(_ context.Context, bib database.BibNumber) error {
	if m.AssignError != nil {
		return m.AssignError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bibs[bib.PhotoID] {
		if b.Number == bib.Number {
			return nil
		}
	}
	m.nextID++
	bib.ID = m.nextID
	bib.CreatedAt = time.Now()
	m.bibs[bib.PhotoID] = append(m.bibs[bib.PhotoID], bib)
	return nil
}

func (m *MockBibStore) GetForPhoto(_ context.Context, photoID string) ([]database.BibNumber, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.BibNumber, len(m.bibs[photoID]))
	copy(out, m.bibs[photoID])
	return out, nil
}

func (m *MockBibStore) ListByEvent(_ context.Context, eventID string) (map[string][]database.BibNumber, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byPhoto := make(map[string][]database.BibNumber)
	for photoID, bibs := range m.bibs {
		if len(bibs) == 0 {
			continue
		}
		if m.EventOf != nil && m.EventOf(photoID) != eventID {
			continue
		}
		cp := make([]database.BibNumber, len(bibs))
		copy(cp, bibs)
		byPhoto[photoID] = cp
	}
	return byPhoto, nil
}

// Count returns the total number of stored bibs.
func (m *MockBibStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, bibs := range m.bibs {
		n += len(bibs)
	}
	return n
}

// MockFaceStore is a mock implementation of database.FaceStore.
type MockFaceStore struct {
	mu     sync.RWMutex
	nextID int64
	faces  map[string][]database.PhotoFace // by photo ID

	// Error injection
	SaveError error
	GetError  error
	ListError error
	CropError error
}

func NewMockFaceStore() *MockFaceStore {
	return &MockFaceStore{faces: make(map[string][]database.PhotoFace)}
}

func (m *MockFaceStore) SaveFaces(_ context.Context, photoID string, faces []database.PhotoFace) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]database.PhotoFace, 0, len(faces))
	for _, f := range faces {
		m.nextID++
		f.ID = m.nextID
		f.PhotoID = photoID
		f.CreatedAt = time.Now()
		stored = append(stored, f)
	}
	m.faces[photoID] = stored
	return nil
}

func (m *MockFaceStore) GetFaces(_ context.Context, photoID string) ([]database.PhotoFace, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.PhotoFace, len(m.faces[photoID]))
	copy(out, m.faces[photoID])
	return out, nil
}

func (m *MockFaceStore) ListByEvent(_ context.Context, eventID string) ([]database.PhotoFace, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.PhotoFace
	for _, faces := range m.faces {
		for _, f := range faces {
			if f.EventID == eventID {
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockFaceStore) SetCropKey(_ context.Context, faceID int64, cropKey string) error {
	if m.CropError != nil {
		return m.CropError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for photoID, faces := range m.faces {
		for i := range faces {
			if faces[i].ID == faceID {
				m.faces[photoID][i].CropKey = cropKey
				return nil
			}
		}
	}
	return database.ErrNotFound
}

// MockRosterStore is a mock implementation of database.RosterStore.
type MockRosterStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[string][]database.RosterEntry // by event ID

	// Error injection
	ListError    error
	ReplaceError error
}

func NewMockRosterStore() *MockRosterStore {
	return &MockRosterStore{entries: make(map[string][]database.RosterEntry)}
}

func (m *MockRosterStore) ListForEvent(_ context.Context, eventID string) ([]database.RosterEntry, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.RosterEntry, len(m.entries[eventID]))
	copy(out, m.entries[eventID])
	return out, nil
}

func (m *MockRosterStore) BibSet(_ context.Context, eventID string) (map[string]struct{}, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{}, len(m.entries[eventID]))
	for _, e := range m.entries[eventID] {
		set[e.BibNumber] = struct{}{}
	}
	return set, nil
}

func (m *MockRosterStore) Replace(_ context.Context, eventID string, entries []database.RosterEntry) error {
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]database.RosterEntry, 0, len(entries))
	for _, e := range entries {
		m.nextID++
		e.ID = m.nextID
		e.EventID = eventID
		e.CreatedAt = time.Now()
		stored = append(stored, e)
	}
	m.entries[eventID] = stored
	return nil
}

// MockLedgerStore is a mock implementation of database.LedgerStore.
type MockLedgerStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string][]database.LedgerEntry // by user ID

	// Error injection
	DebitError   error
	RefundError  error
	AdjustError  error
	BalanceError error
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{entries: make(map[string][]database.LedgerEntry)}
}

func (m *MockLedgerStore) Debit(_ context.Context, userID string, amount int, reason string) (*database.LedgerEntry, error) {
	if m.DebitError != nil {
		return nil, m.DebitError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(userID, database.EntryDebit, -amount, reason, "")
}

func (m *MockLedgerStore) Refund(_ context.Context, userID string, amount int, reason, idemKey string) (*database.LedgerEntry, error) {
	if m.RefundError != nil {
		return nil, m.RefundError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries[userID] {
		if e.IdemKey == idemKey {
			return nil, nil
		}
	}
	return m.append(userID, database.EntryRefund, amount, reason, idemKey)
}

func (m *MockLedgerStore) Adjust(_ context.Context, userID string, delta int, reason string) (*database.LedgerEntry, error) {
	if m.AdjustError != nil {
		return nil, m.AdjustError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(userID, database.EntryAdjustment, delta, reason, "")
}

func (m *MockLedgerStore) Balance(_ context.Context, userID string) (int, error) {
	if m.BalanceError != nil {
		return 0, m.BalanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(userID), nil
}

func (m *MockLedgerStore) Recent(_ context.Context, userID string, limit int) ([]database.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.entries[userID]
	out := make([]database.LedgerEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *MockLedgerStore) balance(userID string) int {
	entries := m.entries[userID]
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].BalanceAfter
}

func (m *MockLedgerStore) append(userID, entryType string, amount int, reason, idemKey string) (*database.LedgerEntry, error) {
	before := m.balance(userID)
	after := before + amount
	if after < 0 {
		return nil, database.ErrInsufficientCredits
	}

	m.nextID++
	entry := database.LedgerEntry{
		ID:            m.nextID,
		UserID:        userID,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		IdemKey:       idemKey,
		CreatedAt:     time.Now(),
	}
	m.entries[userID] = append(m.entries[userID], entry)
	return &entry, nil
}

// Stores bundles all mock stores with their cross-wiring in place.
type Stores struct {
	Photos *MockPhotoStore
	Bibs   *MockBibStore
	Faces  *MockFaceStore
	Roster *MockRosterStore
	Ledger *MockLedgerStore
}

// NewStores creates a full set of wired mock stores.
func NewStores() *Stores {
	s := &Stores{
		Photos: NewMockPhotoStore(),
		Bibs:   NewMockBibStore(),
		Faces:  NewMockFaceStore(),
		Roster: NewMockRosterStore(),
		Ledger: NewMockLedgerStore(),
	}
	s.Photos.Linked = func(photoID string) bool {
		bibs, _ := s.Bibs.GetForPhoto(context.Background(), photoID)
		if len(bibs) > 0 {
			return true
		}
		faces, _ := s.Faces.GetFaces(context.Background(), photoID)
		return len(faces) > 0
	}
	s.Bibs.EventOf = func(photoID string) string {
		p, err := s.Photos.Get(context.Background(), photoID)
		if err != nil {
			return ""
		}
		return p.EventID
	}
	return s
}

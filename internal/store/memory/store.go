// Package memory is an in-process core.Repository, used by tests and by the
// server when STORE_BACKEND=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/google/uuid"
)

// Store keeps baskets, lines and purchase requests in maps guarded by one mutex.
// Every value handed out is a copy.
type Store struct {
	mu       sync.RWMutex
	baskets  map[string]*core.SupplierOrder // Lines unused; lines are kept in lines
	lines    map[string]*core.SupplierOrderLine
	order    map[string]int // line id -> insertion sequence
	requests map[string]*core.PurchaseRequest
	seq      int
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		baskets:  make(map[string]*core.SupplierOrder),
		lines:    make(map[string]*core.SupplierOrderLine),
		order:    make(map[string]int),
		requests: make(map[string]*core.PurchaseRequest),
		now:      time.Now,
	}
}

var _ core.Repository = (*Store)(nil)

// PutPurchaseRequest inserts or replaces a purchase request. An empty ID is assigned.
func (s *Store) PutPurchaseRequest(pr core.PurchaseRequest) core.PurchaseRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pr.ID == "" {
		pr.ID = uuid.NewString()
	}
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = s.tick()
	}
	c := copyRequest(pr)
	s.requests[pr.ID] = &c
	return copyRequest(c)
}

// PutBasket inserts or replaces a basket together with its lines. Empty IDs are assigned.
func (s *Store) PutBasket(b core.SupplierOrder) core.SupplierOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = core.BasketPooling
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.tick()
	}
	for id, l := range s.lines {
		if l.BasketID == b.ID {
			delete(s.lines, id)
			delete(s.order, id)
		}
	}
	head := b
	head.Lines = nil
	s.baskets[b.ID] = &head
	for _, l := range b.Lines {
		l.BasketID = b.ID
		s.insertLine(l)
	}
	return s.basketLocked(b.ID)
}

// GetBasket returns a copy of the basket with its lines.
func (s *Store) GetBasket(_ context.Context, basketID string) (*core.SupplierOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.baskets[basketID]; !ok {
		return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
	}
	b := s.basketLocked(basketID)
	return &b, nil
}

// ListBaskets returns all baskets in creation order.
func (s *Store) ListBaskets(_ context.Context) ([]core.SupplierOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.baskets))
	for id := range s.baskets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := s.baskets[ids[i]], s.baskets[ids[j]]
		if !bi.CreatedAt.Equal(bj.CreatedAt) {
			return bi.CreatedAt.Before(bj.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	out := make([]core.SupplierOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.basketLocked(id))
	}
	return out, nil
}

// FetchLinesForBasket returns the lines of basketID in insertion order.
func (s *Store) FetchLinesForBasket(_ context.Context, basketID string) ([]core.SupplierOrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.baskets[basketID]; !ok {
		return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
	}
	return s.linesLocked(basketID), nil
}

// FindPoolingBasket returns the POOLING basket of supplierID.
func (s *Store) FindPoolingBasket(_ context.Context, supplierID string) (*core.SupplierOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *core.SupplierOrder
	for _, b := range s.baskets {
		if b.SupplierID != supplierID || b.Status != core.BasketPooling {
			continue
		}
		if found == nil || b.CreatedAt.Before(found.CreatedAt) {
			found = b
		}
	}
	if found == nil {
		return nil, &core.NotFoundError{Entity: "pooling basket for supplier", ID: supplierID}
	}
	b := s.basketLocked(found.ID)
	return &b, nil
}

// CreateBasket adds an empty POOLING basket.
func (s *Store) CreateBasket(_ context.Context, supplierID string) (*core.SupplierOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &core.SupplierOrder{
		ID:         uuid.NewString(),
		SupplierID: supplierID,
		Status:     core.BasketPooling,
		CreatedAt:  s.tick(),
	}
	s.baskets[b.ID] = b
	out := s.basketLocked(b.ID)
	return &out, nil
}

// UpdateBasket applies the non-nil fields.
func (s *Store) UpdateBasket(_ context.Context, basketID string, fields core.BasketFields) (*core.SupplierOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baskets[basketID]
	if !ok {
		return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
	}
	if fields.Status != nil {
		b.Status = *fields.Status
	}
	if fields.SentAt != nil {
		t := *fields.SentAt
		b.SentAt = &t
	}
	if fields.ReceivedAt != nil {
		t := *fields.ReceivedAt
		b.ReceivedAt = &t
	}
	if fields.ClosedAt != nil {
		t := *fields.ClosedAt
		b.ClosedAt = &t
	}
	out := s.basketLocked(basketID)
	return &out, nil
}

// CreateLine adds a line to an existing basket.
func (s *Store) CreateLine(_ context.Context, line core.SupplierOrderLine) (*core.SupplierOrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baskets[line.BasketID]; !ok {
		return nil, &core.NotFoundError{Entity: "basket", ID: line.BasketID}
	}
	line.ID = ""
	l := s.insertLine(line)
	return &l, nil
}

// UpdateLine applies the non-nil fields.
func (s *Store) UpdateLine(_ context.Context, lineID string, fields core.LineFields) (*core.SupplierOrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[lineID]
	if !ok {
		return nil, &core.NotFoundError{Entity: "line", ID: lineID}
	}
	if fields.Quantity != nil {
		l.Quantity = *fields.Quantity
	}
	if fields.IsSelected != nil {
		l.IsSelected = *fields.IsSelected
	}
	if fields.QuoteReceived != nil {
		l.QuoteReceived = *fields.QuoteReceived
	}
	if fields.QuotePrice != nil {
		p := *fields.QuotePrice
		l.QuotePrice = &p
	}
	if fields.LeadTimeDays != nil {
		d := *fields.LeadTimeDays
		l.LeadTimeDays = &d
	}
	if fields.RequestIDs != nil {
		l.RequestIDs = append([]string(nil), fields.RequestIDs...)
	}
	out := copyLine(*l)
	return &out, nil
}

// DeleteLine removes a line.
func (s *Store) DeleteLine(_ context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[lineID]; !ok {
		return &core.NotFoundError{Entity: "line", ID: lineID}
	}
	delete(s.lines, lineID)
	delete(s.order, lineID)
	return nil
}

// GetPurchaseRequest returns a copy of a stored request.
func (s *Store) GetPurchaseRequest(_ context.Context, requestID string) (*core.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.requests[requestID]
	if !ok {
		return nil, &core.NotFoundError{Entity: "purchase request", ID: requestID}
	}
	out := copyRequest(*pr)
	return &out, nil
}

// UpdatePurchaseRequest sets the status of a stored request.
func (s *Store) UpdatePurchaseRequest(_ context.Context, requestID string, status core.RequestStatus) (*core.PurchaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[requestID]
	if !ok {
		return nil, &core.NotFoundError{Entity: "purchase request", ID: requestID}
	}
	pr.Status = status
	out := copyRequest(*pr)
	return &out, nil
}

// FetchOpenPurchaseRequests returns the requests whose status is open.
func (s *Store) FetchOpenPurchaseRequests(_ context.Context) ([]core.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PurchaseRequest
	for _, pr := range s.requests {
		if pr.Status == core.RequestOpen {
			out = append(out, copyRequest(*pr))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// insertLine stores a copy of l, assigning an id when empty. Caller holds mu.
func (s *Store) insertLine(l core.SupplierOrderLine) core.SupplierOrderLine {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	c := copyLine(l)
	s.lines[l.ID] = &c
	s.seq++
	s.order[l.ID] = s.seq
	return copyLine(c)
}

func (s *Store) basketLocked(basketID string) core.SupplierOrder {
	b := *s.baskets[basketID]
	b.SentAt = copyTime(b.SentAt)
	b.ReceivedAt = copyTime(b.ReceivedAt)
	b.ClosedAt = copyTime(b.ClosedAt)
	b.Lines = s.linesLocked(basketID)
	return b
}

func (s *Store) linesLocked(basketID string) []core.SupplierOrderLine {
	var out []core.SupplierOrderLine
	for _, l := range s.lines {
		if l.BasketID == basketID {
			out = append(out, copyLine(*l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out
}

// tick returns a strictly increasing timestamp so creation order survives equal clocks.
func (s *Store) tick() time.Time {
	s.seq++
	return s.now().Add(time.Duration(s.seq) * time.Nanosecond)
}

func copyLine(l core.SupplierOrderLine) core.SupplierOrderLine {
	l.RequestIDs = append([]string(nil), l.RequestIDs...)
	if l.StockItemID != nil {
		v := *l.StockItemID
		l.StockItemID = &v
	}
	if l.QuotePrice != nil {
		v := *l.QuotePrice
		l.QuotePrice = &v
	}
	if l.LeadTimeDays != nil {
		v := *l.LeadTimeDays
		l.LeadTimeDays = &v
	}
	return l
}

func copyRequest(pr core.PurchaseRequest) core.PurchaseRequest {
	if pr.StockItemID != nil {
		v := *pr.StockItemID
		pr.StockItemID = &v
	}
	if pr.PreferredSupplierID != nil {
		v := *pr.PreferredSupplierID
		pr.PreferredSupplierID = &v
	}
	return pr
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package ledger

import (
	"context"
	"sort"
	"sync"

	"settlement-service/models"
)

// MemoryStore keeps every record in process memory. Commit holds the write
// lock for the whole batch, so a batch is applied completely or not at all.
type MemoryStore struct {
	mu            sync.RWMutex
	products      map[string]*models.Product
	orders        map[string]*models.Order
	escrows       map[string]*models.EscrowTransaction
	activeEscrow  map[string]string // order id -> non-terminal escrow id
	latestEscrow  map[string]string // order id -> newest escrow id
	proposals     map[string]*models.BarterProposal
	notifications []models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*models.Product),
		orders:       make(map[string]*models.Order),
		escrows:      make(map[string]*models.EscrowTransaction),
		activeEscrow: make(map[string]string),
		latestEscrow: make(map[string]string),
		proposals:    make(map[string]*models.BarterProposal),
	}
}

func (s *MemoryStore) Product(ctx context.Context, id string) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Order(ctx context.Context, id string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) OrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) EscrowForOrder(ctx context.Context, orderID string) (*models.EscrowTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latestEscrow[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.escrows[id]
	return &cp, nil
}

func (s *MemoryStore) Proposal(ctx context.Context, id string) (*models.BarterProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ProposalsByUser(ctx context.Context, userID string) ([]models.BarterProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BarterProposal, 0)
	for _, p := range s.proposals {
		if p.ProposerID == userID || p.RecipientID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// NotificationsFor lists stored notifications of a user, newest first.
func (s *MemoryStore) NotificationsFor(ctx context.Context, userID string) ([]models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

// memTx stages copies of every record a batch touches.
type memTx struct {
	s             *MemoryStore
	products      map[string]*models.Product
	orders        map[string]*models.Order
	escrows       map[string]*models.EscrowTransaction
	activeEscrow  map[string]string
	latestEscrow  map[string]string
	proposals     map[string]*models.BarterProposal
	notifications []models.Notification
}

func (s *MemoryStore) Commit(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:            s,
		products:     map[string]*models.Product{},
		orders:       map[string]*models.Order{},
		escrows:      map[string]*models.EscrowTransaction{},
		activeEscrow: map[string]string{},
		latestEscrow: map[string]string{},
		proposals:    map[string]*models.BarterProposal{},
	}
	for i, op := range ops {
		if err := tx.apply(op); err != nil {
			return &OpError{Index: i, Op: op, Err: err}
		}
	}

	for id, p := range tx.products {
		s.products[id] = p
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, e := range tx.escrows {
		s.escrows[id] = e
	}
	for orderID, id := range tx.activeEscrow {
		if id == "" {
			delete(s.activeEscrow, orderID)
			continue
		}
		s.activeEscrow[orderID] = id
	}
	for orderID, id := range tx.latestEscrow {
		s.latestEscrow[orderID] = id
	}
	for id, p := range tx.proposals {
		s.proposals[id] = p
	}
	s.notifications = append(s.notifications, tx.notifications...)
	return nil
}

func (tx *memTx) apply(op Op) error {
	switch op := op.(type) {
	case InsertOrder:
		if _, err := tx.order(op.Order.ID); err == nil {
			return ErrDuplicate
		}
		tx.orders[op.Order.ID] = cloneOrder(op.Order)
	case TransitionOrder:
		o, err := tx.order(op.OrderID)
		if err != nil {
			return err
		}
		if o.Status != op.From {
			return ErrConditionFailed
		}
		o.SetStatus(op.To, op.At)
		if op.TrackingNumber != "" {
			o.TrackingNumber = op.TrackingNumber
		}
		if op.CourierName != "" {
			o.CourierName = op.CourierName
		}
	case InsertEscrow:
		if _, err := tx.escrow(op.Escrow.ID); err == nil {
			return ErrDuplicate
		}
		if tx.active(op.Escrow.OrderID) != "" {
			return ErrDuplicate
		}
		cp := *op.Escrow
		tx.escrows[cp.ID] = &cp
		tx.activeEscrow[cp.OrderID] = cp.ID
		tx.latestEscrow[cp.OrderID] = cp.ID
	case TransitionEscrow:
		e, err := tx.escrow(op.EscrowID)
		if err != nil {
			return err
		}
		if e.Status != op.From {
			return ErrConditionFailed
		}
		e.Status = op.To
		e.UpdatedAt = op.At
		if op.Reason != "" {
			e.RefundReason = op.Reason
		}
		if op.To.Terminal() {
			tx.activeEscrow[e.OrderID] = ""
		}
	case InsertProposal:
		if _, err := tx.proposal(op.Proposal.ID); err == nil {
			return ErrDuplicate
		}
		cp := *op.Proposal
		tx.proposals[cp.ID] = &cp
	case TransitionProposal:
		p, err := tx.proposal(op.ProposalID)
		if err != nil {
			return err
		}
		if p.Status != op.From {
			return ErrConditionFailed
		}
		p.Status = op.To
		p.UpdatedAt = op.At
		if op.To == models.BarterCancelled {
			at := op.At
			p.CancelledAt = &at
		}
	case AdjustStock:
		p, err := tx.product(op.ProductID)
		if err != nil {
			return err
		}
		if p.QuantityAvailable+op.Delta < 0 {
			return ErrInsufficientStock
		}
		p.QuantityAvailable += op.Delta
	case InsertNotification:
		tx.notifications = append(tx.notifications, op.Notification)
	case PutProduct:
		cp := op.Product
		tx.products[cp.ID] = &cp
	default:
		return ErrConditionFailed
	}
	return nil
}

func (tx *memTx) order(id string) (*models.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o, nil
	}
	o, ok := tx.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrder(o)
	tx.orders[id] = cp
	return cp, nil
}

func (tx *memTx) escrow(id string) (*models.EscrowTransaction, error) {
	if e, ok := tx.escrows[id]; ok {
		return e, nil
	}
	e, ok := tx.s.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	tx.escrows[id] = &cp
	return &cp, nil
}

func (tx *memTx) active(orderID string) string {
	if id, ok := tx.activeEscrow[orderID]; ok {
		return id
	}
	return tx.s.activeEscrow[orderID]
}

func (tx *memTx) proposal(id string) (*models.BarterProposal, error) {
	if p, ok := tx.proposals[id]; ok {
		return p, nil
	}
	p, ok := tx.s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	tx.proposals[id] = &cp
	return &cp, nil
}

func (tx *memTx) product(id string) (*models.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	p, ok := tx.s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	tx.products[id] = &cp
	return &cp, nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

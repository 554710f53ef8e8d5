package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

type ProposeInput struct {
	ProposerProductID  string `json:"proposer_product_id" validate:"required,max=64"`
	RecipientProductID string `json:"recipient_product_id" validate:"required,max=64,nefield=ProposerProductID"`
	Notes              string `json:"notes" validate:"max=1000"`
}

type RespondInput struct {
	Decision models.BarterStatus `json:"decision" validate:"required,oneof=accepted rejected"`
}

// BarterResult is the outcome of a response. Orders is set only on acceptance.
type BarterResult struct {
	Proposal *models.BarterProposal `json:"proposal"`
	Orders   []*models.Order        `json:"orders,omitempty"`
}

// BarterService negotiates goods-for-goods exchanges. Accepted proposals turn
// into zero-cash orders through the order service.
type BarterService struct {
	base
	orders *OrderService
}

func NewBarterService(store ledger.Store, orders *OrderService, opts Options) *BarterService {
	return &BarterService{base: newBase(store, opts, "barter"), orders: orders}
}

// Propose offers the caller's product in exchange for another user's product.
// The recipient is whoever owns the wanted product now.
func (s *BarterService) Propose(ctx context.Context, caller models.Caller, in ProposeInput) (*models.BarterProposal, error) {
	in.ProposerProductID = strings.TrimSpace(in.ProposerProductID)
	in.RecipientProductID = strings.TrimSpace(in.RecipientProductID)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	offered, err := s.loadProduct(ctx, in.ProposerProductID)
	if err != nil {
		return nil, err
	}
	wanted, err := s.loadProduct(ctx, in.RecipientProductID)
	if err != nil {
		return nil, err
	}
	if wanted.SellerID == caller.UserID {
		return nil, ErrSelfBarter()
	}
	if offered.SellerID != caller.UserID {
		return nil, ErrUnauthorized("offer a product you do not own")
	}
	if offered.QuantityAvailable < 1 {
		return nil, ErrOutOfStock(offered.ID)
	}
	if wanted.QuantityAvailable < 1 {
		return nil, ErrOutOfStock(wanted.ID)
	}

	now := s.now()
	p := &models.BarterProposal{
		ID:                 newID(),
		ProposerID:         caller.UserID,
		RecipientID:        wanted.SellerID,
		ProposerProductID:  offered.ID,
		RecipientProductID: wanted.ID,
		Notes:              in.Notes,
		Status:             models.BarterPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Commit(ctx, ledger.InsertProposal{Proposal: p}); err != nil {
		return nil, commitError(err)
	}
	s.log.Info("barter proposed", zap.String("proposal_id", p.ID))

	s.notify(ctx, s.note(p.RecipientID, models.NotifyBarterProposed,
		"New barter proposal", "Someone offered "+offered.Title+" for your "+wanted.Title+".",
		barterLink(p.ID)))
	return p, nil
}

// Respond lets the recipient accept or reject a pending proposal.
func (s *BarterService) Respond(ctx context.Context, id string, caller models.Caller, in RespondInput) (*BarterResult, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	p, err := s.loadProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.RecipientID != caller.UserID {
		return nil, ErrUnauthorized("respond to this proposal")
	}
	if p.Status != models.BarterPending {
		return nil, ErrInvalidState("proposal is already %s", p.Status)
	}

	now := s.now()
	ops := []ledger.Op{ledger.TransitionProposal{
		ProposalID: p.ID, From: models.BarterPending, To: in.Decision, At: now,
	}}
	var orders []*models.Order
	if in.Decision == models.BarterAccepted {
		built, orderOps, err := s.orders.barterOrders(ctx, p, now)
		if err != nil {
			return nil, err
		}
		orders = built
		ops = append(ops, orderOps...)
	}
	if err := s.store.Commit(ctx, ops...); err != nil {
		return nil, s.transitionError(err)
	}
	p.Status = in.Decision
	p.UpdatedAt = now
	s.log.Info("barter answered", zap.String("proposal_id", p.ID), zap.String("decision", string(in.Decision)))

	if in.Decision == models.BarterAccepted {
		s.notify(ctx,
			s.note(p.ProposerID, models.NotifyBarterAccepted,
				"Barter accepted", "Your barter proposal was accepted.", barterLink(p.ID)),
			s.note(p.RecipientID, models.NotifyBarterAccepted,
				"Barter accepted", "You accepted a barter proposal. Ship your item to complete the exchange.", barterLink(p.ID)),
		)
	} else {
		s.notify(ctx, s.note(p.ProposerID, models.NotifyBarterRejected,
			"Barter rejected", "Your barter proposal was declined.", barterLink(p.ID)))
	}
	return &BarterResult{Proposal: p, Orders: orders}, nil
}

// Cancel withdraws a pending proposal; only the proposer may do it.
func (s *BarterService) Cancel(ctx context.Context, id string, caller models.Caller) (*models.BarterProposal, error) {
	p, err := s.loadProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ProposerID != caller.UserID {
		return nil, ErrUnauthorized("cancel this proposal")
	}
	if p.Status != models.BarterPending {
		return nil, ErrInvalidState("proposal is already %s", p.Status)
	}
	now := s.now()
	err = s.store.Commit(ctx, ledger.TransitionProposal{
		ProposalID: p.ID, From: models.BarterPending, To: models.BarterCancelled, At: now,
	})
	if err != nil {
		return nil, s.transitionError(err)
	}
	p.Status = models.BarterCancelled
	p.UpdatedAt = now
	p.CancelledAt = &now
	s.log.Info("barter cancelled", zap.String("proposal_id", p.ID))

	s.notify(ctx, s.note(p.RecipientID, models.NotifyBarterCancelled,
		"Barter withdrawn", "A barter proposal for your item was withdrawn.", barterLink(p.ID)))
	return p, nil
}

// Get returns a proposal to one of its parties or an admin.
func (s *BarterService) Get(ctx context.Context, id string, caller models.Caller) (*models.BarterProposal, error) {
	p, err := s.loadProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ProposerID != caller.UserID && p.RecipientID != caller.UserID && !caller.Privileged() {
		return nil, ErrUnauthorized("view this proposal")
	}
	return p, nil
}

func (s *BarterService) List(ctx context.Context, caller models.Caller) ([]models.BarterProposal, error) {
	out, err := s.store.ProposalsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, errInternal(err)
	}
	return out, nil
}

func (s *BarterService) loadProposal(ctx context.Context, id string) (*models.BarterProposal, error) {
	p, err := s.store.Proposal(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound("proposal")
	}
	if err != nil {
		return nil, errInternal(err)
	}
	return p, nil
}

// transitionError reports a lost race on the proposal as InvalidState, since
// the only way its precondition fails is another terminal answer.
func (s *BarterService) transitionError(err error) error {
	if _, ok := ledger.FailedOp(err).(ledger.TransitionProposal); ok && errors.Is(err, ledger.ErrConditionFailed) {
		return ErrInvalidState("proposal is no longer pending")
	}
	return stockError(err)
}

func barterLink(id string) string { return "/barters/" + id }

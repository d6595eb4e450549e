package payments

import (
	"context"
	"errors"
	"sync"
)

// CardType identifies the card network a user registered with.
type CardType int

const (
	Interswitch CardType = iota
	MasterCard
	Verve
	Visa
)

func (t CardType) String() string {
	switch t {
	case Interswitch:
		return "Interswitch"
	case MasterCard:
		return "Master Card"
	case Verve:
		return "Verve"
	case Visa:
		return "Visa"
	default:
		return "unknown"
	}
}

// Card is a user's registered payment instrument. CardRef is the id supplied
// by the issuing institution on owner verification.
type Card struct {
	UserID  string
	Type    CardType
	CardRef string
}

var (
	ErrCardExists  = errors.New("card already registered for user")
	ErrInvalidCard = errors.New("invalid card")
)

// CardProcessor is an in-process Gateway backed by registered cards. Charging
// or crediting a user without a card yields a Failure alert, not an error:
// the caller's retry policy treats it like any other decline.
//
// The real provider integration will sit behind the same interface; for now
// every charge against a registered card settles successfully.
type CardProcessor struct {
	mu    sync.RWMutex
	cards map[string]Card
}

var _ Gateway = (*CardProcessor)(nil)

// NewCardProcessor creates an empty processor.
func NewCardProcessor() *CardProcessor {
	return &CardProcessor{cards: make(map[string]Card)}
}

// Register stores the user's card. One card per user.
func (p *CardProcessor) Register(card Card) error {
	if card.UserID == "" || card.CardRef == "" {
		return ErrInvalidCard
	}
	switch card.Type {
	case Interswitch, MasterCard, Verve, Visa:
	default:
		return ErrInvalidCard
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cards[card.UserID]; ok {
		return ErrCardExists
	}
	p.cards[card.UserID] = card
	return nil
}

func (p *CardProcessor) Charge(ctx context.Context, userID string, amount int64) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	p.mu.RLock()
	_, ok := p.cards[userID]
	p.mu.RUnlock()
	if !ok {
		return NewChargeAlert(userID, amount, Failure), nil
	}
	return NewChargeAlert(userID, amount, Success), nil
}

func (p *CardProcessor) Credit(ctx context.Context, userID string, amount int64) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	p.mu.RLock()
	_, ok := p.cards[userID]
	p.mu.RUnlock()
	if !ok {
		return NewCreditAlert(userID, amount, Failure), nil
	}
	return NewCreditAlert(userID, amount, Success), nil
}

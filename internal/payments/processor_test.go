package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestChargeUser(t *testing.T) {
	p := NewCardProcessor()
	userID := uuid.NewString()
	if err := p.Register(Card{UserID: userID, Type: MasterCard, CardRef: "card-ref-1"}); err != nil {
		t.Fatal(err)
	}

	alert, err := p.Charge(context.Background(), userID, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if !alert.IsSuccess() || !alert.IsCharge() {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.UserID != userID || alert.Amount != 10000 {
		t.Fatalf("alert fields wrong: %+v", alert)
	}
}

func TestCreditUser(t *testing.T) {
	p := NewCardProcessor()
	userID := uuid.NewString()
	if err := p.Register(Card{UserID: userID, Type: Visa, CardRef: "card-ref-2"}); err != nil {
		t.Fatal(err)
	}

	alert, err := p.Credit(context.Background(), userID, 50000)
	if err != nil {
		t.Fatal(err)
	}
	if !alert.IsSuccess() || !alert.IsCredit() {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.UserID != userID || alert.Amount != 50000 {
		t.Fatalf("alert fields wrong: %+v", alert)
	}
}

func TestChargeUnregisteredUserFails(t *testing.T) {
	p := NewCardProcessor()

	alert, err := p.Charge(context.Background(), uuid.NewString(), 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !alert.IsFailure() {
		t.Fatalf("expected failure alert, got %+v", alert)
	}
}

func TestRegisterValidation(t *testing.T) {
	p := NewCardProcessor()
	userID := uuid.NewString()

	if err := p.Register(Card{UserID: "", Type: Verve, CardRef: "x"}); err != ErrInvalidCard {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
	if err := p.Register(Card{UserID: userID, Type: CardType(42), CardRef: "x"}); err != ErrInvalidCard {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
	if err := p.Register(Card{UserID: userID, Type: Verve, CardRef: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(Card{UserID: userID, Type: Visa, CardRef: "y"}); err != ErrCardExists {
		t.Fatalf("expected ErrCardExists, got %v", err)
	}
}

func TestChargeHonoursContext(t *testing.T) {
	p := NewCardProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Charge(ctx, uuid.NewString(), 100); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

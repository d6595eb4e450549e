// Package payments holds the payment gateway boundary: the Alert value type
// describing the outcome of a monetary operation, the Gateway contract, and a
// card-backed processor implementation.
package payments

// AlertType says which direction the money moved.
type AlertType int

const (
	Charge AlertType = iota
	Credit
)

func (t AlertType) String() string {
	switch t {
	case Charge:
		return "charge"
	case Credit:
		return "credit"
	default:
		return "unknown"
	}
}

// AlertStatus says whether the operation went through. A Failure alert is an
// ordinary outcome, not an error.
type AlertStatus int

const (
	Failure AlertStatus = iota
	Success
)

func (s AlertStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Alert is the gateway's report of an amount of money moved on a user's card.
// Amount is in minor units (kobo). No floats.
type Alert struct {
	Type   AlertType   `json:"type"`
	Status AlertStatus `json:"status"`
	UserID string      `json:"user_id"`
	Amount int64       `json:"amount"`
}

// NewChargeAlert builds a charge alert for the given user and amount.
func NewChargeAlert(userID string, amount int64, status AlertStatus) Alert {
	return Alert{Type: Charge, Status: status, UserID: userID, Amount: amount}
}

// NewCreditAlert builds a credit alert for the given user and amount.
func NewCreditAlert(userID string, amount int64, status AlertStatus) Alert {
	return Alert{Type: Credit, Status: status, UserID: userID, Amount: amount}
}

func (a Alert) IsCharge() bool  { return a.Type == Charge }
func (a Alert) IsCredit() bool  { return a.Type == Credit }
func (a Alert) IsSuccess() bool { return a.Status == Success }
func (a Alert) IsFailure() bool { return a.Status == Failure }

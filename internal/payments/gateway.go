package payments

import "context"

// Gateway moves money on a user's payment instrument.
//
// A declined operation is reported as a Failure alert with a nil error; the
// error return is reserved for transport trouble (cancelled context, timeout).
// Implementations must be safe for concurrent use.
type Gateway interface {
	Charge(ctx context.Context, userID string, amount int64) (Alert, error)
	Credit(ctx context.Context, userID string, amount int64) (Alert, error)
}

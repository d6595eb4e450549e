package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	hashids "github.com/speps/go-hashids/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// DefaultMinLength is the shortest public identifier the codec will produce.
const DefaultMinLength = 11

// Codec turns numeric primary keys into opaque public identifiers and back.
// Encoding is deterministic for a given salt: the same key always maps to
// the same public id. Construct one Codec at process start and pass it by
// reference to whatever needs it.
type Codec struct {
	h *hashids.HashID
}

// NewCodec builds a Codec with the given salt. minLength values below
// DefaultMinLength are raised to it.
func NewCodec(salt string, minLength int) (*Codec, error) {
	if minLength < DefaultMinLength {
		minLength = DefaultMinLength
	}
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = minLength
	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, err
	}
	return &Codec{h: h}, nil
}

// Encode returns the public identifier for a primary key.
func (c *Codec) Encode(pk int64) (string, error) {
	return c.h.EncodeInt64([]int64{pk})
}

// Decode reverses Encode.
func (c *Codec) Decode(public string) (int64, error) {
	pks, err := c.h.DecodeInt64WithError(public)
	if err != nil {
		return 0, err
	}
	return pks[0], nil
}

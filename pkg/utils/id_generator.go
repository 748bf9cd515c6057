package utils

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces prefixed, lexicographically sortable identifiers.
// ULIDs encode creation time, which keeps ledger rows naturally ordered.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *IDGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// TransactionID generates a transaction identifier.
// Format: TXN-{ULID}
func (g *IDGenerator) TransactionID() string {
	return fmt.Sprintf("TXN-%s", g.next())
}

// EntryID generates a ledger entry identifier.
// Format: LED-{ULID}
func (g *IDGenerator) EntryID() string {
	return fmt.Sprintf("LED-%s", g.next())
}

// AccountID generates a balance account identifier.
// Format: ACC-{ULID}
func (g *IDGenerator) AccountID() string {
	return fmt.Sprintf("ACC-%s", g.next())
}

// PairID generates an identifier linking the legs of a transfer.
// Format: PAIR-{ULID}
func (g *IDGenerator) PairID() string {
	return fmt.Sprintf("PAIR-%s", g.next())
}

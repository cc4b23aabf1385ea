package utils

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

const signatureBytes = 16

type SignatureFields struct {
	TicketTypeID uint
	PaymentID    string
	PersonID     uint
	PersonPhone  string
	EventID      uint
	EventNumber  string
	EventDate    time.Time
}

// TicketSigner derives ticket signatures with keyed BLAKE3. Each call mixes a
// process-wide counter and a random nonce, so signatures are unique but not
// reproducible from the ticket fields alone.
type TicketSigner struct {
	key     []byte
	counter atomic.Uint64
}

func NewTicketSigner(key []byte) (*TicketSigner, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes, got %d", len(key))
	}
	return &TicketSigner{key: key}, nil
}

func (s *TicketSigner) Sign(f SignatureFields) (string, error) {
	hasher, err := blake3.NewKeyed(s.key)
	if err != nil {
		return "", err
	}
	parts := []string{
		strconv.FormatUint(uint64(f.TicketTypeID), 10),
		f.PaymentID,
		strconv.FormatUint(uint64(f.PersonID), 10),
		f.PersonPhone,
		strconv.FormatUint(uint64(f.EventID), 10),
		f.EventNumber,
		f.EventDate.UTC().Format(time.RFC3339),
	}
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0x1f})
	}

	var tail [8 + 16]byte
	binary.BigEndian.PutUint64(tail[:8], s.counter.Add(1))
	if _, err := rand.Read(tail[8:]); err != nil {
		return "", err
	}
	hasher.Write(tail[:])

	return hex.EncodeToString(hasher.Sum(nil)[:signatureBytes]), nil
}

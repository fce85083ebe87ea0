package broker

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// RoomCodeAlphabet lists the characters a generated room code may contain.
const RoomCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	// ErrIdentitySpaceExhausted is returned when no free session identity was found
	// within the configured number of attempts.
	ErrIdentitySpaceExhausted = errors.New("session identity space exhausted")
	// ErrRoomCodeSpaceExhausted is returned when no unused room code was found
	// within the configured number of attempts.
	ErrRoomCodeSpaceExhausted = errors.New("room code space exhausted")
)

// SessionID is the opaque identity of one connected session.
type SessionID string

// String returns the identity as text.
func (id SessionID) String() string { return string(id) }

// Source supplies uniformly distributed integers.
type Source interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0.
func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("broker: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("broker: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// IDAllocator produces session identities and room codes.
type IDAllocator struct {
	codeLength      int
	maxIDAttempts   int
	maxCodeAttempts int
	src             Source
	newID           func() SessionID
}

// NewIDAllocator creates an allocator.
//
// Precondition: codeLength, maxIDAttempts and maxCodeAttempts must be >= 1; src must be non-nil.
func NewIDAllocator(codeLength, maxIDAttempts, maxCodeAttempts int, src Source) *IDAllocator {
	return &IDAllocator{
		codeLength:      codeLength,
		maxIDAttempts:   maxIDAttempts,
		maxCodeAttempts: maxCodeAttempts,
		src:             src,
		newID:           func() SessionID { return SessionID(uuid.NewString()) },
	}
}

// NextSession returns an identity for which taken reports false.
//
// Postcondition: Returns a free identity, or ErrIdentitySpaceExhausted after maxIDAttempts candidates.
func (a *IDAllocator) NextSession(taken func(SessionID) bool) (SessionID, error) {
	for i := 0; i < a.maxIDAttempts; i++ {
		id := a.newID()
		if !taken(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIdentitySpaceExhausted, a.maxIDAttempts)
}

// NextRoomCode returns a random lowercase alphanumeric code of the configured length.
func (a *IDAllocator) NextRoomCode() string {
	buf := make([]byte, a.codeLength)
	for i := range buf {
		buf[i] = RoomCodeAlphabet[a.src.Intn(len(RoomCodeAlphabet))]
	}
	return string(buf)
}

// UniqueRoomCode returns a code absent from existing, regenerating on collision.
//
// Postcondition: Returns an unused code, or ErrRoomCodeSpaceExhausted after maxCodeAttempts candidates.
func (a *IDAllocator) UniqueRoomCode(existing map[string]struct{}) (string, error) {
	for i := 0; i < a.maxCodeAttempts; i++ {
		code := a.NextRoomCode()
		if _, used := existing[code]; !used {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrRoomCodeSpaceExhausted, a.maxCodeAttempts)
}

package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("password hashing failed")
	ErrMalformedHash = errors.New("malformed password hash")
)

// PasswordHasher hashes new passwords and verifies submitted ones. Verify
// returns (false, nil) on a mismatch; an error means the stored hash or the
// algorithm is unusable.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hashedPassword string) (bool, error)
}

// bcryptMaxBytes is the longest input bcrypt accepts.
const bcryptMaxBytes = 72

type bcryptHasher struct {
	cost int
}

// MaxPasswordBytes reports the hasher's input limit in bytes, or 0 when it
// has none.
func MaxPasswordBytes(h PasswordHasher) int {
	if l, ok := h.(interface{ maxPasswordBytes() int }); ok {
		return l.maxPasswordBytes()
	}
	return 0
}

func (b *bcryptHasher) maxPasswordBytes() int { return bcryptMaxBytes }

// NewBcryptHasher creates a new password hasher using bcrypt
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashingFailed, err)
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Verify(password, hashedPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// NewHasher picks an implementation by name ("bcrypt" or "argon2id").
func NewHasher(algorithm string, bcryptCost int, argon Argon2Params) (PasswordHasher, error) {
	switch algorithm {
	case "", "bcrypt":
		return NewBcryptHasher(bcryptCost), nil
	case "argon2id", "argon2":
		return NewArgon2Hasher(argon), nil
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", algorithm)
	}
}

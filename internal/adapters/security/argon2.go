package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/cadencehq/identity-service/internal/domain"
)

// Argon2Params are the memory-hard derivation costs. They are configuration,
// not constants, so environments can trade latency against resistance.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Cost ceilings accepted from stored hashes. A row claiming costs beyond
// these would stall every verification that touches it, so it is treated as
// corrupt rather than derived.
const (
	maxMemoryKiB  = 4 * 1024 * 1024
	maxIterations = 64
)

// DefaultArgon2Params returns the baseline production costs.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher hashes passwords with argon2id and encodes the result in the
// PHC string format, so every stored hash carries its own parameters.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher creates a hasher, falling back to defaults for unset costs.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	def := DefaultArgon2Params()
	if params.MemoryKiB == 0 {
		params.MemoryKiB = def.MemoryKiB
	}
	if params.Iterations == 0 {
		params.Iterations = def.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = def.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = def.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = def.KeyLength
	}
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: read salt: %v", domain.ErrInfrastructure, err)
	}

	digest := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
	return encoded, nil
}

func (h *Argon2Hasher) Verify(password, encodedHash string) error {
	params, salt, digest, err := decodePHC(encodedHash)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(digest)))
	if subtle.ConstantTimeCompare(candidate, digest) != 1 {
		return domain.ErrInvalidCredentials
	}
	return nil
}

// decodePHC parses $argon2id$v=19$m=...,t=...,p=...$salt$digest. Any parse
// failure is data corruption and reported as ErrMalformedHash.
func decodePHC(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unexpected segment layout", domain.ErrMalformedHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: version segment", domain.ErrMalformedHash)
	}
	if version != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported version %d", domain.ErrMalformedHash, version)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: cost segment", domain.ErrMalformedHash)
	}
	// argon2.IDKey panics on zero costs, so a corrupt row must be caught here.
	if params.MemoryKiB == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: zero cost parameter", domain.ErrMalformedHash)
	}
	if params.MemoryKiB > maxMemoryKiB || params.Iterations > maxIterations {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: cost parameter out of range", domain.ErrMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: salt segment", domain.ErrMalformedHash)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: digest segment", domain.ErrMalformedHash)
	}
	if len(salt) == 0 || len(digest) == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: empty salt or digest", domain.ErrMalformedHash)
	}
	return params, salt, digest, nil
}

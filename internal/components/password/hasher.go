package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

const (
	TagArgon2id = "argon2id"
	TagBcrypt   = "bcrypt"

	SaltSize = 16
	KeySize  = 32

	// bcrypt digests look like $2a$10$<22 chars salt><31 chars hash>.
	bcryptSaltStart = 7
	bcryptSaltEnd   = 29
)

var ErrMalformedDigest = errors.New("malformed password digest")

type (
	// Params are the Argon2id cost parameters.
	Params struct {
		Time    uint32
		Memory  uint32 // KiB
		Threads uint8
	}

	// Hasher derives and checks password digests. It is safe for concurrent use.
	Hasher struct {
		params      Params
		tag         string
		decoySalt   []byte
		decoyDigest []byte
	}
)

// DefaultParams are used for records tagged with a bare "argon2id".
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	return New(Params{
		Time:    cfg.Argon2Time,
		Memory:  cfg.Argon2Memory,
		Threads: cfg.Argon2Threads,
	})
}

// New returns a Hasher for params. A decoy salt and digest are generated once here
// so the not-found path costs the same as a real verification.
func New(params Params) (*Hasher, error) {
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("invalid argon2id parameters %+v", params)
	}

	h := &Hasher{params: params, tag: params.tag()}

	salt, err := h.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("decoy salt: %w", err)
	}
	placeholder, err := h.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("decoy secret: %w", err)
	}
	h.decoySalt = salt
	h.decoyDigest = h.Hash(string(placeholder), salt)
	return h, nil
}

// Tag is the algorithm tag stored with digests produced by Hash.
func (h *Hasher) Tag() string {
	return h.tag
}

func (h *Hasher) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func (h *Hasher) Hash(plaintext string, salt []byte) []byte {
	return derive(plaintext, salt, h.params)
}

// Verify reports whether plaintext matches digest under the algorithm named by tag.
// Unknown tags and malformed digests never verify.
func (h *Hasher) Verify(plaintext string, salt, digest []byte, tag string) bool {
	switch {
	case tag == TagBcrypt:
		return bcrypt.CompareHashAndPassword(digest, []byte(plaintext)) == nil
	case strings.HasPrefix(tag, TagArgon2id):
		params, err := parseTag(tag)
		if err != nil || len(salt) == 0 {
			return false
		}
		return subtle.ConstantTimeCompare(derive(plaintext, salt, params), digest) == 1
	default:
		return false
	}
}

// VerifyDecoy runs a full verification against the decoy record. It always reports false.
func (h *Hasher) VerifyDecoy(plaintext string) bool {
	subtle.ConstantTimeCompare(h.Hash(plaintext, h.decoySalt), h.decoyDigest)
	return false
}

// NeedsRehash reports whether a record stored under tag should be rehashed with the current parameters.
func (h *Hasher) NeedsRehash(tag string) bool {
	return tag != h.tag
}

// BcryptSalt extracts the salt segment stored alongside a legacy bcrypt digest.
func BcryptSalt(digest []byte) ([]byte, error) {
	if _, err := bcrypt.Cost(digest); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDigest, err)
	}
	return append([]byte(nil), digest[bcryptSaltStart:bcryptSaltEnd]...), nil
}

func derive(plaintext string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, KeySize)
}

func (p Params) tag() string {
	if p == DefaultParams {
		return TagArgon2id
	}
	return fmt.Sprintf("%s:t=%d,m=%d,p=%d", TagArgon2id, p.Time, p.Memory, p.Threads)
}

func parseTag(tag string) (Params, error) {
	if tag == TagArgon2id {
		return DefaultParams, nil
	}

	var p Params
	n, err := fmt.Sscanf(tag, TagArgon2id+":t=%d,m=%d,p=%d", &p.Time, &p.Memory, &p.Threads)
	if err != nil || n != 3 || p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return Params{}, fmt.Errorf("%w: tag %q", ErrMalformedDigest, tag)
	}
	return p, nil
}

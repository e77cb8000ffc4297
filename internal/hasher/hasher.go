// Package hasher implements the password-verification pipeline (C1):
// Argon2id digests with process-wide pepper rotation, constant-time
// comparison, and transparent rehash-on-verify for stale parameters.
//
// The teacher (growth-server) hashes passwords with bcrypt via
// golang.org/x/crypto/bcrypt. The spec requires Argon2id, so this
// package moves to golang.org/x/crypto/argon2 (same module, same
// ecosystem). A digest produced by the old bcrypt pipeline is
// recognized by its prefix (IsLegacyDigest) and rejected with
// ErrLegacyAlgorithm rather than silently accepted; it is never
// checked against the password.
package hasher

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/shieldgate/authcore/internal/autherrors"
)

// Params holds the Argon2id cost parameters stored alongside a digest
// so verification always uses the parameters the digest was produced
// with (§4.1).
type Params struct {
	MemoryKiB   uint32
	TimeCost    uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultParams are moderate-cost settings suitable for an interactive
// login path; operators should tune MemoryKiB/TimeCost to their
// hardware via passwordHashParams (§6).
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	TimeCost:    3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// Peppers holds the process-wide peppers by version. Active names the
// version used for new hashes; the other versions are retained only to
// verify digests hashed under an older version (§4.1, §4.2).
type Peppers struct {
	// Active is the pepper version used for new hashing operations.
	Active int
	// ByVersion maps a pepper version to its raw secret bytes.
	ByVersion map[int][]byte
}

func (p Peppers) lookup(version int) ([]byte, bool) {
	v, ok := p.ByVersion[version]
	return v, ok
}

// Hasher verifies and produces Argon2id digests, XORing a process-wide
// pepper into the password before hashing and transparently signalling
// when a re-hash with current parameters is warranted.
type Hasher struct {
	peppers Peppers
	params  Params
}

// New constructs a Hasher bound to the given pepper set and cost
// parameters.
func New(peppers Peppers, params Params) *Hasher {
	return &Hasher{peppers: peppers, params: params}
}

// encoded digest format: argon2id$v=<version>$m=<mem>,t=<time>,p=<par>$pv=<pepperVersion>$<salt-b64>$<hash-b64>
const algoPrefix = "argon2id"

func pepperize(password string, pepper []byte) []byte {
	out := make([]byte, len(password))
	copy(out, password)
	if len(pepper) == 0 {
		return out
	}
	for i := range out {
		out[i] ^= pepper[i%len(pepper)]
	}
	return out
}

// Hash produces a new Argon2id digest for password using the active
// pepper version and the Hasher's configured parameters.
func (h *Hasher) Hash(password string, salt []byte) (string, error) {
	pepper, ok := h.peppers.lookup(h.peppers.Active)
	if !ok {
		return "", fmt.Errorf("hasher: active pepper version %d not loaded", h.peppers.Active)
	}
	if len(salt) == 0 {
		return "", fmt.Errorf("hasher: salt required")
	}

	peppered := pepperize(password, pepper)
	sum := argon2.IDKey(peppered, salt, h.params.TimeCost, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLen)

	encoded := fmt.Sprintf("%s$v=19$m=%d,t=%d,p=%d$pv=%d$%s$%s",
		algoPrefix,
		h.params.MemoryKiB, h.params.TimeCost, h.params.Parallelism,
		h.peppers.Active,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum))
	return encoded, nil
}

// parsed holds the decoded fields of an encoded Argon2id digest.
type parsed struct {
	mem, time uint32
	par       uint8
	pepperVer int
	salt, sum []byte
}

func parseDigest(digest string) (parsed, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != algoPrefix {
		return parsed{}, fmt.Errorf("hasher: malformed digest")
	}
	var mem, timeCost uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &mem, &timeCost, &par); err != nil {
		return parsed{}, fmt.Errorf("hasher: malformed cost parameters: %w", err)
	}
	var pv int
	if _, err := fmt.Sscanf(parts[3], "pv=%d", &pv); err != nil {
		return parsed{}, fmt.Errorf("hasher: malformed pepper version: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return parsed{}, fmt.Errorf("hasher: malformed salt: %w", err)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return parsed{}, fmt.Errorf("hasher: malformed sum: %w", err)
	}
	return parsed{mem: mem, time: timeCost, par: par, pepperVer: pv, salt: salt, sum: sum}, nil
}

// IsLegacyDigest reports whether digest was produced by the retired
// bcrypt pipeline rather than the current Argon2id one.
func IsLegacyDigest(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

// Verify checks password against digest. It returns
// (matches, needsRehash, error). needsRehash is true when the digest
// verified successfully but under a non-active pepper version or with
// parameters weaker than the Hasher's current configuration — the
// orchestrator should then call Hash again and persist the result
// (§4.1: "transparently re-hashes with current parameters").
func (h *Hasher) Verify(password, digest string) (matches bool, needsRehash bool, err error) {
	if IsLegacyDigest(digest) {
		return false, false, autherrors.ErrLegacyAlgorithm
	}

	p, err := parseDigest(digest)
	if err != nil {
		return false, false, err
	}

	pepper, ok := h.peppers.lookup(p.pepperVer)
	if !ok {
		// Pepper version retired/unknown: treat as mismatch, never as
		// an error that would leak which case occurred (§8 constant
		// time w.r.t. user-exists).
		return false, false, autherrors.ErrInvalidCredential
	}

	peppered := pepperize(password, pepper)
	candidate := argon2.IDKey(peppered, p.salt, p.time, p.mem, p.par, uint32(len(p.sum)))

	if subtle.ConstantTimeCompare(candidate, p.sum) != 1 {
		return false, false, autherrors.ErrInvalidCredential
	}

	stale := p.pepperVer != h.peppers.Active ||
		p.mem < h.params.MemoryKiB || p.time < h.params.TimeCost || p.par < h.params.Parallelism
	return true, stale, nil
}

// ParamsString renders Params as a human-readable label, useful for
// logging which cost tier a credential was hashed under.
func (p Params) String() string {
	return "m=" + strconv.FormatUint(uint64(p.MemoryKiB), 10) +
		",t=" + strconv.FormatUint(uint64(p.TimeCost), 10) +
		",p=" + strconv.FormatUint(uint64(p.Parallelism), 10)
}

package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const envelopeVersion = 1

// ErrWrongPassphrase is returned when a sealed session cannot be opened, either
// because the passphrase differs or the ciphertext was modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted session file")

// KDFParams are the argon2id parameters used to derive the file key.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // in KB
	Threads uint8
}

// DefaultKDFParams follows the argon2id interactive recommendation.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}
}

func (p KDFParams) validate() error {
	if p.Time < 1 {
		return errors.New("KDF Time must be >= 1")
	}
	if p.Memory < 8*1024 {
		return errors.New("KDF Memory must be >= 8192 KB")
	}
	if p.Threads < 1 {
		return errors.New("KDF Threads must be >= 1")
	}
	return nil
}

// envelope is the on-disk JSON structure of a sealed session.
type envelope struct {
	V       int    `json:"v"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Time    uint32 `json:"argon2_t"`
	Memory  uint32 `json:"argon2_m"`
	Threads uint8  `json:"argon2_p"`
	Cipher  []byte `json:"cipher"`
}

func deriveKey(passphrase string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

// seal encrypts raw with a key derived from passphrase.
func seal(passphrase string, raw []byte, p KDFParams) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt, p))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return json.Marshal(envelope{
		V:       envelopeVersion,
		Salt:    salt,
		Nonce:   nonce,
		Time:    p.Time,
		Memory:  p.Memory,
		Threads: p.Threads,
		Cipher:  aead.Seal(nil, nonce, raw, salt),
	})
}

// open decrypts an envelope produced by seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("unsupported session envelope version %d", env.V)
	}
	p := KDFParams{Time: env.Time, Memory: env.Memory, Threads: env.Threads}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, env.Salt, p))
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, ErrCorruptSession
	}
	pt, err := aead.Open(nil, env.Nonce, env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

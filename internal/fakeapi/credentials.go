package fakeapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
	minPassBytes         = 8
	algorithmID          = "argon2id"
)

// HashParams are the argon2id cost parameters for stored passwords.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams are cheap enough for tests and demos.
func DefaultHashParams() HashParams {
	return HashParams{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func (p HashParams) validate() error {
	if p.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if p.Time < 1 {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < 1 {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}

var errShortPassword = fmt.Errorf("password must be at least %d bytes", minPassBytes)

// hashPassword returns a PHC-encoded argon2id hash:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
func hashPassword(p HashParams, password string) (string, error) {
	if len(password) < minPassBytes {
		return "", errShortPassword
	}
	salt := make([]byte, p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

func verifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return false, errors.New("invalid PHC format")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return false, errors.New("unsupported argon2 version")
	}

	var memory, timeCost uint32
	var threads uint8
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return false, errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return false, errors.New("invalid parameter value")
		}
		switch k {
		case "m":
			memory = uint32(n)
		case "t":
			timeCost = uint32(n)
		case "p":
			if n > 255 {
				return false, errors.New("invalid parallelism parameter")
			}
			threads = uint8(n)
		default:
			return false, errors.New("unsupported parameter")
		}
	}
	if memory < minMemoryKB || timeCost < 1 || threads < 1 {
		return false, errors.New("missing parameters")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return false, errors.New("invalid salt")
	}
	want, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errors.New("invalid hash")
	}

	got := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gagliardetto/solana-go"
)

// KeySize is the byte length of an ed25519 keypair as written by
// solana-keygen: 32 bytes of seed followed by the 32 byte public key.
const KeySize = ed25519.PrivateKeySize

var (
	// ErrInvalidKey is returned when key bytes are malformed or inconsistent.
	ErrInvalidKey = errors.New("invalid keypair")

	// ErrKeyfileNotFound is returned when the keypair file does not exist.
	// Callers treat it as recoverable: the operator can place the file and retry.
	ErrKeyfileNotFound = errors.New("keypair file not found")
)

// KeyMaterial owns the signing key for the process lifetime.
// It is read-only after construction and safe to share.
type KeyMaterial struct {
	key     solana.PrivateKey
	address solana.PublicKey
}

// LoadKey builds KeyMaterial from raw keypair bytes.
func LoadKey(raw []byte) (*KeyMaterial, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}

	// The public half must be what the seed derives to; a file with a
	// mismatched pair would sign for an address it does not own.
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key does not match secret key", ErrInvalidKey)
	}

	key := make(solana.PrivateKey, KeySize)
	copy(key, raw)
	if _, err := solana.ValidatePrivateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &KeyMaterial{
		key:     key,
		address: key.PublicKey(),
	}, nil
}

// ParseKeyfile decodes the JSON byte array format produced by solana-keygen,
// e.g. "[12,250,...]".
func ParseKeyfile(content []byte) (*KeyMaterial, error) {
	var values []int
	if err := json.Unmarshal(bytes.TrimSpace(content), &values); err != nil {
		return nil, fmt.Errorf("%w: keyfile is not a JSON byte array: %v", ErrInvalidKey, err)
	}

	raw := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: value %d at index %d is not a byte", ErrInvalidKey, v, i)
		}
		raw[i] = byte(v)
	}

	return LoadKey(raw)
}

// LoadKeyfile reads and parses the keypair file at path.
func LoadKeyfile(path string) (*KeyMaterial, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyfileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read keypair file %s: %w", path, err)
	}
	return ParseKeyfile(content)
}

// Address returns the public address derived from the key.
func (k *KeyMaterial) Address() solana.PublicKey {
	return k.address
}

// Sign signs message with the private key.
func (k *KeyMaterial) Sign(message []byte) (solana.Signature, error) {
	return k.key.Sign(message)
}

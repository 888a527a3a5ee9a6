package escrow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

const (
	apiKeyBytes = 16
	pinDigits   = 4
)

var pinSpace = big.NewInt(10000)

// CredentialGenerator issues buyer-side access credentials at sale time.
type CredentialGenerator interface {
	Generate() (AccessCredential, error)
}

// RandomCredentialGenerator draws a 128-bit API key and a numeric PIN from a random source.
type RandomCredentialGenerator struct {
	source io.Reader
}

// NewRandomCredentialGenerator uses crypto/rand when source is nil.
func NewRandomCredentialGenerator(source io.Reader) *RandomCredentialGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &RandomCredentialGenerator{source: source}
}

// Generate returns a fresh credential.
func (generator *RandomCredentialGenerator) Generate() (AccessCredential, error) {
	keyBytes := make([]byte, apiKeyBytes)
	if _, err := io.ReadFull(generator.source, keyBytes); err != nil {
		return AccessCredential{}, fmt.Errorf("read api key entropy: %w", err)
	}
	pin, err := rand.Int(generator.source, pinSpace)
	if err != nil {
		return AccessCredential{}, fmt.Errorf("read pin entropy: %w", err)
	}
	return AccessCredential{
		APIKey: hex.EncodeToString(keyBytes),
		PIN:    fmt.Sprintf("%0*d", pinDigits, pin.Int64()),
	}, nil
}

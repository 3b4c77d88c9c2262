package execution

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Signer holds the process-wide wallet key. It is read-only after
// construction and safe for concurrent use.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewSigner loads a base58-encoded 64-byte secret key.
func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("execution: signing key must not be empty")
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("execution: decode signing key: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("execution: signing key has %d bytes, want 64", len(key))
	}
	return &Signer{key: key, pub: key.PublicKey()}, nil
}

// GenerateSigner creates a throwaway wallet.
func GenerateSigner() (*Signer, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("execution: generate signing key: %w", err)
	}
	return &Signer{key: key, pub: key.PublicKey()}, nil
}

func (s *Signer) PublicKey() string {
	return s.pub.String()
}

// Secret returns the base58 secret key. Only used to print a generated key
// outside production.
func (s *Signer) Secret() string {
	return s.key.String()
}

// SignTransaction decodes a base64 transaction, signs its message with the
// wallet key in the wallet's signer slot and re-encodes it.
func (s *Signer) SignTransaction(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("execution: decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("execution: deserialize transaction: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	slot := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(s.pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return "", fmt.Errorf("execution: wallet %s is not a required signer", s.pub)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("execution: encode message: %w", err)
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("execution: sign message: %w", err)
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[slot] = sig

	out, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("execution: serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

package execution

import (
	"encoding/base64"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
)

// unsignedTransfer builds a venue-style payload: a transaction with an empty
// signature slot for payer.
func unsignedTransfer(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	recipient := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, recipient).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewSigner(t *testing.T) {
	_, err := NewSigner("")
	require.Error(t, err)

	_, err = NewSigner("not-base58-0OIl")
	require.Error(t, err)

	gen, err := GenerateSigner()
	require.NoError(t, err)

	loaded, err := NewSigner(gen.Secret())
	require.NoError(t, err)
	require.Equal(t, gen.PublicKey(), loaded.PublicKey())
}

func TestSignTransaction_PlacesSignatureInWalletSlot(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	signed, err := s.SignTransaction(unsignedTransfer(t, s.pub))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	require.True(t, tx.Signatures[0].Verify(s.pub, msg))
}

func TestSignTransaction_RejectsForeignTransaction(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	_, err = s.SignTransaction(unsignedTransfer(t, solana.NewWallet().PublicKey()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a required signer")
}

func TestSignTransaction_BadPayload(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	_, err = s.SignTransaction("%%%")
	require.Error(t, err)

	_, err = s.SignTransaction(base64.StdEncoding.EncodeToString([]byte{1, 2}))
	require.Error(t, err)
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const DefaultRPCURL = rpc.MainNetBeta_RPC

type rpcAPI interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

// Wallet reads on-chain state for the signer's account. Mint decimals never
// change, so they are cached per mint.
type Wallet struct {
	rpc   rpcAPI
	owner solana.PublicKey

	mu       sync.Mutex
	decimals map[string]int32
}

func NewWallet(client rpcAPI, owner string) (*Wallet, error) {
	if client == nil {
		return nil, errors.New("execution: rpc client must not be nil")
	}
	pub, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("execution: parse wallet address: %w", err)
	}
	return &Wallet{rpc: client, owner: pub, decimals: map[string]int32{}}, nil
}

// NewRPCClient connects to a Solana JSON-RPC endpoint.
func NewRPCClient(endpoint string) *rpc.Client {
	if endpoint == "" {
		endpoint = DefaultRPCURL
	}
	return rpc.New(endpoint)
}

func (w *Wallet) Address() string {
	return w.owner.String()
}

// Balance returns the wallet's SOL balance.
func (w *Wallet) Balance(ctx context.Context) (decimal.Decimal, error) {
	res, err := w.rpc.GetBalance(ctx, w.owner, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: get balance: %w", err)
	}
	return decimal.NewFromUint64(res.Value).Shift(-SOLDecimals), nil
}

// Decimals returns the number of decimals of an SPL mint.
func (w *Wallet) Decimals(ctx context.Context, mint string) (int32, error) {
	w.mu.Lock()
	d, ok := w.decimals[mint]
	w.mu.Unlock()
	if ok {
		return d, nil
	}

	pub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("execution: parse mint: %w", err)
	}
	res, err := w.rpc.GetTokenSupply(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("execution: get token supply: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, errors.New("execution: token supply missing from rpc response")
	}
	d = int32(res.Value.Decimals)

	w.mu.Lock()
	w.decimals[mint] = d
	w.mu.Unlock()
	return d, nil
}

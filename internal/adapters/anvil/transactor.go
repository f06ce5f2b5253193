package anvil

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const transferGas = 21_000

// Transactor signs legacy transactions with a local key and submits them.
type Transactor struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer
}

// ParsePrivateKey accepts a hex key with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NewTransactor resolves the chain id and prepares a signer.
func NewTransactor(ctx context.Context, eth *ethclient.Client, key *ecdsa.PrivateKey) (*Transactor, error) {
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, &domain.RPCError{Method: "eth_chainId", Err: err}
	}
	return &Transactor{
		eth:     eth,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// From is the sending account.
func (t *Transactor) From() common.Address { return t.from }

// Send signs and submits a transaction. A nil to creates a contract. A
// zero gas limit is estimated.
func (t *Transactor) Send(ctx context.Context, to *common.Address, value *big.Int, data []byte, gas uint64) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := t.eth.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, &domain.RPCError{Method: "eth_getTransactionCount", Err: err}
	}
	gasPrice, err := t.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &domain.RPCError{Method: "eth_gasPrice", Err: err}
	}
	if gas == 0 {
		if to != nil && len(data) == 0 {
			gas = transferGas
		} else {
			estimated, err := t.eth.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: to, Value: value, Data: data})
			if err != nil {
				return nil, &domain.RPCError{Method: "eth_estimateGas", Err: err}
			}
			gas = estimated * 12 / 10
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := t.eth.SendTransaction(ctx, signed); err != nil {
		return nil, &domain.RPCError{Method: "eth_sendRawTransaction", Err: err}
	}
	return signed, nil
}

// WaitForReceipt polls until the transaction is mined or timeout passes.
func WaitForReceipt(ctx context.Context, eth *ethclient.Client, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	var receipt *types.Receipt
	out := readiness.PollUntil(ctx, func(ctx context.Context) (*types.Receipt, error) {
		return eth.TransactionReceipt(ctx, hash)
	}, func(r *types.Receipt) bool {
		receipt = r
		return r != nil
	}, readiness.Options{Interval: 250 * time.Millisecond, Timeout: timeout})

	if err := out.Err("receipt " + hash.Hex()); err != nil {
		if errors.Is(out.LastErr, ethereum.NotFound) || out.LastErr == nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", err, out.LastErr)
	}
	return receipt, nil
}

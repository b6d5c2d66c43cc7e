package dispatch

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

const liquidatorABI = `[
  {"type":"function","name":"liquidateSingle","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"strategy","type":"address"},
    {"name":"positionId","type":"uint256"}]}
]`

const (
	DefaultConfirmations = 3
	DefaultPollInterval  = 2 * time.Second

	// gasHeadroom is applied in percent on top of the node's estimate.
	gasHeadroom = 120
)

// ErrReverted means the liquidation transaction was mined but failed.
var ErrReverted = errors.New("liquidation transaction reverted")

// Backend is the subset of the node RPC the submitter needs. An
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ChainSubmitter signs and sends liquidateSingle calls to the Liquidator
// contract, then waits for the configured number of confirmations.
type ChainSubmitter struct {
	backend       Backend
	liquidator    common.Address
	key           *ecdsa.PrivateKey
	from          common.Address
	abi           abi.ABI
	confirmations uint64
	pollInterval  time.Duration

	chainID *big.Int
	logger  zerolog.Logger
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func NewChainSubmitter(backend Backend, liquidator common.Address, key *ecdsa.PrivateKey, confirmations uint64) (*ChainSubmitter, error) {
	if key == nil {
		return nil, errors.New("chain submitter: signing key required")
	}
	parsed, err := abi.JSON(strings.NewReader(liquidatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse liquidator abi: %w", err)
	}
	if confirmations == 0 {
		confirmations = DefaultConfirmations
	}
	return &ChainSubmitter{
		backend:       backend,
		liquidator:    liquidator,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		abi:           parsed,
		confirmations: confirmations,
		pollInterval:  DefaultPollInterval,
		logger:        observability.NewLogger("chain-submitter"),
	}, nil
}

// From returns the account transactions are sent from.
func (s *ChainSubmitter) From() common.Address {
	return s.from
}

// SetPollInterval changes how often receipts and heads are polled.
func (s *ChainSubmitter) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *ChainSubmitter) Submit(ctx context.Context, intent event.Liquidation) (event.LiquidationOutcome, error) {
	outcome := event.LiquidationOutcome{Intent: intent, Status: event.OutcomeFailed}

	tx, err := s.buildTx(ctx, intent)
	if err != nil {
		return outcome, err
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return outcome, fmt.Errorf("send transaction: %w", err)
	}
	outcome.TxHash = tx.Hash()

	s.logger.Info().
		Str("tx", tx.Hash().Hex()).
		Uint64("nonce", tx.Nonce()).
		Str("position_id", intent.PositionID.Dec()).
		Msg("liquidation sent")

	receipt, err := s.waitConfirmed(ctx, tx.Hash())
	if receipt != nil && receipt.BlockNumber != nil {
		outcome.BlockNumber = receipt.BlockNumber.Uint64()
	}
	outcome.CompletedAt = time.Now().UTC()
	if err != nil {
		if errors.Is(err, ErrReverted) {
			outcome.Status = event.OutcomeReverted
		}
		return outcome, err
	}

	outcome.Status = event.OutcomeConfirmed
	return outcome, nil
}

func (s *ChainSubmitter) buildTx(ctx context.Context, intent event.Liquidation) (*types.Transaction, error) {
	data, err := s.abi.Pack("liquidateSingle", intent.StrategyAddress, intent.PositionID.ToBig())
	if err != nil {
		return nil, fmt.Errorf("pack liquidateSingle: %w", err)
	}

	if s.chainID == nil {
		id, err := s.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		s.chainID = id
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	to := s.liquidator
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas * gasHeadroom / 100,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// waitConfirmed polls until the receipt is at least s.confirmations deep.
// A mined but failed transaction returns ErrReverted with its receipt.
func (s *ChainSubmitter) waitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound), err == nil && receipt == nil:
		case err != nil:
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		case receipt.Status != types.ReceiptStatusSuccessful:
			return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
		default:
			depth, err := s.depth(ctx, receipt)
			if err != nil {
				return receipt, err
			}
			if depth >= s.confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return receipt, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *ChainSubmitter) depth(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return 0, errors.New("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return 0, nil
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	return confirmed.Uint64() + 1, nil
}

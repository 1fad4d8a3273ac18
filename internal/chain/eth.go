package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/money"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
)

// Minimal escrow contract ABI: order reads plus the three mutating calls the
// orchestrator issues.
const escrowABI = `[
	{"constant":true,"inputs":[{"name":"orderId","type":"uint256"}],"name":"getOrder","outputs":[{"name":"buyer","type":"address"},{"name":"amount","type":"uint256"},{"name":"delivered","type":"bool"},{"name":"released","type":"bool"},{"name":"proofHash","type":"bytes32"},{"name":"autoRelease","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"orderId","type":"uint256"}],"name":"getSettlement","outputs":[{"name":"executed","type":"bool"},{"name":"confirmed","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"orderId","type":"uint256"},{"name":"proofHash","type":"bytes32"}],"name":"submitDeliveryProof","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"orderId","type":"uint256"}],"name":"executeSettlement","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"orderId","type":"uint256"}],"name":"confirmSettlement","outputs":[],"type":"function"}
]`

const (
	// DefaultGasLimit for escrow contract calls when estimation fails.
	DefaultGasLimit = uint64(200000)

	// rpcAttempts bounds transient RPC retries inside a single adapter call.
	// Lifecycle-level retries are the scheduler's job, not the adapter's.
	rpcAttempts = 3
	rpcBackoff  = 500 * time.Millisecond
)

// EthConfig configures the eth-backed adapter.
type EthConfig struct {
	RPCURL     string
	ChainID    int64
	Contract   string
	PrivateKey string // hex, with or without 0x prefix
}

// EthAdapter talks to the escrow contract over JSON-RPC.
type EthAdapter struct {
	client     *ethclient.Client
	contract   common.Address
	parsedABI  abi.ABI
	privateKey *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
}

// Compile-time interface check
var _ Adapter = (*EthAdapter)(nil)

// NewEthAdapter connects to the RPC endpoint and prepares the signer.
func NewEthAdapter(cfg EthConfig) (*EthAdapter, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("chain: failed to derive public key")
	}

	parsedABI, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: failed to parse escrow ABI: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: RPC connection failed: %w", err)
	}

	return &EthAdapter{
		client:     client,
		contract:   common.HexToAddress(cfg.Contract),
		parsedABI:  parsedABI,
		privateKey: privateKey,
		from:       crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
	}, nil
}

// Close releases the underlying RPC client.
func (a *EthAdapter) Close() {
	a.client.Close()
}

func (a *EthAdapter) GetOrderState(ctx context.Context, orderID int64) (*OrderState, error) {
	data, err := a.parsedABI.Pack("getOrder", big.NewInt(orderID))
	if err != nil {
		return nil, fmt.Errorf("chain: pack getOrder: %w", err)
	}

	var result []byte
	err = retry.Do(ctx, rpcAttempts, rpcBackoff, func() error {
		var callErr error
		result, callErr = a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.contract,
			Data: data,
		}, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain: getOrder call: %w", err)
	}

	out, err := a.parsedABI.Unpack("getOrder", result)
	if err != nil || len(out) < 6 {
		return nil, fmt.Errorf("chain: unpack getOrder: %w", err)
	}

	buyer, _ := out[0].(common.Address)
	amount, _ := out[1].(*big.Int)
	delivered, _ := out[2].(bool)
	released, _ := out[3].(bool)
	proofHash, _ := out[4].([32]byte)
	autoRelease, _ := out[5].(bool)

	if buyer == (common.Address{}) && amount != nil && amount.Sign() == 0 {
		return nil, ErrOrderNotOnChain
	}

	return &OrderState{
		OrderID:       orderID,
		Buyer:         strings.ToLower(buyer.Hex()),
		Amount:        money.Format(amount),
		Delivered:     delivered,
		Released:      released,
		ProofHash:     common.BytesToHash(proofHash[:]).Hex(),
		AutoReleaseOn: autoRelease,
	}, nil
}

func (a *EthAdapter) GetSettlementState(ctx context.Context, orderID int64) (*SettlementState, error) {
	data, err := a.parsedABI.Pack("getSettlement", big.NewInt(orderID))
	if err != nil {
		return nil, fmt.Errorf("chain: pack getSettlement: %w", err)
	}

	result, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &a.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: getSettlement call: %w", err)
	}

	out, err := a.parsedABI.Unpack("getSettlement", result)
	if err != nil || len(out) < 2 {
		return nil, fmt.Errorf("chain: unpack getSettlement: %w", err)
	}

	executed, _ := out[0].(bool)
	confirmed, _ := out[1].(bool)
	return &SettlementState{OrderID: orderID, Executed: executed, Confirmed: confirmed}, nil
}

func (a *EthAdapter) SubmitDeliveryProof(ctx context.Context, orderID int64, proofHash string) (string, error) {
	var hash [32]byte
	copy(hash[:], common.HexToHash(proofHash).Bytes())

	data, err := a.parsedABI.Pack("submitDeliveryProof", big.NewInt(orderID), hash)
	if err != nil {
		return "", fmt.Errorf("chain: pack submitDeliveryProof: %w", err)
	}
	return a.sendTransaction(ctx, data)
}

func (a *EthAdapter) ExecuteSettlement(ctx context.Context, orderID int64) (string, error) {
	data, err := a.parsedABI.Pack("executeSettlement", big.NewInt(orderID))
	if err != nil {
		return "", fmt.Errorf("chain: pack executeSettlement: %w", err)
	}
	return a.sendTransaction(ctx, data)
}

func (a *EthAdapter) ConfirmSettlement(ctx context.Context, orderID int64) (string, error) {
	data, err := a.parsedABI.Pack("confirmSettlement", big.NewInt(orderID))
	if err != nil {
		return "", fmt.Errorf("chain: pack confirmSettlement: %w", err)
	}
	return a.sendTransaction(ctx, data)
}

func (a *EthAdapter) ReceiptStatus(ctx context.Context, txHash string) (ReceiptStatus, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err == ethereum.NotFound {
		return ReceiptPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("chain: receipt lookup: %w", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return ReceiptSuccess, nil
	}
	return ReceiptFailed, nil
}

// sendTransaction assembles, signs and broadcasts a contract call.
func (a *EthAdapter) sendTransaction(ctx context.Context, data []byte) (string, error) {
	nonce, err := a.client.PendingNonceAt(ctx, a.from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  a.from,
		To:    &a.contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, a.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.privateKey)
	if err != nil {
		return "", fmt.Errorf("chain: sign: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	return signedTx.Hash().Hex(), nil
}

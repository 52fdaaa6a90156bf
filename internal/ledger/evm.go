package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/config"
	"github.com/ticketguard/ticketing/internal/observability"
)

// Contract surface of the TicketNFT program: issuance, transfer, reads, and
// the TicketMinted log the token id is recovered from.
const ticketABI = `[
  {"type":"function","name":"mintTicket","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"eventName","type":"string"},
             {"name":"eventDate","type":"uint256"},{"name":"price","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},
             {"name":"tokenId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getTicketInfo","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
      {"name":"eventName","type":"string"},{"name":"eventDate","type":"uint256"},
      {"name":"price","type":"uint256"},{"name":"isUsed","type":"bool"}]}]},
  {"type":"event","name":"TicketMinted","anonymous":false,
   "inputs":[{"name":"to","type":"address","indexed":true},
             {"name":"tokenId","type":"uint256","indexed":true},
             {"name":"eventName","type":"string","indexed":false}]}
]`

const topUpGasLimit = 21000

// ticketTuple mirrors the getTicketInfo return tuple.
type ticketTuple struct {
	EventName string
	EventDate *big.Int
	Price     *big.Int
	IsUsed    bool
}

// EVM is the production Client backed by a JSON-RPC node.
type EVM struct {
	rpc            *ethclient.Client
	contract       common.Address
	abi            abi.ABI
	custodianKey   *ecdsa.PrivateKey
	custodianAddr  common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
	topUpAmount    *big.Int
	logger         *zap.Logger
}

// NewEVM dials the configured node and prepares the custodian signer.
func NewEVM(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (*EVM, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("RPC_URL not configured")
	}
	if cfg.ContractAddress == "" {
		return nil, errors.New("CONTRACT_ADDRESS not configured")
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.CustodianPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse custodian key: %w", err)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(ticketABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	topUp, ok := new(big.Int).SetString(cfg.GasTopUpWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid CHAIN_GAS_TOPUP_WEI: %q", cfg.GasTopUpWei)
	}

	custodianAddr := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("ledger client initialized",
		zap.String("custodian", custodianAddr.Hex()),
		zap.String("contract", cfg.ContractAddress),
		zap.String("chain_id", chainID.String()),
	)

	return &EVM{
		rpc:            rpc,
		contract:       common.HexToAddress(cfg.ContractAddress),
		abi:            parsed,
		custodianKey:   key,
		custodianAddr:  custodianAddr,
		chainID:        chainID,
		confirmTimeout: cfg.ConfirmTimeout(),
		topUpAmount:    topUp,
		logger:         logger,
	}, nil
}

// Mint issues a token to recipient, blocks until the receipt is observed, and
// recovers the token id from the TicketMinted log.
func (e *EVM) Mint(ctx context.Context, recipient, eventLabel string, eventTime, price int64) (MintResult, error) {
	defer observeDuration("mint")()

	input, err := e.abi.Pack("mintTicket",
		common.HexToAddress(recipient), eventLabel, big.NewInt(eventTime), big.NewInt(price))
	if err != nil {
		return MintResult{}, fmt.Errorf("encode mint call: %w", err)
	}

	receipt, txHash, err := e.submit(ctx, e.custodianKey, e.contract, nil, input)
	if err != nil {
		return MintResult{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return MintResult{}, fmt.Errorf("%w: mint reverted in tx %s", ErrRejected, txHash)
	}

	tokenID, err := e.tokenIDFromReceipt(receipt)
	if err != nil {
		return MintResult{}, fmt.Errorf("%w (tx %s)", err, txHash)
	}

	e.logger.Info("mint confirmed",
		zap.Int64("token_id", tokenID),
		zap.String("tx", txHash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return MintResult{TokenID: tokenID, TxRef: txHash}, nil
}

// TransferToCustodian moves tokenID from the credential's wallet back to the
// platform custodian.
func (e *EVM) TransferToCustodian(ctx context.Context, credentialHex string, tokenID int64) (string, error) {
	defer observeDuration("transfer")()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(credentialHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse signing credential: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	owner, err := e.ownerOf(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if owner != from {
		return "", fmt.Errorf("%w: token %d owned by %s", ErrNotOwner, tokenID, owner.Hex())
	}

	input, err := e.abi.Pack("transferFrom", from, e.custodianAddr, big.NewInt(tokenID))
	if err != nil {
		return "", fmt.Errorf("encode transfer call: %w", err)
	}

	receipt, txHash, err := e.submit(ctx, key, e.contract, nil, input)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: transfer reverted in tx %s", ErrRejected, txHash)
	}

	e.logger.Info("transfer to custodian confirmed",
		zap.Int64("token_id", tokenID), zap.String("tx", txHash))
	return txHash, nil
}

// TicketInfo reads token metadata and the current owner.
func (e *EVM) TicketInfo(ctx context.Context, tokenID int64) (TicketInfo, error) {
	input, err := e.abi.Pack("getTicketInfo", big.NewInt(tokenID))
	if err != nil {
		return TicketInfo{}, fmt.Errorf("encode info call: %w", err)
	}
	data, err := e.rpc.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: input}, nil)
	if err != nil {
		return TicketInfo{}, classifyReadError(err, tokenID)
	}

	out, err := e.abi.Unpack("getTicketInfo", data)
	if err != nil || len(out) == 0 {
		return TicketInfo{}, fmt.Errorf("decode info result: %w", err)
	}
	info := *abi.ConvertType(out[0], new(ticketTuple)).(*ticketTuple)

	owner, err := e.ownerOf(ctx, tokenID)
	if err != nil {
		return TicketInfo{}, err
	}

	return TicketInfo{
		Label:     info.EventName,
		EventTime: info.EventDate.Int64(),
		Price:     info.Price.Int64(),
		Used:      info.IsUsed,
		Owner:     owner.Hex(),
	}, nil
}

// BalanceOf reads the native balance of address.
func (e *EVM) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	balance, err := e.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance query: %v", ErrUnavailable, err)
	}
	return balance, nil
}

// TopUpGas sends the execution subsidy from the custodian to address and
// waits for confirmation.
func (e *EVM) TopUpGas(ctx context.Context, address string) (string, error) {
	defer observeDuration("topup")()

	receipt, txHash, err := e.submitValue(ctx, e.custodianKey, common.HexToAddress(address), e.topUpAmount)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: top-up reverted in tx %s", ErrRejected, txHash)
	}
	e.logger.Info("gas top-up confirmed", zap.String("to", address), zap.String("tx", txHash))
	return txHash, nil
}

// MintedTokenIDs scans confirmed TicketMinted logs for tokens issued to address.
func (e *EVM) MintedTokenIDs(ctx context.Context, address string) ([]int64, error) {
	mintedTopic := e.abi.Events["TicketMinted"].ID
	recipientTopic := common.BytesToHash(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))

	logs, err := e.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{e.contract},
		Topics:    [][]common.Hash{{mintedTopic}, {recipientTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: log query: %v", ErrUnavailable, err)
	}

	ids := make([]int64, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		ids = append(ids, new(big.Int).SetBytes(lg.Topics[2].Bytes()).Int64())
	}
	return ids, nil
}

// CustodianAddress returns the platform wallet address.
func (e *EVM) CustodianAddress() string {
	return e.custodianAddr.Hex()
}

// submit signs and broadcasts a contract call, then blocks until the receipt
// is observed or the confirmation window elapses. A fresh pending nonce is
// read on every call so retried submissions never collide.
func (e *EVM) submit(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) (*types.Receipt, string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := e.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, "", fmt.Errorf("%w: nonce query: %v", ErrUnavailable, err)
	}
	gasPrice, err := e.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: gas price query: %v", ErrUnavailable, err)
	}
	gasLimit, err := e.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, "", classifySubmitError(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), key)
	if err != nil {
		return nil, "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := e.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, "", classifySubmitError(err)
	}
	txHash := signed.Hash().Hex()
	e.logger.Debug("transaction submitted", zap.String("tx", txHash), zap.Uint64("nonce", nonce))

	receipt, err := e.waitConfirmed(ctx, signed)
	if err != nil {
		return nil, txHash, err
	}
	return receipt, txHash, nil
}

// submitValue is submit for a plain value transfer.
func (e *EVM) submitValue(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (*types.Receipt, string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := e.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, "", fmt.Errorf("%w: nonce query: %v", ErrUnavailable, err)
	}
	gasPrice, err := e.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: gas price query: %v", ErrUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      topUpGasLimit,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), key)
	if err != nil {
		return nil, "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, "", classifySubmitError(err)
	}

	receipt, err := e.waitConfirmed(ctx, signed)
	if err != nil {
		return nil, signed.Hash().Hex(), err
	}
	return receipt, signed.Hash().Hex(), nil
}

// waitConfirmed blocks until the transaction is mined. Elapsing the window
// after a successful broadcast is an unknown outcome: the write may still
// confirm, so the error routes the caller to reconciliation.
func (e *EVM) waitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, e.rpc, tx)
	if err != nil {
		if waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: tx %s broadcast but unconfirmed after %s",
				ErrOutcomeUnknown, tx.Hash().Hex(), e.confirmTimeout)
		}
		return nil, fmt.Errorf("%w: await confirmation: %v", ErrUnavailable, err)
	}
	return receipt, nil
}

// tokenIDFromReceipt scans every log in the receipt, keeping only those
// emitted by our contract with the TicketMinted signature.
func (e *EVM) tokenIDFromReceipt(receipt *types.Receipt) (int64, error) {
	mintedTopic := e.abi.Events["TicketMinted"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != e.contract {
			continue
		}
		if len(lg.Topics) < 3 || lg.Topics[0] != mintedTopic {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[2].Bytes()).Int64(), nil
	}
	return 0, ErrMintConfirmationAmbiguous
}

func (e *EVM) ownerOf(ctx context.Context, tokenID int64) (common.Address, error) {
	input, err := e.abi.Pack("ownerOf", big.NewInt(tokenID))
	if err != nil {
		return common.Address{}, fmt.Errorf("encode owner call: %w", err)
	}
	data, err := e.rpc.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: input}, nil)
	if err != nil {
		return common.Address{}, classifyReadError(err, tokenID)
	}
	out, err := e.abi.Unpack("ownerOf", data)
	if err != nil || len(out) == 0 {
		return common.Address{}, fmt.Errorf("decode owner result: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// classifySubmitError maps node errors for mutating submissions onto the
// ledger taxonomy.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "always failing"):
		return fmt.Errorf("%w: %v", ErrRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// classifyReadError maps eth_call failures; a revert on a read means the
// token does not exist.
func classifyReadError(err error, tokenID int64) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") {
		return fmt.Errorf("%w: token %d", ErrNotFound, tokenID)
	}
	return fmt.Errorf("%w: read call: %v", ErrUnavailable, err)
}

func observeDuration(method string) func() {
	start := time.Now()
	return func() {
		observability.LedgerCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

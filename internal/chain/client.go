// Package chain is the single ledger capability the service uses to read
// and mutate AssetManager state on an EVM chain.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/assetwatch/internal/circuitbreaker"
	"github.com/mbd888/assetwatch/internal/lifecycle"
	"github.com/mbd888/assetwatch/internal/metrics"
	"github.com/mbd888/assetwatch/internal/retry"
	"github.com/mbd888/assetwatch/internal/traces"
)

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// Ledger is everything the service asks of the AssetManager contract.
type Ledger interface {
	AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error)
	BanCount(ctx context.Context, user common.Address) (uint64, error)
	NextAssetID(ctx context.Context) (uint64, error)
	MaintenanceRecords(ctx context.Context, assetID uint64) ([]MaintenanceRecord, error)
	LatestMaintenance(ctx context.Context, assetID uint64) (*MaintenanceRecord, error)

	ReportFault(ctx context.Context, assetID uint64, description string) (*TxResult, error)
	CancelFault(ctx context.Context, assetID uint64, reason string) (*TxResult, error)
	StoreIntegrityHash(ctx context.Context, assetID uint64, hexDigest string) (*TxResult, error)
	ConfirmPayment(ctx context.Context, assetID uint64, technicianAmount *big.Int, reimburseTo common.Address, reimburseAmount *big.Int) (*TxResult, error)

	FilingCost(ctx context.Context, txHash string) (*Filing, error)
	FaultCancellations(ctx context.Context, fromBlock, toBlock uint64) ([]Cancellation, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
	Address() common.Address
}

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// DefaultGasLimit is used when estimation fails for a non-revert reason.
	DefaultGasLimit = uint64(300000)

	// DefaultConfirmationTimeout bounds every transaction wait.
	DefaultConfirmationTimeout = 45 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for dialing the ledger.
type Config struct {
	RPCURL         string
	PrivateKey     string // hex, 0x prefix optional
	ChainID        int64
	AssetManager   string
	ConfirmTimeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithPollInterval overrides the receipt poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithReadPolicy overrides the retry policy for view calls.
func WithReadPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.reads = p
	}
}

// WithReadBreaker trips view calls open after repeated transient failures so
// a dead RPC node fails fast instead of stalling every poll on retries.
func WithReadBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// NewReadBreaker returns a breaker that only counts transient RPC failures;
// reverts mean the node answered.
func NewReadBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New("rpc_reads", 5, 15*time.Second, circuitbreaker.WithFailureFilter(IsTransient))
}

// TxResult describes a mined, successful transaction.
type TxResult struct {
	TxHash      string   `json:"txHash"`
	BlockNumber uint64   `json:"blockNumber"`
	GasUsed     uint64   `json:"gasUsed"`
	CostWei     *big.Int `json:"costWei"`
	Nonce       uint64   `json:"nonce"`
}

// MaintenanceRecord is one completed maintenance entry for an asset.
type MaintenanceRecord struct {
	AssetID                 uint64         `json:"assetId"`
	Index                   uint64         `json:"index"`
	Technician              common.Address `json:"technician"`
	ReadyForPayment         bool           `json:"readyForPayment"`
	IsPaid                  bool           `json:"isPaid"`
	PaymentTimestamp        time.Time      `json:"paymentTimestamp,omitempty"`
	PaidAmountWei           *big.Int       `json:"paidAmountWei"`
	UserReimbursed          common.Address `json:"userReimbursed"`
	UserReimbursedAmountWei *big.Int       `json:"userReimbursedAmountWei"`
}

// Payable reports whether the record awaits settlement.
func (r *MaintenanceRecord) Payable() bool {
	return r.ReadyForPayment && !r.IsPaid
}

// Filing is a user-submitted reportFault transaction as seen on chain.
type Filing struct {
	TxHash      string         `json:"txHash"`
	From        common.Address `json:"from"`
	AssetID     uint64         `json:"assetId"`
	Succeeded   bool           `json:"succeeded"`
	CostWei     *big.Int       `json:"costWei"`
	BlockNumber uint64         `json:"blockNumber"`
}

// Cancellation is a FaultCancelled event.
type Cancellation struct {
	AssetID     uint64 `json:"assetId"`
	Reason      string `json:"reason"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Client talks to the AssetManager contract with one operator key.
type Client struct {
	client         EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	contract       common.Address
	abi            abi.ABI
	confirmTimeout time.Duration
	pollInterval   time.Duration
	reads          retry.Policy
	breaker        *circuitbreaker.Breaker // nil disables
	logger         *slog.Logger

	// sendMu keeps nonce allocation and broadcast atomic across the
	// per-asset goroutines sharing this key.
	sendMu sync.Mutex
}

// Compile-time interface check
var _ Ledger = (*Client)(nil)

// New creates a ledger client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(assetManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse AssetManager ABI: %w", err)
	}

	c := &Client{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		contract:       common.HexToAddress(cfg.AssetManager),
		abi:            parsedABI,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   ConfirmationPollInterval,
		reads: retry.Policy{
			Attempts:  3,
			BaseDelay: 250 * time.Millisecond,
			MaxDelay:  2 * time.Second,
			Retryable: IsTransient,
		},
		logger: slog.Default(),
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = DefaultConfirmationTimeout
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.reads.OnRetry == nil {
		c.reads.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Debug("retrying ledger read", "attempt", attempt, "wait", wait, "error", err)
		}
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	if len(strings.TrimPrefix(cfg.PrivateKey, "0x")) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if !common.IsHexAddress(cfg.AssetManager) {
		return fmt.Errorf("%w: AssetManager contract %q", ErrInvalidAddress, cfg.AssetManager)
	}
	return nil
}

// Address returns the operator address.
func (c *Client) Address() common.Address {
	return c.address
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Ping checks RPC reachability.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.NetworkID(ctx); err != nil {
		return classify("ping", "", err)
	}
	return nil
}

// BlockNumber returns the chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, classify("blockNumber", "", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// AssetStatus reads the asset's current lifecycle status.
func (c *Client) AssetStatus(ctx context.Context, assetID uint64) (lifecycle.Status, error) {
	out, err := c.call(ctx, MethodAssetStatus, new(big.Int).SetUint64(assetID))
	if err != nil {
		return 0, err
	}
	s, ok := out[0].(string)
	if !ok {
		return 0, &Error{Kind: KindUnknown, Op: MethodAssetStatus, Err: fmt.Errorf("unexpected output %T", out[0])}
	}
	return lifecycle.ParseStatus(s)
}

// BanCount reads how many of user's reports were cancelled as false.
func (c *Client) BanCount(ctx context.Context, user common.Address) (uint64, error) {
	out, err := c.call(ctx, MethodBanCount, user)
	if err != nil {
		return 0, err
	}
	return bigOut(MethodBanCount, out)
}

// NextAssetID returns the id the next registered asset will get, which is
// also the number of assets.
func (c *Client) NextAssetID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, MethodNextAssetID)
	if err != nil {
		return 0, err
	}
	return bigOut(MethodNextAssetID, out)
}

// MaintenanceRecords returns every completed maintenance record for assetID,
// oldest first.
func (c *Client) MaintenanceRecords(ctx context.Context, assetID uint64) ([]MaintenanceRecord, error) {
	out, err := c.call(ctx, MethodMaintenanceCount, new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	count, err := bigOut(MethodMaintenanceCount, out)
	if err != nil {
		return nil, err
	}

	records := make([]MaintenanceRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		rec, err := c.maintenanceAt(ctx, assetID, i)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// LatestMaintenance returns the most recent completed maintenance record.
func (c *Client) LatestMaintenance(ctx context.Context, assetID uint64) (*MaintenanceRecord, error) {
	out, err := c.call(ctx, MethodMaintenanceCount, new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	count, err := bigOut(MethodMaintenanceCount, out)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoMaintenanceRecord
	}
	return c.maintenanceAt(ctx, assetID, count-1)
}

func (c *Client) maintenanceAt(ctx context.Context, assetID, index uint64) (*MaintenanceRecord, error) {
	raw, err := c.callRaw(ctx, MethodMaintenance, new(big.Int).SetUint64(assetID), new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}

	var out struct {
		Technician              common.Address
		ReadyForPayment         bool
		IsPaid                  bool
		PaymentTimestamp        *big.Int
		PaidAmountWei           *big.Int
		UserReimbursed          common.Address
		UserReimbursedAmountWei *big.Int
	}
	if err := c.abi.UnpackIntoInterface(&out, MethodMaintenance, raw); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: MethodMaintenance, Err: err}
	}

	rec := &MaintenanceRecord{
		AssetID:                 assetID,
		Index:                   index,
		Technician:              out.Technician,
		ReadyForPayment:         out.ReadyForPayment,
		IsPaid:                  out.IsPaid,
		PaidAmountWei:           out.PaidAmountWei,
		UserReimbursed:          out.UserReimbursed,
		UserReimbursedAmountWei: out.UserReimbursedAmountWei,
	}
	if out.PaymentTimestamp != nil && out.PaymentTimestamp.Sign() > 0 {
		rec.PaymentTimestamp = time.Unix(out.PaymentTimestamp.Int64(), 0).UTC()
	}
	return rec, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	raw, err := c.callRaw(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: method, Err: err}
	}
	if len(out) == 0 {
		return nil, &Error{Kind: KindUnknown, Op: method, Err: errors.New("empty output")}
	}
	return out, nil
}

func (c *Client) callRaw(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	defer metrics.ObserveLedgerCall(method, time.Now())
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: method, Err: err}
	}

	var raw []byte
	call := func() error {
		return c.reads.Do(ctx, func() error {
			var cerr error
			raw, cerr = c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
			if cerr != nil {
				return classify(method, "", cerr)
			}
			return nil
		})
	}
	if c.breaker != nil {
		err = c.breaker.Do(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, classify(method, "", err)
	}
	return raw, nil
}

func bigOut(method string, out []interface{}) (uint64, error) {
	v, ok := out[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, &Error{Kind: KindUnknown, Op: method, Err: fmt.Errorf("unexpected output %v", out[0])}
	}
	return v.Uint64(), nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// ReportFault moves an Operational asset to Broken.
func (c *Client) ReportFault(ctx context.Context, assetID uint64, description string) (*TxResult, error) {
	return c.transact(ctx, assetID, MethodReportFault, new(big.Int).SetUint64(assetID), description)
}

// CancelFault returns a Broken asset to Operational. The contract bumps the
// reporter's ban counter when the fault was user-filed.
func (c *Client) CancelFault(ctx context.Context, assetID uint64, reason string) (*TxResult, error) {
	return c.transact(ctx, assetID, MethodCancelFault, new(big.Int).SetUint64(assetID), reason)
}

// StoreIntegrityHash checkpoints a hex digest of recent readings.
func (c *Client) StoreIntegrityHash(ctx context.Context, assetID uint64, hexDigest string) (*TxResult, error) {
	return c.transact(ctx, assetID, MethodStoreHash, new(big.Int).SetUint64(assetID), hexDigest)
}

// ConfirmPayment pays the technician and reimburses the filing user in one
// contract call.
func (c *Client) ConfirmPayment(ctx context.Context, assetID uint64, technicianAmount *big.Int, reimburseTo common.Address, reimburseAmount *big.Int) (*TxResult, error) {
	if reimburseAmount == nil {
		reimburseAmount = big.NewInt(0)
	}
	return c.transact(ctx, assetID, MethodConfirmPayment,
		new(big.Int).SetUint64(assetID), technicianAmount, reimburseTo, reimburseAmount)
}

func (c *Client) transact(ctx context.Context, assetID uint64, method string, args ...interface{}) (res *TxResult, err error) {
	ctx, span := traces.StartSpan(ctx, "chain."+method, traces.Method(method), traces.AssetID(assetID))
	defer func() { traces.End(span, err) }()
	defer metrics.ObserveLedgerCall(method, time.Now())

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: method, Err: err}
	}

	signed, err := c.broadcast(ctx, method, data)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TxHash(signed.Hash().Hex()))

	c.logger.Info("ledger transaction sent",
		"method", method,
		"asset_id", assetID,
		"tx", signed.Hash().Hex(),
		"nonce", signed.Nonce(),
	)

	return c.waitForReceipt(ctx, method, signed, data)
}

// broadcast allocates a nonce, signs and sends. A revert detected during gas
// estimation returns before anything is sent.
func (c *Client) broadcast(ctx context.Context, method string, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, classify(method+".nonce", "", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(method+".gas_price", "", err)
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &c.contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, &Error{Kind: kindForReason(reason), Op: method, Reason: reason, Err: err}
		}
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: method + ".sign", Err: err}
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, classify(method, signed.Hash().Hex(), err)
	}
	return signed, nil
}

func (c *Client) waitForReceipt(ctx context.Context, method string, tx *types.Transaction, data []byte) (*TxResult, error) {
	txHash := tx.Hash().Hex()

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &Error{Kind: KindTimeout, Op: method, TxHash: txHash, Err: ErrTimeout}
			}
			return nil, &Error{Kind: KindTransient, Op: method, TxHash: txHash, Err: ctx.Err()}

		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				// Not mined yet.
				continue
			}

			if receipt.Status == types.ReceiptStatusFailed {
				reason := c.replayRevert(ctx, data, receipt.BlockNumber)
				kind := KindReverted
				if reason != "" {
					kind = kindForReason(reason)
				}
				return nil, &Error{Kind: kind, Op: method, TxHash: txHash, Reason: reason, Err: ErrTransactionFailed}
			}

			res := &TxResult{
				TxHash:  txHash,
				GasUsed: receipt.GasUsed,
				CostWei: gasCost(receipt, tx),
				Nonce:   tx.Nonce(),
			}
			if receipt.BlockNumber != nil {
				res.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return res, nil
		}
	}
}

// replayRevert re-executes a failed call against the parent block to
// recover its revert reason.
func (c *Client) replayRevert(ctx context.Context, data []byte, block *big.Int) string {
	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, big.NewInt(1))
	}
	_, err := c.client.CallContract(ctx, ethereum.CallMsg{From: c.address, To: &c.contract, Data: data}, at)
	if err == nil {
		return ""
	}
	reason, _ := revertReason(err)
	return reason
}

func gasCost(receipt *types.Receipt, tx *types.Transaction) *big.Int {
	price := receipt.EffectiveGasPrice
	if price == nil && tx != nil {
		price = tx.GasPrice()
	}
	if price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
}

// -----------------------------------------------------------------------------
// Observations
// -----------------------------------------------------------------------------

// FilingCost inspects a user's reportFault transaction and returns who sent
// it, which asset it targets and what it cost in fees.
func (c *Client) FilingCost(ctx context.Context, txHash string) (*Filing, error) {
	hash := common.HexToHash(txHash)

	tx, pending, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, classify("filing", txHash, err)
	}
	if pending {
		return nil, &Error{Kind: KindTransient, Op: "filing", TxHash: txHash, Err: errors.New("transaction still pending")}
	}

	if tx.To() == nil || *tx.To() != c.contract || len(tx.Data()) < 4 {
		return nil, ErrNotFilingTx
	}
	method, err := c.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != MethodReportFault {
		return nil, ErrNotFilingTx
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil || len(args) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotFilingTx, err)
	}
	id, ok := args[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return nil, ErrNotFilingTx
	}

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, classify("filing", txHash, err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "filing", TxHash: txHash, Err: err}
	}

	f := &Filing{
		TxHash:    hash.Hex(),
		From:      from,
		AssetID:   id.Uint64(),
		Succeeded: receipt.Status == types.ReceiptStatusSuccessful,
		CostWei:   gasCost(receipt, tx),
	}
	if receipt.BlockNumber != nil {
		f.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return f, nil
}

// FaultCancellations returns FaultCancelled events in [fromBlock, toBlock].
func (c *Client) FaultCancellations(ctx context.Context, fromBlock, toBlock uint64) ([]Cancellation, error) {
	event := c.abi.Events[EventFaultCancelled]
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, classify("filterLogs", "", err)
	}

	out := make([]Cancellation, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		cancel := Cancellation{
			AssetID:     new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
		}
		if vals, err := c.abi.Unpack(EventFaultCancelled, l.Data); err == nil && len(vals) > 0 {
			cancel.Reason, _ = vals[0].(string)
		}
		out = append(out, cancel)
	}
	return out, nil
}

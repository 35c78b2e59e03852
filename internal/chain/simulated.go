package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/assetwatch/internal/lifecycle"
)

// Simulated is an in-process AssetManager used in development mode and in
// tests. It enforces the same transition table and payment rules as the
// contract and reports failures with the same Error kinds.
type Simulated struct {
	mu            sync.Mutex
	operator      common.Address
	assets        map[uint64]*simAsset
	nextID        uint64
	banCounts     map[common.Address]uint64
	records       map[uint64][]MaintenanceRecord
	hashes        map[uint64][]string
	filings       map[string]*Filing
	cancellations []Cancellation
	block         uint64
	nonce         uint64
	failures      map[string]error
	calls         map[string]int
}

type simAsset struct {
	status      lifecycle.Status
	reporter    common.Address // zero when the detector or operator filed
	technician  common.Address
	description string
}

var _ Ledger = (*Simulated)(nil)

// NewSimulated registers assets 0..count-1, all Operational.
func NewSimulated(count uint64) *Simulated {
	s := &Simulated{
		operator:  common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		assets:    make(map[uint64]*simAsset),
		banCounts: make(map[common.Address]uint64),
		records:   make(map[uint64][]MaintenanceRecord),
		hashes:    make(map[uint64][]string),
		filings:   make(map[string]*Filing),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		block:     1,
	}
	for i := uint64(0); i < count; i++ {
		s.assets[i] = &simAsset{status: lifecycle.Operational}
	}
	s.nextID = count
	return s
}

// FailNext makes the next call to method return err.
func (s *Simulated) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Calls reports how many times method was invoked.
func (s *Simulated) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// SetStatus forces an asset's status.
func (s *Simulated) SetStatus(assetID uint64, status lifecycle.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asset(assetID).status = status
}

// SetBanCount forces a user's cancelled-report count.
func (s *Simulated) SetBanCount(user common.Address, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banCounts[user] = n
}

// Hashes returns the integrity digests stored for an asset.
func (s *Simulated) Hashes(assetID uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hashes[assetID]...)
}

// FileFault simulates a user sending reportFault from their own wallet and
// returns the transaction hash.
func (s *Simulated) FileFault(user common.Address, assetID uint64, description string, costWei *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.asset(assetID)
	if s.banCounts[user] >= 3 {
		return "", &Error{Kind: KindUnauthorized, Op: MethodReportFault, Reason: "User is banned from reporting"}
	}
	next, err := lifecycle.Next(a.status, lifecycle.ReportFault)
	if err != nil {
		return "", &Error{Kind: KindInvalidTransition, Op: MethodReportFault, Reason: "Asset not operational", Err: err}
	}
	a.status = next
	a.reporter = user
	a.description = description

	hash := s.txHash(MethodReportFault, assetID)
	s.filings[hash] = &Filing{
		TxHash:      hash,
		From:        user,
		AssetID:     assetID,
		Succeeded:   true,
		CostWei:     new(big.Int).Set(costWei),
		BlockNumber: s.block,
	}
	return hash, nil
}

// StartMaintenance simulates a technician taking a Broken asset.
func (s *Simulated) StartMaintenance(technician common.Address, assetID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.asset(assetID)
	next, err := lifecycle.Next(a.status, lifecycle.StartMaintenance)
	if err != nil {
		return &Error{Kind: KindInvalidTransition, Op: "startMaintenance", Reason: "Asset not broken", Err: err}
	}
	a.status = next
	a.technician = technician
	s.block++
	return nil
}

// CompleteMaintenance simulates a technician finishing work, producing a
// maintenance record.
func (s *Simulated) CompleteMaintenance(assetID uint64, readyForPayment bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.asset(assetID)
	next, err := lifecycle.Next(a.status, lifecycle.CompleteMaintenance)
	if err != nil {
		return &Error{Kind: KindInvalidTransition, Op: "completeMaintenance", Reason: "Asset not under maintenance", Err: err}
	}
	a.status = next
	s.records[assetID] = append(s.records[assetID], MaintenanceRecord{
		AssetID:                 assetID,
		Index:                   uint64(len(s.records[assetID])),
		Technician:              a.technician,
		ReadyForPayment:         readyForPayment,
		PaidAmountWei:           big.NewInt(0),
		UserReimbursedAmountWei: big.NewInt(0),
	})
	s.block++
	return nil
}

func (s *Simulated) asset(id uint64) *simAsset {
	a, ok := s.assets[id]
	if !ok {
		a = &simAsset{status: lifecycle.Operational}
		s.assets[id] = a
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return a
}

func (s *Simulated) enter(method string) error {
	s.calls[method]++
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func (s *Simulated) txHash(method string, assetID uint64) string {
	s.nonce++
	s.block++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%d", method, assetID, s.nonce))).Hex()
}

func (s *Simulated) receipt(method string, assetID uint64) *TxResult {
	return &TxResult{
		TxHash:      s.txHash(method, assetID),
		BlockNumber: s.block,
		GasUsed:     21000,
		CostWei:     big.NewInt(21000 * 30_000_000_000),
		Nonce:       s.nonce,
	}
}

func (s *Simulated) AssetStatus(_ context.Context, assetID uint64) (lifecycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodAssetStatus); err != nil {
		return 0, err
	}
	return s.asset(assetID).status, nil
}

func (s *Simulated) BanCount(_ context.Context, user common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodBanCount); err != nil {
		return 0, err
	}
	return s.banCounts[user], nil
}

func (s *Simulated) NextAssetID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodNextAssetID); err != nil {
		return 0, err
	}
	return s.nextID, nil
}

func (s *Simulated) MaintenanceRecords(_ context.Context, assetID uint64) ([]MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodMaintenance); err != nil {
		return nil, err
	}
	return append([]MaintenanceRecord(nil), s.records[assetID]...), nil
}

func (s *Simulated) LatestMaintenance(_ context.Context, assetID uint64) (*MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodMaintenance); err != nil {
		return nil, err
	}
	recs := s.records[assetID]
	if len(recs) == 0 {
		return nil, ErrNoMaintenanceRecord
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

func (s *Simulated) ReportFault(_ context.Context, assetID uint64, description string) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodReportFault); err != nil {
		return nil, err
	}
	a := s.asset(assetID)
	next, err := lifecycle.Next(a.status, lifecycle.ReportFault)
	if err != nil {
		return nil, &Error{Kind: KindInvalidTransition, Op: MethodReportFault, Reason: "Asset not operational", Err: err}
	}
	a.status = next
	a.reporter = common.Address{}
	a.description = description
	return s.receipt(MethodReportFault, assetID), nil
}

func (s *Simulated) CancelFault(_ context.Context, assetID uint64, reason string) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodCancelFault); err != nil {
		return nil, err
	}
	a := s.asset(assetID)
	next, err := lifecycle.Next(a.status, lifecycle.CancelFault)
	if err != nil {
		return nil, &Error{Kind: KindInvalidTransition, Op: MethodCancelFault, Reason: "Asset not broken", Err: err}
	}
	a.status = next
	if a.reporter != (common.Address{}) {
		s.banCounts[a.reporter]++
	}
	a.reporter = common.Address{}
	res := s.receipt(MethodCancelFault, assetID)
	s.cancellations = append(s.cancellations, Cancellation{
		AssetID:     assetID,
		Reason:      reason,
		TxHash:      res.TxHash,
		BlockNumber: res.BlockNumber,
	})
	return res, nil
}

func (s *Simulated) StoreIntegrityHash(_ context.Context, assetID uint64, hexDigest string) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodStoreHash); err != nil {
		return nil, err
	}
	s.hashes[assetID] = append(s.hashes[assetID], hexDigest)
	return s.receipt(MethodStoreHash, assetID), nil
}

func (s *Simulated) ConfirmPayment(_ context.Context, assetID uint64, technicianAmount *big.Int, reimburseTo common.Address, reimburseAmount *big.Int) (*TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodConfirmPayment); err != nil {
		return nil, err
	}
	recs := s.records[assetID]
	if len(recs) == 0 {
		return nil, &Error{Kind: KindInvalidTransition, Op: MethodConfirmPayment, Reason: "No completed maintenance"}
	}
	rec := &recs[len(recs)-1]
	if rec.IsPaid {
		return nil, &Error{Kind: KindAlreadyPaid, Op: MethodConfirmPayment, Reason: "Already paid"}
	}
	if !rec.ReadyForPayment {
		return nil, &Error{Kind: KindInvalidTransition, Op: MethodConfirmPayment, Reason: "Not ready for payment"}
	}
	if reimburseAmount == nil {
		reimburseAmount = big.NewInt(0)
	}
	rec.IsPaid = true
	rec.PaymentTimestamp = time.Now().UTC().Truncate(time.Second)
	rec.PaidAmountWei = new(big.Int).Set(technicianAmount)
	rec.UserReimbursed = reimburseTo
	rec.UserReimbursedAmountWei = new(big.Int).Set(reimburseAmount)
	return s.receipt(MethodConfirmPayment, assetID), nil
}

func (s *Simulated) FilingCost(_ context.Context, txHash string) (*Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("filing"); err != nil {
		return nil, err
	}
	f, ok := s.filings[common.HexToHash(txHash).Hex()]
	if !ok {
		return nil, ErrNotFilingTx
	}
	cp := *f
	cp.CostWei = new(big.Int).Set(f.CostWei)
	return &cp, nil
}

func (s *Simulated) FaultCancellations(_ context.Context, fromBlock, toBlock uint64) ([]Cancellation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("filterLogs"); err != nil {
		return nil, err
	}
	var out []Cancellation
	for _, c := range s.cancellations {
		if c.BlockNumber >= fromBlock && c.BlockNumber <= toBlock {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Simulated) BlockNumber(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("blockNumber"); err != nil {
		return 0, err
	}
	return s.block, nil
}

func (s *Simulated) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ping"); err != nil {
		return err
	}
	return nil
}

func (s *Simulated) Address() common.Address {
	return s.operator
}

// ErrSimulatedOutage is a convenience transient failure for FailNext.
var ErrSimulatedOutage = &Error{Kind: KindTransient, Op: "simulated", Err: errors.New("connection refused")}

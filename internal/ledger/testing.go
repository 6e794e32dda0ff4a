package ledger

import "github.com/ethereum/go-ethereum/core/types"

// FailEstimation makes subsequent EstimateGas calls return err. nil restores estimation.
func (l *InMemory) FailEstimation(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.estimateErr = err
}

// DropTransferLogs removes the Transfer events from future mint receipts.
func (l *InMemory) DropTransferLogs(drop bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropTransferLog = drop
}

// RevertMints makes future mint transactions fail on inclusion.
func (l *InMemory) RevertMints(revert bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertMints = revert
}

// Submitted returns the transactions accepted so far, in order.
func (l *InMemory) Submitted() []*types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.Transaction, len(l.submitted))
	copy(out, l.submitted)
	return out
}

// EstimateCalls reports how many times EstimateGas was invoked.
func (l *InMemory) EstimateCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.estimateCalls
}

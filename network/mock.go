package network

import (
	"context"
	"sync"
)

// MockBlockchainService is a test double for BlockchainService.
// Function fields must be set before the corresponding method is called.
// Broadcasts are recorded in order.
type MockBlockchainService struct {
	ListUnspentFn func(ctx context.Context, address string) ([]*UTXO, error)
	BroadcastTxFn func(ctx context.Context, rawTxHex string) (string, error)
	GetRawTxFn    func(ctx context.Context, txid string) ([]byte, error)
	GetTxStatusFn func(ctx context.Context, txid string) (*TxStatus, error)

	mu         sync.Mutex
	broadcasts []string
}

func (m *MockBlockchainService) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return m.ListUnspentFn(ctx, address)
}

func (m *MockBlockchainService) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	m.mu.Lock()
	m.broadcasts = append(m.broadcasts, rawTxHex)
	m.mu.Unlock()
	return m.BroadcastTxFn(ctx, rawTxHex)
}

func (m *MockBlockchainService) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	return m.GetRawTxFn(ctx, txid)
}

func (m *MockBlockchainService) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	return m.GetTxStatusFn(ctx, txid)
}

// Broadcasts returns every raw transaction passed to BroadcastTx.
func (m *MockBlockchainService) Broadcasts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.broadcasts...)
}

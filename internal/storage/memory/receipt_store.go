package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

type receiptKey struct {
	roundID    string
	transferID int
}

// ReceiptStore is an in-memory implementation of storage.ReceiptStore.
type ReceiptStore struct {
	mu          sync.RWMutex
	data        map[receiptKey]*domain.TransferReceipt
	bySignature map[string]receiptKey
}

// NewReceiptStore creates a new in-memory receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		data:        make(map[receiptKey]*domain.TransferReceipt),
		bySignature: make(map[string]receiptKey),
	}
}

// Compile-time interface check.
var _ storage.ReceiptStore = (*ReceiptStore)(nil)

// Append records a receipt. A duplicate append returns (false, nil); a
// signature collision on a different transfer is an error.
func (s *ReceiptStore) Append(_ context.Context, r *domain.TransferReceipt) (bool, error) {
	if r == nil || r.RoundID == "" || r.Signature == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := receiptKey{roundID: r.RoundID, transferID: r.TransferID}

	if existing, exists := s.data[key]; exists {
		if existing.Signature != r.Signature {
			return false, fmt.Errorf("append receipt: transfer %s/%d already executed with signature %s",
				r.RoundID, r.TransferID, existing.Signature)
		}
		return false, nil
	}
	if prev, exists := s.bySignature[r.Signature]; exists && prev != key {
		return false, fmt.Errorf("append receipt: signature %s already used by another transfer", r.Signature)
	}

	cp := *r
	s.data[key] = &cp
	s.bySignature[r.Signature] = key
	return true, nil
}

// GetByRound retrieves all receipts of a round ordered by transfer_id ASC.
func (s *ReceiptStore) GetByRound(_ context.Context, roundID string) ([]*domain.TransferReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferReceipt
	for key, r := range s.data {
		if key.roundID == roundID {
			cp := *r
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TransferID < out[j].TransferID
	})
	return out, nil
}

// BySignature retrieves a receipt by external signature.
func (s *ReceiptStore) BySignature(_ context.Context, signature string) (*domain.TransferReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.bySignature[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *s.data[key]
	return &cp, nil
}

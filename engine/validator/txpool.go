package validator

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransactionPool buffers injected off-chain transactions until a local
// producer slot includes them in an announce. The pool is bounded; when full,
// the least recently injected transactions are evicted.
type TransactionPool struct {
	cache *lru.Cache
}

func NewTransactionPool(limit int) (*TransactionPool, error) {
	cache, err := lru.New(limit)
	if err != nil {
		return nil, fmt.Errorf("could not create transaction pool: %w", err)
	}
	return &TransactionPool{cache: cache}, nil
}

// Add inserts the transaction keyed by its hash. It returns false if the
// transaction is already pooled.
func (p *TransactionPool) Add(tx []byte) bool {
	key := crypto.Keccak256Hash(tx)
	if p.cache.Contains(key) {
		return false
	}
	p.cache.Add(key, tx)
	return true
}

// Pending returns the pooled transactions, oldest first.
func (p *TransactionPool) Pending() [][]byte {
	keys := p.cache.Keys()
	txs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if value, ok := p.cache.Peek(key); ok {
			txs = append(txs, value.([]byte))
		}
	}
	return txs
}

// Remove drops the transaction from the pool, typically after inclusion in an
// announce.
func (p *TransactionPool) Remove(tx []byte) {
	p.cache.Remove(crypto.Keccak256Hash(tx))
}

// Contains reports whether a transaction with the given hash is pooled.
func (p *TransactionPool) Contains(hash common.Hash) bool {
	return p.cache.Contains(hash)
}

// Len returns the number of pooled transactions.
func (p *TransactionPool) Len() int {
	return p.cache.Len()
}

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sigranet/sigra-go/utils/unittest"
)

func TestTransactionPool(t *testing.T) {
	pool, err := NewTransactionPool(4)
	require.NoError(t, err)

	tx1 := unittest.BytesFixture(32)
	tx2 := unittest.BytesFixture(32)

	assert.True(t, pool.Add(tx1))
	assert.True(t, pool.Add(tx2))
	assert.False(t, pool.Add(tx1), "duplicates are rejected")
	assert.Equal(t, 2, pool.Len())

	assert.True(t, pool.Contains(crypto.Keccak256Hash(tx1)))
	assert.Equal(t, [][]byte{tx1, tx2}, pool.Pending())

	pool.Remove(tx1)
	assert.Equal(t, 1, pool.Len())
	assert.False(t, pool.Contains(crypto.Keccak256Hash(tx1)))
}

func TestTransactionPoolEviction(t *testing.T) {
	pool, err := NewTransactionPool(2)
	require.NoError(t, err)

	tx1 := unittest.BytesFixture(32)
	tx2 := unittest.BytesFixture(32)
	tx3 := unittest.BytesFixture(32)

	pool.Add(tx1)
	pool.Add(tx2)
	pool.Add(tx3)

	// the oldest transaction is evicted
	assert.Equal(t, 2, pool.Len())
	assert.False(t, pool.Contains(crypto.Keccak256Hash(tx1)))
	assert.Equal(t, [][]byte{tx2, tx3}, pool.Pending())
}

package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataSnapshot(t *testing.T) {
	meta := NewMetadataSnapshot(1002000, map[string][]string{
		"Balances": {"transfer_allow_death", "transfer_keep_alive"},
	})

	assert.True(t, meta.HasModule("Balances"))
	assert.False(t, meta.HasModule("balances"))
	assert.True(t, meta.HasCall("Balances", "transfer_keep_alive"))
	assert.False(t, meta.HasCall("Balances", "Transfer_Keep_Alive"))
	assert.False(t, meta.HasCall("Balances", "transfer"))
	assert.False(t, meta.HasCall("Staking", "bond"))
	assert.Equal(t, []string{"transfer_allow_death", "transfer_keep_alive"}, meta.Calls("Balances"))
	assert.Empty(t, meta.Calls("Staking"))
}

func TestMetadataSnapshot_Nil(t *testing.T) {
	var meta *MetadataSnapshot
	assert.False(t, meta.HasModule("Balances"))
	assert.False(t, meta.HasCall("Balances", "transfer"))
	assert.Nil(t, meta.Calls("Balances"))
}

package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRandomEndpoint(t *testing.T) {
	t.Run("single endpoint", func(t *testing.T) {
		endpoints := []string{"https://api.devnet.solana.com"}

		selected, err := SelectRandomEndpoint(endpoints)
		require.NoError(t, err)
		assert.Equal(t, endpoints[0], selected)
	})

	t.Run("error on empty slice", func(t *testing.T) {
		_, err := SelectRandomEndpoint(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no RPC endpoints configured")
	})

	t.Run("distribution across multiple calls", func(t *testing.T) {
		endpoints := []string{
			"https://endpoint1.com",
			"https://endpoint2.com",
			"https://endpoint3.com",
		}

		// Probabilistic: 30 draws from 3 endpoints will not all land on one.
		seen := make(map[string]bool)
		for i := 0; i < 30; i++ {
			selected, err := SelectRandomEndpoint(endpoints)
			require.NoError(t, err)
			seen[selected] = true
		}
		assert.GreaterOrEqual(t, len(seen), 2)
	})
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://api.testnet.solana.com", "testnet"},
		{"https://mainnet.helius-rpc.com/?api-key=abc", "helius"},
		{"https://example.quiknode.pro/key/", "quiknode"},
		{"http://127.0.0.1:8899", "127.0.0.1"},
		{"::not a url", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, EndpointLabel(tt.url))
		})
	}
}

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "devnet", NetworkName("https://api.devnet.solana.com"))
	assert.Equal(t, "mainnet", NetworkName("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "localnet", NetworkName("http://localhost:8899"))
	assert.Equal(t, "mainnet", NetworkName("https://mainnet.helius-rpc.com/?api-key=abc"))
}

package solana

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// Most methods match the upstream signatures and are promoted from the
// embedded client; only the ones that differ are wrapped here.
type realRPCClient struct {
	*rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		Client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.Client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// SelectRandomEndpoint picks one of the configured RPC URLs so that several
// wallet processes spread their load.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// EndpointLabel extracts a short identifier from an RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()
	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// NetworkName maps an RPC URL to the cluster name recorded with transfers.
func NetworkName(rpcURL string) string {
	switch label := EndpointLabel(rpcURL); label {
	case "mainnet", "devnet", "testnet":
		return label
	default:
		if strings.Contains(rpcURL, "devnet") {
			return "devnet"
		}
		if strings.Contains(rpcURL, "localhost") || strings.Contains(rpcURL, "127.0.0.1") {
			return "localnet"
		}
		return "mainnet"
	}
}

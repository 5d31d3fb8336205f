package solana

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RecentTransfersParams contains parameters for fetching on-chain history.
type RecentTransfersParams struct {
	Wallet solana.PublicKey
	Limit  int
	// Delay between GetTransaction calls to stay under public RPC rate limits.
	Delay time.Duration
}

// RecentTransfers returns the wallet's most recent finalized transactions,
// newest first, with native SOL transfer details when present.
//
// Transactions whose details cannot be fetched are returned with metadata
// only rather than failing the whole listing.
func (c *Client) RecentTransfers(ctx context.Context, params RecentTransfersParams) ([]*Transfer, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	}

	var signatures []*rpc.TransactionSignature
	err := c.call(ctx, "GetSignaturesForAddress", func(ctx context.Context) error {
		var err error
		signatures, err = c.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
		return err
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", params.Wallet.String(),
			"error", err,
		)
		return nil, readError("getSignaturesForAddress", err)
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", params.Wallet.String(),
		"count", len(signatures),
	)

	transfers := make([]*Transfer, 0, len(signatures))
	for i, sig := range signatures {
		if i > 0 && params.Delay > 0 {
			select {
			case <-ctx.Done():
				return transfers, ctx.Err()
			case <-time.After(params.Delay):
			}
		}

		var result *rpc.GetTransactionResult
		maxVersion := uint64(0)
		err := c.call(ctx, "GetTransaction", func(ctx context.Context) error {
			var err error
			result, err = c.rpc.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     rpc.CommitmentFinalized,
				MaxSupportedTransactionVersion: &maxVersion,
			})
			return err
		})
		if err != nil {
			c.logger.WarnContext(ctx, "failed to get transaction details, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", "metadata_fallback")
			}
			transfers = append(transfers, signatureToDomain(sig))
			continue
		}

		t, err := parseTransferFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transfers = append(transfers, signatureToDomain(sig))
			continue
		}
		transfers = append(transfers, t)
	}

	return transfers, nil
}

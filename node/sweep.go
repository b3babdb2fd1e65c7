package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/txscript"

	"channeld/engine"
)

// sweepConfTarget is the confirmation target for sweep fee estimation; these
// funds are already safe, so a normal-priority fee suffices.
const sweepConfTarget = 6

// handleSpendableOutputs reclaims a batch of engine-surfaced outputs into one
// transaction paying a fresh wallet address. A failure at any step abandons
// the sweep with no local state: the engine re-surfaces unswept outputs on a
// future event cycle.
func (d *Dispatcher) handleSpendableOutputs(ctx context.Context, ev engine.SpendableOutputs) (err error) {
	if len(ev.Outputs) == 0 {
		return nil
	}
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		d.metrics.ObserveSweep(result)
	}()

	addr, err := d.wallet.GetNewAddress(ctx)
	if err != nil {
		return fmt.Errorf("sweep: new destination address: %w", err)
	}
	destScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("sweep: destination script for %s: %w", addr.EncodeAddress(), err)
	}

	feeRate := d.wallet.EstimateFeeRate(ctx, sweepConfTarget)

	tx, err := d.signer.SpendSpendableOutputs(ev.Outputs, nil, destScript, feeRate)
	if err != nil {
		return fmt.Errorf("sweep: build spending transaction: %w", err)
	}

	if err := d.wallet.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("sweep: broadcast: %w", err)
	}

	d.logger.Info("Swept spendable outputs",
		slog.Int("outputs", len(ev.Outputs)),
		slog.String("destination", addr.EncodeAddress()))
	return nil
}

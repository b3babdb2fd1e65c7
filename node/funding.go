package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"channeld/engine"
)

// handleFundingGeneration turns a funding request into a signed transaction
// paying exactly the requested value to the requested output script, and
// hands it back to the engine. Any step failing abandons this funding attempt
// without retry; a stuck temporary channel id is the engine's concern.
func (d *Dispatcher) handleFundingGeneration(ctx context.Context, ev engine.FundingGenerationReady) (err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		d.metrics.ObserveFunding(result)
	}()

	addr, err := fundingAddress(ev.OutputScript, d.params)
	if err != nil {
		return fmt.Errorf("funding %x: %w", ev.TemporaryChannelID[:8], err)
	}

	rawHex, err := d.wallet.CreateRawTransaction(ctx, map[btcutil.Address]btcutil.Amount{
		addr: ev.ChannelValue,
	})
	if err != nil {
		return fmt.Errorf("funding %x: create raw transaction: %w", ev.TemporaryChannelID[:8], err)
	}

	funded, err := d.wallet.FundRawTransaction(ctx, rawHex)
	if err != nil {
		return fmt.Errorf("funding %x: fund transaction: %w", ev.TemporaryChannelID[:8], err)
	}
	if funded.ChangePosition != 0 && funded.ChangePosition != 1 {
		return fmt.Errorf("funding %x: wallet returned change position %d, want 0 or 1",
			ev.TemporaryChannelID[:8], funded.ChangePosition)
	}

	signed, err := d.wallet.SignRawTransaction(ctx, funded.Hex)
	if err != nil {
		return fmt.Errorf("funding %x: sign transaction: %w", ev.TemporaryChannelID[:8], err)
	}
	if !signed.Complete {
		return fmt.Errorf("funding %x: wallet reported incomplete signing", ev.TemporaryChannelID[:8])
	}

	tx, err := decodeTx(signed.Hex)
	if err != nil {
		return fmt.Errorf("funding %x: decode signed transaction: %w", ev.TemporaryChannelID[:8], err)
	}
	if !paysExactly(tx, ev.OutputScript, ev.ChannelValue) {
		return fmt.Errorf("funding %x: signed transaction does not pay %d sat to the funding script",
			ev.TemporaryChannelID[:8], ev.ChannelValue)
	}

	if err := d.engine.FundingTransactionGenerated(ev.TemporaryChannelID, tx); err != nil {
		return fmt.Errorf("funding %x: hand transaction to engine: %w", ev.TemporaryChannelID[:8], err)
	}

	d.logger.Info("Funding transaction generated",
		slog.String("temp_channel_id", hex.EncodeToString(ev.TemporaryChannelID[:8])),
		slog.Int64("value_sat", int64(ev.ChannelValue)))
	return nil
}

// fundingAddress derives the wallet-facing address for the engine-requested
// output script. Channel funding scripts are standard witness outputs, so the
// script must map to exactly one address.
func fundingAddress(script []byte, params *chaincfg.Params) (btcutil.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return nil, fmt.Errorf("extract funding address: %w", err)
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("funding script maps to %d addresses, want 1", len(addrs))
	}
	return addrs[0], nil
}

func decodeTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// paysExactly reports whether tx contains an output of exactly the requested
// value to the requested script.
func paysExactly(tx *wire.MsgTx, script []byte, value btcutil.Amount) bool {
	for _, out := range tx.TxOut {
		if out.Value == int64(value) && bytes.Equal(out.PkScript, script) {
			return true
		}
	}
	return false
}

// Package keys holds the node's key-material concerns: the on-disk seed the
// protocol engine derives its secrets from, and the signer surface used to
// reclaim spendable outputs.
package keys

import (
	"github.com/btcsuite/btcd/wire"

	"channeld/chain"
	"channeld/engine"
)

// Signer is the key-material collaborator able to spend engine-surfaced
// outputs. The concrete implementation lives with the engine driver; the
// orchestrator only asks it to build one signed sweep at a time.
type Signer interface {
	// SpendSpendableOutputs builds a fully signed transaction spending all
	// supplied outputs (plus any extra inputs) to the destination script
	// at the given fee rate.
	SpendSpendableOutputs(outputs []engine.SpendableOutput, extraInputs []*wire.TxIn,
		destScript []byte, feeRate chain.SatPerKWeight) (*wire.MsgTx, error)
}

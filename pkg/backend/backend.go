// Package backend defines the Action Backend capability set the script
// engine drives — wallet, block and transaction operations on a regtest
// node — and provides the bitcoind JSON-RPC implementation.
package backend

import "context"

// Wallet describes a created wallet and its first receive address.
type Wallet struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// UTXO is a single unspent output owned by a wallet.
type UTXO struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// Output is one destination of a transaction.
type Output struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

// TxSpec describes a transaction to construct and fund from a wallet.
type TxSpec struct {
	FromWallet  string   `json:"fromWallet"`
	Outputs     []Output `json:"outputs"`
	FeeRate     float64  `json:"feeRate,omitempty"` // sat/vB; 0 lets the node estimate
	Replaceable bool     `json:"replaceable"`
}

// Transaction is a constructed (not yet broadcast) transaction.
type Transaction struct {
	TxID string  `json:"txid,omitempty"`
	PSBT string  `json:"psbt,omitempty"`
	Hex  string  `json:"hex,omitempty"`
	Fee  float64 `json:"fee,omitempty"`
}

// ReplaceSpec describes a fee-bump replacement of an unconfirmed transaction.
type ReplaceSpec struct {
	TxID       string   `json:"txid"`
	Wallet     string   `json:"wallet,omitempty"`
	NewFeeRate float64  `json:"newFeeRate,omitempty"` // sat/vB; 0 lets the node pick
	NewOutputs []Output `json:"newOutputs,omitempty"` // optional replacement outputs
}

// SignSpec describes a signing request. Exactly one of Wallet or PrivateKey
// selects the signing method; PSBT, when known, takes precedence over
// fetching the raw transaction by TxID.
type SignSpec struct {
	TxID       string `json:"txid"`
	PSBT       string `json:"psbt,omitempty"`
	Wallet     string `json:"wallet,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// SignResult is the outcome of a signing request.
type SignResult struct {
	TxID     string `json:"txid,omitempty"`
	Hex      string `json:"hex,omitempty"`
	PSBT     string `json:"psbt,omitempty"`
	Complete bool   `json:"complete"`
}

// MultisigSpec describes an M-of-N multisig configuration.
type MultisigSpec struct {
	Name            string   `json:"name"`
	RequiredSigners int      `json:"requiredSigners"`
	TotalSigners    int      `json:"totalSigners"`
	AddressType     string   `json:"addressType"` // P2SH, P2WSH, P2SH-P2WSH
	SignerKeys      []string `json:"signers,omitempty"` // hex pubkeys; generated by the backend when empty
}

// Multisig is a created multisig configuration with its watch wallet.
type Multisig struct {
	Name            string   `json:"name"`
	Address         string   `json:"address"`
	RedeemScript    string   `json:"redeemScript,omitempty"`
	Descriptor      string   `json:"descriptor,omitempty"`
	SignerKeys      []string `json:"signerKeys,omitempty"`
	RequiredSigners int      `json:"requiredSigners"`
	TotalSigners    int      `json:"totalSigners"`
	AddressType     string   `json:"addressType"`
}

// Backend is the capability set consumed by the interpreter and the
// sandboxed runner. Every method is invoked with resolved, validated
// parameters; a failure is treated by the engine as an action failure.
//
// The backend is a shared, externally owned dependency: the engine performs
// no locking around it, and callers must not run two scripts against the
// same backend simultaneously.
type Backend interface {
	CreateWallet(ctx context.Context, name string, options map[string]any) (*Wallet, error)
	GetNewAddress(ctx context.Context, wallet string) (string, error)
	ListUnspent(ctx context.Context, wallet string) ([]UTXO, error)
	GenerateToAddress(ctx context.Context, count int, address string) ([]string, error)
	SendToAddress(ctx context.Context, wallet, address string, amount float64) (string, error)
	CreateTransaction(ctx context.Context, spec *TxSpec) (*Transaction, error)
	ReplaceTransaction(ctx context.Context, spec *ReplaceSpec) (*Transaction, error)
	SignTransaction(ctx context.Context, spec *SignSpec) (*SignResult, error)
	BroadcastTransaction(ctx context.Context, txid, psbt string) (string, error)
	CreateMultisig(ctx context.Context, spec *MultisigSpec) (*Multisig, error)
}

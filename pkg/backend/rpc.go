package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// RPCBackend implements Backend over the bitcoind regtest JSON-RPC API.
// Wallet-scoped methods are routed through the /wallet/<name> endpoint.
type RPCBackend struct {
	url    string
	user   string
	pass   string
	client *http.Client
}

// NewRPCBackend creates a backend for a bitcoind node at url (e.g.
// http://127.0.0.1:18443) with basic-auth credentials.
func NewRPCBackend(url, user, pass string) *RPCBackend {
	return &RPCBackend{
		url:  url,
		user: user,
		pass: pass,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// call performs one JSON-RPC call. An empty wallet targets the node's
// top-level endpoint. The raw "result" value is returned for gjson
// extraction by the capability methods.
func (b *RPCBackend) call(ctx context.Context, wallet, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	endpoint := b.url
	if wallet != "" {
		endpoint = b.url + "/wallet/" + wallet
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(b.user, b.pass)

	resp, err := b.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("rpc %s: read response: %w", method, err)
	}

	if rpcErr := gjson.GetBytes(raw, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("rpc %s: %s (code %d)",
			method, rpcErr.Get("message").String(), rpcErr.Get("code").Int())
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("rpc %s: http status %d", method, resp.StatusCode)
	}
	return gjson.GetBytes(raw, "result"), nil
}

// CreateWallet creates a wallet and derives its first receive address.
// Recognized options: disablePrivateKeys, blank, passphrase, avoidReuse.
func (b *RPCBackend) CreateWallet(ctx context.Context, name string, options map[string]any) (*Wallet, error) {
	opt := func(key string) bool {
		v, _ := options[key].(bool)
		return v
	}
	passphrase, _ := options["passphrase"].(string)

	if _, err := b.call(ctx, "", "createwallet",
		name, opt("disablePrivateKeys"), opt("blank"), passphrase, opt("avoidReuse")); err != nil {
		return nil, err
	}

	w := &Wallet{Name: name}
	if !opt("disablePrivateKeys") && !opt("blank") {
		addr, err := b.GetNewAddress(ctx, name)
		if err != nil {
			return nil, err
		}
		w.Address = addr
	}
	return w, nil
}

// GetNewAddress derives a new receive address from a wallet.
func (b *RPCBackend) GetNewAddress(ctx context.Context, wallet string) (string, error) {
	res, err := b.call(ctx, wallet, "getnewaddress")
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// ListUnspent lists a wallet's unspent outputs.
func (b *RPCBackend) ListUnspent(ctx context.Context, wallet string) ([]UTXO, error) {
	res, err := b.call(ctx, wallet, "listunspent")
	if err != nil {
		return nil, err
	}
	var utxos []UTXO
	res.ForEach(func(_, entry gjson.Result) bool {
		utxos = append(utxos, UTXO{
			TxID:          entry.Get("txid").String(),
			Vout:          uint32(entry.Get("vout").Uint()),
			Address:       entry.Get("address").String(),
			Amount:        entry.Get("amount").Float(),
			Confirmations: entry.Get("confirmations").Int(),
		})
		return true
	})
	return utxos, nil
}

// GenerateToAddress mines count blocks paying the coinbase to address and
// returns the new block hashes.
func (b *RPCBackend) GenerateToAddress(ctx context.Context, count int, address string) ([]string, error) {
	res, err := b.call(ctx, "", "generatetoaddress", count, address)
	if err != nil {
		return nil, err
	}
	var hashes []string
	res.ForEach(func(_, h gjson.Result) bool {
		hashes = append(hashes, h.String())
		return true
	})
	return hashes, nil
}

// SendToAddress performs a simple wallet send and returns the txid.
func (b *RPCBackend) SendToAddress(ctx context.Context, wallet, address string, amount float64) (string, error) {
	res, err := b.call(ctx, wallet, "sendtoaddress", address, amount)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// CreateTransaction constructs and funds a PSBT from the spec's wallet.
func (b *RPCBackend) CreateTransaction(ctx context.Context, spec *TxSpec) (*Transaction, error) {
	outputs := make(map[string]float64, len(spec.Outputs))
	for _, out := range spec.Outputs {
		outputs[out.Address] = out.Amount
	}
	fundOpts := map[string]any{
		"replaceable": spec.Replaceable,
	}
	if spec.FeeRate > 0 {
		fundOpts["fee_rate"] = spec.FeeRate
	}

	res, err := b.call(ctx, spec.FromWallet, "walletcreatefundedpsbt",
		[]any{}, []any{outputs}, 0, fundOpts)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		PSBT: res.Get("psbt").String(),
		Fee:  res.Get("fee").Float(),
	}

	// The unsigned txid lets later actions reference this transaction.
	decoded, err := b.call(ctx, "", "decodepsbt", tx.PSBT)
	if err != nil {
		return nil, err
	}
	tx.TxID = decoded.Get("tx.txid").String()
	return tx, nil
}

// ReplaceTransaction fee-bumps an unconfirmed transaction via psbtbumpfee.
func (b *RPCBackend) ReplaceTransaction(ctx context.Context, spec *ReplaceSpec) (*Transaction, error) {
	opts := map[string]any{
		"replaceable": true,
	}
	if spec.NewFeeRate > 0 {
		opts["fee_rate"] = spec.NewFeeRate
	}
	if len(spec.NewOutputs) > 0 {
		outputs := make(map[string]float64, len(spec.NewOutputs))
		for _, out := range spec.NewOutputs {
			outputs[out.Address] = out.Amount
		}
		opts["outputs"] = outputs
	}

	res, err := b.call(ctx, spec.Wallet, "psbtbumpfee", spec.TxID, opts)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		PSBT: res.Get("psbt").String(),
		Fee:  res.Get("fee").Float(),
	}
	decoded, err := b.call(ctx, "", "decodepsbt", tx.PSBT)
	if err != nil {
		return nil, err
	}
	tx.TxID = decoded.Get("tx.txid").String()
	return tx, nil
}

// SignTransaction signs with a wallet (walletprocesspsbt or
// signrawtransactionwithwallet) or a raw private key
// (signrawtransactionwithkey).
func (b *RPCBackend) SignTransaction(ctx context.Context, spec *SignSpec) (*SignResult, error) {
	switch {
	case spec.Wallet != "" && spec.PSBT != "":
		res, err := b.call(ctx, spec.Wallet, "walletprocesspsbt", spec.PSBT)
		if err != nil {
			return nil, err
		}
		return &SignResult{
			TxID:     spec.TxID,
			PSBT:     res.Get("psbt").String(),
			Complete: res.Get("complete").Bool(),
		}, nil

	case spec.Wallet != "":
		hex, err := b.rawTransactionHex(ctx, spec.Wallet, spec.TxID)
		if err != nil {
			return nil, err
		}
		res, err := b.call(ctx, spec.Wallet, "signrawtransactionwithwallet", hex)
		if err != nil {
			return nil, err
		}
		return &SignResult{
			TxID:     spec.TxID,
			Hex:      res.Get("hex").String(),
			Complete: res.Get("complete").Bool(),
		}, nil

	case spec.PrivateKey != "":
		hex, err := b.rawTransactionHex(ctx, "", spec.TxID)
		if err != nil {
			return nil, err
		}
		res, err := b.call(ctx, "", "signrawtransactionwithkey", hex, []any{spec.PrivateKey})
		if err != nil {
			return nil, err
		}
		return &SignResult{
			TxID:     spec.TxID,
			Hex:      res.Get("hex").String(),
			Complete: res.Get("complete").Bool(),
		}, nil
	}
	return nil, fmt.Errorf("sign transaction %s: no wallet or private key", spec.TxID)
}

// BroadcastTransaction submits a transaction to the mempool, finalizing a
// PSBT first when one is given, and returns the txid.
func (b *RPCBackend) BroadcastTransaction(ctx context.Context, txid, psbt string) (string, error) {
	var hex string
	if psbt != "" {
		res, err := b.call(ctx, "", "finalizepsbt", psbt)
		if err != nil {
			return "", err
		}
		if !res.Get("complete").Bool() {
			return "", fmt.Errorf("broadcast: psbt is not fully signed")
		}
		hex = res.Get("hex").String()
	} else {
		var err error
		hex, err = b.rawTransactionHex(ctx, "", txid)
		if err != nil {
			return "", err
		}
	}
	res, err := b.call(ctx, "", "sendrawtransaction", hex)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// CreateMultisig builds an M-of-N multisig address and links a watch-only
// wallet named after the configuration so the node tracks its outputs. When
// no signer keys are supplied, fresh keys are generated from per-signer
// wallets.
func (b *RPCBackend) CreateMultisig(ctx context.Context, spec *MultisigSpec) (*Multisig, error) {
	keys := spec.SignerKeys
	if len(keys) == 0 {
		for i := 0; i < spec.TotalSigners; i++ {
			signerWallet := fmt.Sprintf("%s-signer-%d", spec.Name, i+1)
			if _, err := b.call(ctx, "", "createwallet", signerWallet); err != nil {
				return nil, err
			}
			addr, err := b.GetNewAddress(ctx, signerWallet)
			if err != nil {
				return nil, err
			}
			info, err := b.call(ctx, signerWallet, "getaddressinfo", addr)
			if err != nil {
				return nil, err
			}
			keys = append(keys, info.Get("pubkey").String())
		}
	}

	res, err := b.call(ctx, "", "createmultisig",
		spec.RequiredSigners, keys, rpcAddressType(spec.AddressType))
	if err != nil {
		return nil, err
	}
	ms := &Multisig{
		Name:            spec.Name,
		Address:         res.Get("address").String(),
		RedeemScript:    res.Get("redeemScript").String(),
		Descriptor:      res.Get("descriptor").String(),
		SignerKeys:      keys,
		RequiredSigners: spec.RequiredSigners,
		TotalSigners:    spec.TotalSigners,
		AddressType:     spec.AddressType,
	}

	// Watch-only wallet linkage: a blank wallet without private keys,
	// importing the multisig descriptor.
	if _, err := b.call(ctx, "", "createwallet", spec.Name, true, true); err != nil {
		return nil, err
	}
	if ms.Descriptor != "" {
		imports := []any{map[string]any{
			"desc":      ms.Descriptor,
			"timestamp": "now",
			"watchonly": true,
		}}
		if _, err := b.call(ctx, spec.Name, "importdescriptors", imports); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// rawTransactionHex fetches a transaction's serialization, preferring the
// wallet's view (which covers unconfirmed wallet transactions).
func (b *RPCBackend) rawTransactionHex(ctx context.Context, wallet, txid string) (string, error) {
	if wallet != "" {
		res, err := b.call(ctx, wallet, "gettransaction", txid)
		if err == nil {
			if hex := res.Get("hex").String(); hex != "" {
				return hex, nil
			}
		}
	}
	res, err := b.call(ctx, "", "getrawtransaction", txid)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// rpcAddressType maps the script vocabulary's address types to bitcoind's.
func rpcAddressType(t string) string {
	switch t {
	case "P2SH":
		return "legacy"
	case "P2WSH":
		return "bech32"
	case "P2SH-P2WSH":
		return "p2sh-segwit"
	}
	return "bech32"
}

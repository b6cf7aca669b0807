package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// rpcStub is a minimal bitcoind JSON-RPC double. Handlers are keyed by
// method name; the wallet path segment (if any) is passed through.
type rpcStub struct {
	t        *testing.T
	handlers map[string]func(wallet string, params []any) (any, error)
	calls    []string
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "rpcuser" || pass != "rpcpass" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wallet := strings.TrimPrefix(r.URL.Path, "/wallet/")
	if wallet == r.URL.Path {
		wallet = ""
	}

	var req struct {
		ID     string `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("decode request: %v", err)
		return
	}
	if req.ID == "" {
		s.t.Error("request has no id")
	}
	s.calls = append(s.calls, req.Method)

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.t.Errorf("unexpected rpc method %q", req.Method)
		writeRPC(w, nil, fmt.Errorf("unknown method"))
		return
	}
	result, err := handler(wallet, req.Params)
	writeRPC(w, result, err)
}

func writeRPC(w http.ResponseWriter, result any, err error) {
	resp := map[string]any{"result": result, "error": nil}
	if err != nil {
		resp["result"] = nil
		resp["error"] = map[string]any{"code": -1, "message": err.Error()}
	}
	json.NewEncoder(w).Encode(resp)
}

func newStubBackend(t *testing.T, handlers map[string]func(wallet string, params []any) (any, error)) (*RPCBackend, *rpcStub) {
	t.Helper()
	stub := &rpcStub{t: t, handlers: handlers}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewRPCBackend(srv.URL, "rpcuser", "rpcpass"), stub
}

func TestCreateWalletDerivesAddress(t *testing.T) {
	b, stub := newStubBackend(t, map[string]func(string, []any) (any, error){
		"createwallet": func(wallet string, params []any) (any, error) {
			if wallet != "" {
				t.Errorf("createwallet routed to wallet %q", wallet)
			}
			if params[0] != "alice" {
				t.Errorf("params[0] = %v", params[0])
			}
			return map[string]any{"name": "alice"}, nil
		},
		"getnewaddress": func(wallet string, params []any) (any, error) {
			if wallet != "alice" {
				t.Errorf("getnewaddress routed to %q, want alice", wallet)
			}
			return "bcrt1qalice", nil
		},
	})

	w, err := b.CreateWallet(context.Background(), "alice", nil)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.Name != "alice" || w.Address != "bcrt1qalice" {
		t.Errorf("wallet = %+v", w)
	}
	if len(stub.calls) != 2 {
		t.Errorf("calls = %v", stub.calls)
	}
}

func TestCreateWalletBlankSkipsAddress(t *testing.T) {
	b, stub := newStubBackend(t, map[string]func(string, []any) (any, error){
		"createwallet": func(wallet string, params []any) (any, error) {
			return map[string]any{"name": "watch"}, nil
		},
	})

	w, err := b.CreateWallet(context.Background(), "watch", map[string]any{"blank": true})
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.Address != "" {
		t.Errorf("blank wallet got address %q", w.Address)
	}
	if len(stub.calls) != 1 {
		t.Errorf("calls = %v", stub.calls)
	}
}

func TestGenerateToAddress(t *testing.T) {
	b, _ := newStubBackend(t, map[string]func(string, []any) (any, error){
		"generatetoaddress": func(wallet string, params []any) (any, error) {
			if n, _ := params[0].(float64); n != 3 {
				t.Errorf("count = %v", params[0])
			}
			return []string{"h0", "h1", "h2"}, nil
		},
	})

	hashes, err := b.GenerateToAddress(context.Background(), 3, "bcrt1qx")
	if err != nil {
		t.Fatalf("GenerateToAddress: %v", err)
	}
	if len(hashes) != 3 || hashes[2] != "h2" {
		t.Errorf("hashes = %v", hashes)
	}
}

func TestCreateTransactionFundsAndDecodes(t *testing.T) {
	b, _ := newStubBackend(t, map[string]func(string, []any) (any, error){
		"walletcreatefundedpsbt": func(wallet string, params []any) (any, error) {
			if wallet != "payer" {
				t.Errorf("funded from wallet %q", wallet)
			}
			return map[string]any{"psbt": "cHNidP8...", "fee": 0.00001}, nil
		},
		"decodepsbt": func(wallet string, params []any) (any, error) {
			return map[string]any{"tx": map[string]any{"txid": "deadbeef"}}, nil
		},
	})

	tx, err := b.CreateTransaction(context.Background(), &TxSpec{
		FromWallet:  "payer",
		Outputs:     []Output{{Address: "bcrt1qdest", Amount: 0.5}},
		Replaceable: true,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.TxID != "deadbeef" || tx.PSBT == "" {
		t.Errorf("tx = %+v", tx)
	}
}

func TestSignTransactionWithWalletPSBT(t *testing.T) {
	b, stub := newStubBackend(t, map[string]func(string, []any) (any, error){
		"walletprocesspsbt": func(wallet string, params []any) (any, error) {
			if wallet != "payer" {
				t.Errorf("signed via wallet %q", wallet)
			}
			return map[string]any{"psbt": "signed-psbt", "complete": true}, nil
		},
	})

	res, err := b.SignTransaction(context.Background(), &SignSpec{
		TxID:   "deadbeef",
		PSBT:   "cHNidP8...",
		Wallet: "payer",
	})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if res.PSBT != "signed-psbt" || !res.Complete {
		t.Errorf("res = %+v", res)
	}
	if len(stub.calls) != 1 {
		t.Errorf("calls = %v", stub.calls)
	}
}

func TestSignTransactionRequiresMethod(t *testing.T) {
	b, _ := newStubBackend(t, nil)
	if _, err := b.SignTransaction(context.Background(), &SignSpec{TxID: "x"}); err == nil {
		t.Fatal("expected error without wallet or key")
	}
}

func TestBroadcastFinalizesPSBT(t *testing.T) {
	b, stub := newStubBackend(t, map[string]func(string, []any) (any, error){
		"finalizepsbt": func(wallet string, params []any) (any, error) {
			return map[string]any{"hex": "0200...", "complete": true}, nil
		},
		"sendrawtransaction": func(wallet string, params []any) (any, error) {
			if params[0] != "0200..." {
				t.Errorf("broadcast hex = %v", params[0])
			}
			return "deadbeef", nil
		},
	})

	txid, err := b.BroadcastTransaction(context.Background(), "deadbeef", "cHNidP8...")
	if err != nil {
		t.Fatalf("BroadcastTransaction: %v", err)
	}
	if txid != "deadbeef" {
		t.Errorf("txid = %q", txid)
	}
	if strings.Join(stub.calls, ",") != "finalizepsbt,sendrawtransaction" {
		t.Errorf("calls = %v", stub.calls)
	}
}

func TestBroadcastPSBTWithoutTxid(t *testing.T) {
	b, stub := newStubBackend(t, map[string]func(string, []any) (any, error){
		"finalizepsbt": func(wallet string, params []any) (any, error) {
			if params[0] != "cHNidP8only" {
				t.Errorf("finalized psbt = %v", params[0])
			}
			return map[string]any{"hex": "0200...", "complete": true}, nil
		},
		"sendrawtransaction": func(wallet string, params []any) (any, error) {
			return "finaltx", nil
		},
	})

	txid, err := b.BroadcastTransaction(context.Background(), "", "cHNidP8only")
	if err != nil {
		t.Fatalf("BroadcastTransaction: %v", err)
	}
	if txid != "finaltx" {
		t.Errorf("txid = %q", txid)
	}
	// The psbt path must never fall back to a txid lookup.
	for _, call := range stub.calls {
		if call == "getrawtransaction" || call == "gettransaction" {
			t.Errorf("unexpected call %q", call)
		}
	}
}

func TestBroadcastRejectsIncompletePSBT(t *testing.T) {
	b, _ := newStubBackend(t, map[string]func(string, []any) (any, error){
		"finalizepsbt": func(wallet string, params []any) (any, error) {
			return map[string]any{"hex": "", "complete": false}, nil
		},
	})

	if _, err := b.BroadcastTransaction(context.Background(), "x", "partial"); err == nil {
		t.Fatal("expected error for incomplete psbt")
	}
}

func TestCreateMultisigGeneratesSignerKeys(t *testing.T) {
	created := map[string]bool{}
	b, _ := newStubBackend(t, map[string]func(string, []any) (any, error){
		"createwallet": func(wallet string, params []any) (any, error) {
			name, _ := params[0].(string)
			created[name] = true
			return map[string]any{"name": name}, nil
		},
		"getnewaddress": func(wallet string, params []any) (any, error) {
			return "bcrt1q" + wallet, nil
		},
		"getaddressinfo": func(wallet string, params []any) (any, error) {
			return map[string]any{"pubkey": "02" + wallet}, nil
		},
		"createmultisig": func(wallet string, params []any) (any, error) {
			if required, _ := params[0].(float64); required != 2 {
				t.Errorf("required = %v", params[0])
			}
			if addrType, _ := params[2].(string); addrType != "bech32" {
				t.Errorf("address type = %v, want bech32 for P2WSH", params[2])
			}
			return map[string]any{
				"address":    "bcrt1qmulti",
				"descriptor": "wsh(multi(2,...))#chk",
			}, nil
		},
		"importdescriptors": func(wallet string, params []any) (any, error) {
			if wallet != "vault" {
				t.Errorf("descriptors imported into %q", wallet)
			}
			return []map[string]any{{"success": true}}, nil
		},
	})

	ms, err := b.CreateMultisig(context.Background(), &MultisigSpec{
		Name:            "vault",
		RequiredSigners: 2,
		TotalSigners:    3,
		AddressType:     "P2WSH",
	})
	if err != nil {
		t.Fatalf("CreateMultisig: %v", err)
	}
	if ms.Address != "bcrt1qmulti" {
		t.Errorf("address = %q", ms.Address)
	}
	if len(ms.SignerKeys) != 3 {
		t.Errorf("signer keys = %v", ms.SignerKeys)
	}
	for _, name := range []string{"vault-signer-1", "vault-signer-2", "vault-signer-3", "vault"} {
		if !created[name] {
			t.Errorf("wallet %q was not created", name)
		}
	}
}

func TestRPCErrorSurfacesMessage(t *testing.T) {
	b, _ := newStubBackend(t, map[string]func(string, []any) (any, error){
		"getnewaddress": func(wallet string, params []any) (any, error) {
			return nil, fmt.Errorf("Requested wallet does not exist or is not loaded")
		},
	})

	_, err := b.GetNewAddress(context.Background(), "ghost")
	if err == nil || !strings.Contains(err.Error(), "not loaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestRPCAddressTypeMapping(t *testing.T) {
	cases := map[string]string{
		"P2SH":       "legacy",
		"P2WSH":      "bech32",
		"P2SH-P2WSH": "p2sh-segwit",
		"":           "bech32",
	}
	for in, want := range cases {
		if got := rpcAddressType(in); got != want {
			t.Errorf("rpcAddressType(%q) = %q, want %q", in, got, want)
		}
	}
}

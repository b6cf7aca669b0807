package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/ormasoftchile/regrun/pkg/backend"
	"github.com/ormasoftchile/regrun/pkg/schema"
)

// actionHandler executes one resolved action. It returns the value recorded
// in the step outcome and the value bound to the action's variableName;
// the two differ when the recorded result is a struct but the natural
// reference for later actions is a single field of it (a wallet name, a
// txid, a multisig address).
type actionHandler func(ctx context.Context, e *Engine, params map[string]any) (record, bind any, err error)

var actionHandlers = map[schema.ActionKind]actionHandler{
	schema.CreateWallet:         handleCreateWallet,
	schema.MineBlocks:           handleMineBlocks,
	schema.CreateTransaction:    handleCreateTransaction,
	schema.ReplaceTransaction:   handleReplaceTransaction,
	schema.SignTransaction:      handleSignTransaction,
	schema.BroadcastTransaction: handleBroadcastTransaction,
	schema.CreateMultisig:       handleCreateMultisig,
	schema.Wait:                 handleWait,
	schema.Assert:               handleAssert,
	schema.Custom:               handleCustom,
}

func handleCreateWallet(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, nil, err
	}
	options, _ := params["options"].(map[string]any)

	w, err := e.Backend.CreateWallet(ctx, name, options)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Wallets = append(e.result.Outputs.Wallets, w.Name)
	return w, w.Name, nil
}

func handleMineBlocks(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	count, err := intParam(params, "count")
	if err != nil {
		return nil, nil, err
	}

	address, _ := params["toAddress"].(string)
	if address == "" {
		wallet, err := stringParam(params, "toWallet")
		if err != nil {
			return nil, nil, fmt.Errorf("one of toAddress or toWallet is required")
		}
		address, err = e.Backend.GetNewAddress(ctx, wallet)
		if err != nil {
			return nil, nil, err
		}
	}

	hashes, err := e.Backend.GenerateToAddress(ctx, count, address)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Blocks = append(e.result.Outputs.Blocks, hashes...)
	return hashes, hashes, nil
}

func handleCreateTransaction(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	from, err := stringParam(params, "fromWallet")
	if err != nil {
		return nil, nil, err
	}
	outputs, err := outputsParam(params)
	if err != nil {
		return nil, nil, err
	}

	spec := &backend.TxSpec{
		FromWallet:  from,
		Outputs:     outputs,
		Replaceable: boolParam(params, "replaceable", true),
	}
	if rate, ok := numberValue(params["feeRate"]); ok {
		spec.FeeRate = rate
	}

	tx, err := e.Backend.CreateTransaction(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, tx.TxID)
	if tx.PSBT != "" {
		e.psbts[tx.TxID] = tx.PSBT
	}
	return tx, tx.TxID, nil
}

func handleReplaceTransaction(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	txid, err := stringParam(params, "txid")
	if err != nil {
		return nil, nil, err
	}

	spec := &backend.ReplaceSpec{TxID: txid}
	spec.Wallet, _ = params["wallet"].(string)
	if rate, ok := numberValue(params["newFeeRate"]); ok {
		spec.NewFeeRate = rate
	}
	if _, present := params["newOutputs"]; present {
		outputs, err := outputsNamed(params, "newOutputs")
		if err != nil {
			return nil, nil, err
		}
		spec.NewOutputs = outputs
	}

	tx, err := e.Backend.ReplaceTransaction(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, tx.TxID)
	if tx.PSBT != "" {
		e.psbts[tx.TxID] = tx.PSBT
	}
	return tx, tx.TxID, nil
}

func handleSignTransaction(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	txid, err := stringParam(params, "txid")
	if err != nil {
		return nil, nil, err
	}

	spec := &backend.SignSpec{TxID: txid}
	spec.Wallet, _ = params["wallet"].(string)
	spec.PrivateKey, _ = params["privateKey"].(string)
	spec.PSBT, _ = params["psbt"].(string)
	if spec.PSBT == "" {
		spec.PSBT = e.psbts[txid]
	}

	res, err := e.Backend.SignTransaction(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	if res.PSBT != "" {
		e.psbts[txid] = res.PSBT
		return res, res.PSBT, nil
	}
	return res, res.Hex, nil
}

func handleBroadcastTransaction(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	txid, _ := params["txid"].(string)
	psbt, _ := params["psbt"].(string)
	if txid == "" && psbt == "" {
		return nil, nil, fmt.Errorf("one of txid or psbt is required")
	}
	if psbt == "" {
		psbt = e.psbts[txid]
	}

	id, err := e.Backend.BroadcastTransaction(ctx, txid, psbt)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, id)
	return id, id, nil
}

func handleCreateMultisig(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, nil, err
	}
	required, err := intParam(params, "requiredSigners")
	if err != nil {
		return nil, nil, err
	}
	total, err := intParam(params, "totalSigners")
	if err != nil {
		return nil, nil, err
	}
	addressType, err := stringParam(params, "addressType")
	if err != nil {
		return nil, nil, err
	}

	spec := &backend.MultisigSpec{
		Name:            name,
		RequiredSigners: required,
		TotalSigners:    total,
		AddressType:     addressType,
	}
	if raw, ok := params["signers"].([]any); ok {
		for _, s := range raw {
			key, ok := s.(string)
			if !ok {
				return nil, nil, fmt.Errorf("signers must be a list of public keys")
			}
			spec.SignerKeys = append(spec.SignerKeys, key)
		}
	}

	ms, err := e.Backend.CreateMultisig(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	e.result.Outputs.Wallets = append(e.result.Outputs.Wallets, ms.Name)
	return ms, ms.Address, nil
}

func handleWait(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	seconds, ok := numberValue(params["seconds"])
	if !ok || seconds <= 0 {
		return nil, nil, fmt.Errorf("seconds must be a positive number")
	}
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	}
	return fmt.Sprintf("waited %gs", seconds), nil, nil
}

func handleAssert(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	message, err := stringParam(params, "message")
	if err != nil {
		return nil, nil, err
	}

	ok, err := evalCondition(params["condition"], e.vars)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate condition: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("assertion failed: %s", message)
	}
	return true, nil, nil
}

func handleCustom(ctx context.Context, e *Engine, params map[string]any) (any, any, error) {
	code, err := stringParam(params, "code")
	if err != nil {
		return nil, nil, err
	}
	value, err := e.evalCustom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	return value, value, nil
}

// evalCondition evaluates an assertion condition against the variable
// table. Booleans pass through; strings are compiled as expressions with
// the table as environment.
func evalCondition(cond any, env map[string]any) (bool, error) {
	switch c := cond.(type) {
	case bool:
		return c, nil
	case string:
		s := strings.TrimSpace(c)
		switch s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		program, err := expr.Compile(s, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile %q: %w", s, err)
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return false, fmt.Errorf("run %q: %w", s, err)
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("condition %q did not evaluate to a boolean", s)
		}
		return b, nil
	default:
		return false, fmt.Errorf("condition must be a boolean or an expression string, got %T", cond)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, present := params[key]
	if !present {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string) (int, error) {
	n, ok := numberValue(params[key])
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parameter %q must be positive", key)
	}
	return int(n), nil
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func outputsParam(params map[string]any) ([]backend.Output, error) {
	return outputsNamed(params, "outputs")
}

// outputsNamed decodes a list of single-entry {address: amount} records.
func outputsNamed(params map[string]any, key string) ([]backend.Output, error) {
	raw, ok := params[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("parameter %q must be a non-empty list of outputs", key)
	}
	outputs := make([]backend.Output, 0, len(raw))
	for i, entry := range raw {
		record, ok := entry.(map[string]any)
		if !ok || len(record) != 1 {
			return nil, fmt.Errorf("%s[%d] must be a single {address: amount} record", key, i)
		}
		for address, amount := range record {
			n, ok := numberValue(amount)
			if !ok || n <= 0 {
				return nil, fmt.Errorf("%s[%d]: amount for %s must be a positive number", key, i, address)
			}
			outputs = append(outputs, backend.Output{Address: address, Amount: n})
		}
	}
	return outputs, nil
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/ormasoftchile/regrun/pkg/backend"
)

// DefaultSandboxTimeout bounds imperative script execution when the engine
// does not set its own limit.
const DefaultSandboxTimeout = 30 * time.Second

// runSandboxed executes an imperative script inside an embedded JavaScript
// VM. The script sees only the injected capabilities (backend operations,
// logging, progress, sleep, the variable table) — no filesystem, network,
// or process access exists inside the VM.
func (e *Engine) runSandboxed(ctx context.Context) error {
	if e.Options.Interactive && e.Confirmer != nil {
		e.Events.Log(Summarize(e.Script))
		ok, err := e.Confirmer.Confirm("Run this script?")
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: declined by operator", ErrAborted)
		}
	}

	program, err := goja.Compile(e.Script.Path, e.Script.Source, false)
	if err != nil {
		return fmt.Errorf("compile script: %w", err)
	}

	timeout := e.SandboxTimeout
	if timeout == 0 {
		timeout = DefaultSandboxTimeout
	}

	// stop is closed before interrupting so blocking capabilities (sleep)
	// unwind along with the VM.
	stop := make(chan struct{})
	done := make(chan struct{})
	vm := e.newVM(ctx, stop)
	go func() {
		select {
		case <-time.After(timeout):
			close(stop)
			vm.Interrupt("execution timeout")
		case <-ctx.Done():
			close(stop)
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunProgram(program); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			}
			return fmt.Errorf("script timed out after %s", timeout)
		}
		return fmt.Errorf("script error: %w", err)
	}
	return nil
}

// evalCustom runs an inline code block against the live variable table and
// backend. Unlike a full imperative run it inherits the engine's context
// for cancellation but applies no separate timeout.
func (e *Engine) evalCustom(ctx context.Context, code string) (any, error) {
	stop := make(chan struct{})
	done := make(chan struct{})
	vm := e.newVM(ctx, stop)
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	defer close(done)

	value, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return nil, fmt.Errorf("custom code: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// newVM builds a VM with the capability surface shared by imperative
// scripts and CUSTOM blocks. Backend errors surface as JS exceptions.
func (e *Engine) newVM(ctx context.Context, stop <-chan struct{}) *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	vm.Set("vars", e.vars)
	vm.Set("log", func(message string) {
		e.Events.Log(message)
	})
	vm.Set("progress", func(current, total int, message string) {
		e.Events.Progress(current, total, message)
	})
	vm.Set("sleep", func(seconds float64) {
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
		case <-stop:
		}
	})

	vm.Set("backend", map[string]any{
		"createWallet": func(name string, options map[string]any) (*backend.Wallet, error) {
			w, err := e.Backend.CreateWallet(ctx, name, options)
			if err == nil {
				e.result.Outputs.Wallets = append(e.result.Outputs.Wallets, w.Name)
			}
			return w, err
		},
		"getNewAddress": func(wallet string) (string, error) {
			return e.Backend.GetNewAddress(ctx, wallet)
		},
		"listUnspent": func(wallet string) ([]backend.UTXO, error) {
			return e.Backend.ListUnspent(ctx, wallet)
		},
		"mineBlocks": func(count int, wallet string) ([]string, error) {
			address, err := e.Backend.GetNewAddress(ctx, wallet)
			if err != nil {
				return nil, err
			}
			hashes, err := e.Backend.GenerateToAddress(ctx, count, address)
			if err == nil {
				e.result.Outputs.Blocks = append(e.result.Outputs.Blocks, hashes...)
			}
			return hashes, err
		},
		"generateToAddress": func(count int, address string) ([]string, error) {
			hashes, err := e.Backend.GenerateToAddress(ctx, count, address)
			if err == nil {
				e.result.Outputs.Blocks = append(e.result.Outputs.Blocks, hashes...)
			}
			return hashes, err
		},
		"sendToAddress": func(wallet, address string, amount float64) (string, error) {
			txid, err := e.Backend.SendToAddress(ctx, wallet, address, amount)
			if err == nil {
				e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, txid)
			}
			return txid, err
		},
		"createTransaction": func(spec backend.TxSpec) (*backend.Transaction, error) {
			tx, err := e.Backend.CreateTransaction(ctx, &spec)
			if err == nil {
				e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, tx.TxID)
				if tx.PSBT != "" {
					e.psbts[tx.TxID] = tx.PSBT
				}
			}
			return tx, err
		},
		"replaceTransaction": func(spec backend.ReplaceSpec) (*backend.Transaction, error) {
			tx, err := e.Backend.ReplaceTransaction(ctx, &spec)
			if err == nil {
				e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, tx.TxID)
				if tx.PSBT != "" {
					e.psbts[tx.TxID] = tx.PSBT
				}
			}
			return tx, err
		},
		"signTransaction": func(spec backend.SignSpec) (*backend.SignResult, error) {
			if spec.PSBT == "" {
				spec.PSBT = e.psbts[spec.TxID]
			}
			res, err := e.Backend.SignTransaction(ctx, &spec)
			if err == nil && res.PSBT != "" {
				e.psbts[spec.TxID] = res.PSBT
			}
			return res, err
		},
		"broadcastTransaction": func(txid, psbt string) (string, error) {
			if psbt == "" {
				psbt = e.psbts[txid]
			}
			id, err := e.Backend.BroadcastTransaction(ctx, txid, psbt)
			if err == nil {
				e.result.Outputs.Transactions = append(e.result.Outputs.Transactions, id)
			}
			return id, err
		},
		"createMultisig": func(spec backend.MultisigSpec) (*backend.Multisig, error) {
			ms, err := e.Backend.CreateMultisig(ctx, &spec)
			if err == nil {
				e.result.Outputs.Wallets = append(e.result.Outputs.Wallets, ms.Name)
			}
			return ms, err
		},
	})

	return vm
}

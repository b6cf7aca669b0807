package runtime

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/regrun/pkg/schema"
)

// riskOperations are node-level operations worth calling out before an
// operator approves an imperative script.
var riskOperations = []string{
	"invalidateblock",
	"reconsiderblock",
	"unloadwallet",
	"abortrescan",
	"pruneblockchain",
}

// Summarize renders a human-readable preview of what a script will do,
// without executing anything. Declarative scripts get an exact per-action
// listing; imperative scripts get a static scan of the backend operations
// the source references.
func Summarize(s *schema.Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Script: %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(&b, "  %s\n", s.Description)
	}

	if s.Kind == schema.KindImperative {
		summarizeImperative(&b, s)
		return b.String()
	}

	counts := make(map[schema.ActionKind]int, len(s.Actions))
	for _, a := range s.Actions {
		counts[a.Type]++
	}
	fmt.Fprintf(&b, "%d action(s):", len(s.Actions))
	for _, kind := range schema.Kinds {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(&b, " %s×%d", kind, n)
		}
	}
	b.WriteString("\n")

	for i, a := range s.Actions {
		fmt.Fprintf(&b, "  %2d. %s\n", i+1, describeAction(a))
	}
	return b.String()
}

func summarizeImperative(b *strings.Builder, s *schema.Script) {
	src := s.Source
	b.WriteString("Custom script; backend operations referenced:\n")
	found := false
	for _, op := range []string{
		"createWallet", "getNewAddress", "listUnspent", "mineBlocks",
		"generateToAddress", "sendToAddress", "createTransaction",
		"replaceTransaction", "signTransaction", "broadcastTransaction",
		"createMultisig",
	} {
		if n := strings.Count(src, "backend."+op); n > 0 {
			fmt.Fprintf(b, "  %s ×%d\n", op, n)
			found = true
		}
	}
	if !found {
		b.WriteString("  (none detected)\n")
	}
	for _, risky := range riskOperations {
		if strings.Contains(src, risky) {
			fmt.Fprintf(b, "  ⚠ references %s\n", risky)
		}
	}
}

func describeAction(a schema.Action) string {
	if d := describeKnown(a); d != "" {
		return d
	}
	if a.Description != "" {
		return fmt.Sprintf("%s: %s", a.Type, a.Description)
	}
	return string(a.Type)
}

func describeKnown(a schema.Action) string {
	p := a.Params
	switch a.Type {
	case schema.CreateWallet:
		if name, ok := p["name"].(string); ok {
			return fmt.Sprintf("Create wallet %q", name)
		}
	case schema.MineBlocks:
		count := p["count"]
		if to, ok := p["toWallet"].(string); ok {
			return fmt.Sprintf("Mine %v block(s) to wallet %s", count, to)
		}
		if to, ok := p["toAddress"].(string); ok {
			return fmt.Sprintf("Mine %v block(s) to %s", count, to)
		}
	case schema.CreateTransaction:
		from, _ := p["fromWallet"].(string)
		if outputs, ok := p["outputs"].([]any); ok {
			var parts []string
			for _, entry := range outputs {
				record, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				for address, amount := range record {
					parts = append(parts, fmt.Sprintf("%v BTC to %s", amount, address))
				}
			}
			return fmt.Sprintf("Send from %s: %s", from, strings.Join(parts, ", "))
		}
	case schema.ReplaceTransaction:
		if txid, ok := p["txid"].(string); ok {
			return fmt.Sprintf("Replace transaction %s with a higher fee", txid)
		}
	case schema.SignTransaction:
		if txid, ok := p["txid"].(string); ok {
			return fmt.Sprintf("Sign transaction %s", txid)
		}
	case schema.BroadcastTransaction:
		if txid, ok := p["txid"].(string); ok {
			return fmt.Sprintf("Broadcast transaction %s", txid)
		}
	case schema.CreateMultisig:
		return fmt.Sprintf("Create %v-of-%v %v multisig %q",
			p["requiredSigners"], p["totalSigners"], p["addressType"], p["name"])
	case schema.Wait:
		return fmt.Sprintf("Wait %vs", p["seconds"])
	case schema.Assert:
		if message, ok := p["message"].(string); ok {
			return fmt.Sprintf("Assert: %s", message)
		}
	case schema.Custom:
		if code, ok := p["code"].(string); ok {
			return fmt.Sprintf("Run custom code (%d line(s))", strings.Count(code, "\n")+1)
		}
	}
	return ""
}

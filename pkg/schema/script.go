// Package schema defines the script model for regtest scenario scripts and
// provides loading, saving and validation for both on-disk forms.
package schema

// ScriptKind distinguishes the two on-disk script forms.
type ScriptKind string

const (
	// KindDeclarative is a JSON document holding an ordered action sequence.
	KindDeclarative ScriptKind = "declarative"
	// KindImperative is a JavaScript program executed in the sandbox.
	KindImperative ScriptKind = "imperative"
)

// ActionKind is the closed enumeration of declarative action types.
type ActionKind string

const (
	CreateWallet         ActionKind = "CREATE_WALLET"
	MineBlocks           ActionKind = "MINE_BLOCKS"
	CreateTransaction    ActionKind = "CREATE_TRANSACTION"
	ReplaceTransaction   ActionKind = "REPLACE_TRANSACTION"
	SignTransaction      ActionKind = "SIGN_TRANSACTION"
	BroadcastTransaction ActionKind = "BROADCAST_TRANSACTION"
	CreateMultisig       ActionKind = "CREATE_MULTISIG"
	Wait                 ActionKind = "WAIT"
	Assert               ActionKind = "ASSERT"
	Custom               ActionKind = "CUSTOM"
)

// Kinds lists every known action kind in declaration order.
var Kinds = []ActionKind{
	CreateWallet,
	MineBlocks,
	CreateTransaction,
	ReplaceTransaction,
	SignTransaction,
	BroadcastTransaction,
	CreateMultisig,
	Wait,
	Assert,
	Custom,
}

// Known reports whether k is a member of the closed enumeration.
func (k ActionKind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Action is a single declarative step with a kind and a parameter record.
// The optional "variableName" entry in Params names the variable the action's
// result is bound to after it completes.
type Action struct {
	Type        ActionKind     `json:"type"                  jsonschema:"required"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params"                jsonschema:"required"`
}

// VariableName returns the params.variableName entry if it is a string.
func (a Action) VariableName() string {
	if v, ok := a.Params["variableName"].(string); ok {
		return v
	}
	return ""
}

// Script is a loaded, classified script. A Script is immutable once
// validated — only the engine's variable table and result mutate during a run.
type Script struct {
	Kind ScriptKind `json:"-"`
	Path string     `json:"-"`

	// Declarative form. Name/Description/Version are also populated for
	// imperative scripts from the header comment block, for catalog display.
	Name        string         `json:"name"                  jsonschema:"required,minLength=1"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	Actions     []Action       `json:"actions,omitempty"     jsonschema:"minItems=1"`

	// Imperative form: the raw program source.
	Source string `json:"-"`
}

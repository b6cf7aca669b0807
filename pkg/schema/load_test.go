package schema

import (
	"path/filepath"
	"strings"
	"testing"
)

const declarativeDoc = `{
  "name": "fund-and-send",
  "description": "fund a wallet and send a payment",
  "version": "1.0",
  "variables": {"amount": 0.5},
  "actions": [
    {"type": "CREATE_WALLET", "params": {"name": "alice", "variableName": "alice"}},
    {"type": "MINE_BLOCKS", "params": {"count": 101, "toWallet": "${alice}"}}
  ]
}`

func TestLoadClassifiesByExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath, err := Save(dir, "fund-and-send", loadFromString(t, declarativeDoc), KindDeclarative)
	if err != nil {
		t.Fatalf("save declarative: %v", err)
	}
	jsPath, err := Save(dir, "custom", "// name: custom\nlog('hi');", KindImperative)
	if err != nil {
		t.Fatalf("save imperative: %v", err)
	}

	d, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("load declarative: %v", err)
	}
	if d.Kind != KindDeclarative {
		t.Errorf("Kind = %q, want declarative", d.Kind)
	}
	if d.Path != jsonPath {
		t.Errorf("Path = %q, want %q", d.Path, jsonPath)
	}

	i, err := Load(jsPath)
	if err != nil {
		t.Fatalf("load imperative: %v", err)
	}
	if i.Kind != KindImperative {
		t.Errorf("Kind = %q, want imperative", i.Kind)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for unrecognized extension")
	}
}

func TestLoadDeclarativeRoundTrip(t *testing.T) {
	s := loadFromString(t, declarativeDoc)

	if s.Name != "fund-and-send" {
		t.Errorf("Name = %q", s.Name)
	}
	if len(s.Actions) != 2 {
		t.Fatalf("len(Actions) = %d, want 2", len(s.Actions))
	}
	if s.Actions[0].Type != CreateWallet {
		t.Errorf("Actions[0].Type = %q", s.Actions[0].Type)
	}
	if s.Actions[0].VariableName() != "alice" {
		t.Errorf("VariableName = %q, want alice", s.Actions[0].VariableName())
	}
	if amount, ok := s.Variables["amount"].(float64); !ok || amount != 0.5 {
		t.Errorf("Variables[amount] = %v", s.Variables["amount"])
	}

	dir := t.TempDir()
	path, err := Save(dir, s.Name, s, KindDeclarative)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Name != s.Name || len(again.Actions) != len(s.Actions) {
		t.Errorf("round trip changed the script: %+v", again)
	}
}

func TestLoadDeclarativeRejectsUnknownFields(t *testing.T) {
	doc := `{"name": "x", "actions": [], "extra": true}`
	if _, err := LoadDeclarative(strings.NewReader(doc)); err == nil {
		t.Error("expected unknown-field rejection")
	}
}

func TestLoadImperativeHeaderMetadata(t *testing.T) {
	src := `// name: reorg-drill
// description: exercises a two-block reorg
// version: 2.1

var a = backend.createWallet('a', {});
// name: not-this-one
`
	s, err := LoadImperative(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "reorg-drill" {
		t.Errorf("Name = %q", s.Name)
	}
	if s.Description != "exercises a two-block reorg" {
		t.Errorf("Description = %q", s.Description)
	}
	if s.Version != "2.1" {
		t.Errorf("Version = %q", s.Version)
	}
	if s.Source != src {
		t.Error("Source must be preserved verbatim")
	}
}

func TestLoadImperativeBlockCommentHeader(t *testing.T) {
	src := `/* name: drill
 * description: block comment header
 */
log('run');
`
	s, err := LoadImperative(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "drill" || s.Description != "block comment header" {
		t.Errorf("parsed %q / %q", s.Name, s.Description)
	}
}

func loadFromString(t *testing.T, doc string) *Script {
	t.Helper()
	s, err := LoadDeclarative(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

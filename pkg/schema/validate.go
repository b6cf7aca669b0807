package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "actions[0].params.count")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidationResult is the outcome of validating a script. Valid is computed
// over severity=error entries only — advisory findings (missing description
// or version) are reported as warnings and never block execution.
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// Messages renders every finding as a flat string list.
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

// placeholderRe extracts variable identifiers from ${name} placeholders.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Validate statically checks a script. It never fails with a Go error for
// malformed input — every problem is reported through the result.
//
// Declarative scripts go through the semantic phase (generated JSON Schema)
// and the domain phase (per-kind parameter contracts plus cross-action
// variable-reference checking). Imperative scripts are checked for syntactic
// well-formedness only.
func Validate(s *Script) *ValidationResult {
	res := &ValidationResult{}
	if s == nil {
		res.Errors = append(res.Errors, &ValidationError{
			Phase:    "structural",
			Message:  "script is nil",
			Severity: "error",
		})
		return res
	}

	switch s.Kind {
	case KindImperative:
		res.Errors = validateImperative(s)
	default:
		res.Errors = append(res.Errors, validateSemantic(s)...)
		res.Errors = append(res.Errors, validateDomain(s)...)
	}

	res.Valid = true
	for _, e := range res.Errors {
		if e.Severity == "error" {
			res.Valid = false
			break
		}
	}
	return res
}

// validateImperative checks that the source parses as a syntactically valid
// program. A parse failure yields exactly one error.
func validateImperative(s *Script) []*ValidationError {
	if strings.TrimSpace(s.Source) == "" {
		return []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  "imperative script has empty source",
			Severity: "error",
		}}
	}
	if _, err := goja.Compile(s.Path, s.Source, false); err != nil {
		return []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  fmt.Sprintf("syntax error: %v", err),
			Severity: "error",
		}}
	}
	return nil
}

// validateSemantic validates the declarative document against the generated
// JSON Schema.
func validateSemantic(s *Script) []*ValidationError {
	data, err := json.Marshal(s)
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("generate schema: %v", err),
			Severity: "error",
		}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("unmarshal schema: %v", err),
			Severity: "error",
		}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("script-v0.json", schemaDoc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("add schema resource: %v", err),
			Severity: "error",
		}}
	}

	sch, err := c.Compile("script-v0.json")
	if err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("compile schema: %v", err),
			Severity: "error",
		}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{
			Phase:    "semantic",
			Path:     "",
			Message:  fmt.Sprintf("unmarshal document: %v", err),
			Severity: "error",
		}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				instancePath := strings.Join(cause.InstanceLocation, "/")
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     instancePath,
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     "",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain performs the ordered domain checks for declarative scripts:
// metadata presence, non-empty action list, per-kind parameter contracts and
// cross-action variable-reference checking.
func validateDomain(s *Script) []*ValidationError {
	var errs []*ValidationError

	if s.Name == "" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "name",
			Message:  "script must have a name",
			Severity: "error",
		})
	}
	if s.Description == "" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "description",
			Message:  "script should have a description",
			Severity: "warning",
		})
	}
	if s.Version == "" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "version",
			Message:  "script should have a version",
			Severity: "warning",
		})
	}

	if len(s.Actions) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "actions",
			Message:  "script must contain at least one action",
			Severity: "error",
		})
		return errs
	}

	for i, a := range s.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if !a.Type.Known() {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".type",
				Message:  fmt.Sprintf("unknown action type %q", a.Type),
				Severity: "error",
			})
			continue
		}
		if a.Params == nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".params",
				Message:  fmt.Sprintf("%s action requires params", a.Type),
				Severity: "error",
			})
			continue
		}
		if check, ok := paramContracts[a.Type]; ok {
			errs = append(errs, check(path+".params", a.Params)...)
		}
		if v, present := a.Params["variableName"]; present {
			if _, ok := v.(string); !ok {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".params.variableName",
					Message:  fmt.Sprintf("variableName must be a string, got %T", v),
					Severity: "error",
				})
			}
		}
	}

	errs = append(errs, checkVariableReferences(s)...)
	return errs
}

// checkVariableReferences flags ${name} placeholders whose identifier is not
// in the known set at that point in the sequence. The known set is the
// declared variables plus every variableName produced at or before the
// action's position.
func checkVariableReferences(s *Script) []*ValidationError {
	var errs []*ValidationError

	known := make(map[string]bool, len(s.Variables))
	for name := range s.Variables {
		known[name] = true
	}

	for i, a := range s.Actions {
		if name := a.VariableName(); name != "" {
			known[name] = true
		}
		walkStrings(a.Params, fmt.Sprintf("actions[%d].params", i), func(path, str string) {
			for _, match := range placeholderRe.FindAllStringSubmatch(str, -1) {
				if !known[match[1]] {
					errs = append(errs, &ValidationError{
						Phase:    "domain",
						Path:     path,
						Message:  fmt.Sprintf("undefined variable reference ${%s}", match[1]),
						Severity: "error",
					})
				}
			}
		})
	}
	return errs
}

// walkStrings visits every string value inside a parameter shape, including
// strings nested in sequences and records, reporting each with its path.
func walkStrings(v any, path string, visit func(path, str string)) {
	switch val := v.(type) {
	case string:
		visit(path, val)
	case []any:
		for i, item := range val {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	case map[string]any:
		for k, item := range val {
			walkStrings(item, path+"."+k, visit)
		}
	}
}

// contractCheck validates one action kind's parameter record.
type contractCheck func(path string, p map[string]any) []*ValidationError

// paramContracts maps each action kind to its required-parameter contract.
var paramContracts = map[ActionKind]contractCheck{
	CreateWallet: func(path string, p map[string]any) []*ValidationError {
		errs := requireString(path, p, "name")
		if opts, present := p["options"]; present {
			if _, ok := opts.(map[string]any); !ok {
				errs = append(errs, domainErr(path+".options", "options must be a record"))
			}
		}
		return errs
	},
	MineBlocks: func(path string, p map[string]any) []*ValidationError {
		errs := requirePositiveNumber(path, p, "count")
		if !hasParam(p, "toWallet") && !hasParam(p, "toAddress") {
			errs = append(errs, domainErr(path, "MINE_BLOCKS requires toWallet or toAddress"))
		}
		return errs
	},
	CreateTransaction: func(path string, p map[string]any) []*ValidationError {
		errs := requireString(path, p, "fromWallet")
		errs = append(errs, checkOutputs(path+".outputs", p["outputs"], true)...)
		if v, present := p["feeRate"]; present && !isTemplated(v) {
			if n, ok := asNumber(v); !ok || n < 0 {
				errs = append(errs, domainErr(path+".feeRate", "feeRate must be a number >= 0"))
			}
		}
		return errs
	},
	ReplaceTransaction: func(path string, p map[string]any) []*ValidationError {
		errs := requireString(path, p, "txid")
		if v, present := p["newFeeRate"]; present && !isTemplated(v) {
			if n, ok := asNumber(v); !ok || n <= 0 {
				errs = append(errs, domainErr(path+".newFeeRate", "newFeeRate must be a number > 0"))
			}
		}
		if v, present := p["newOutputs"]; present {
			errs = append(errs, checkOutputs(path+".newOutputs", v, false)...)
		}
		return errs
	},
	SignTransaction: func(path string, p map[string]any) []*ValidationError {
		errs := requireString(path, p, "txid")
		if !hasParam(p, "wallet") && !hasParam(p, "privateKey") {
			errs = append(errs, domainErr(path, "SIGN_TRANSACTION requires wallet or privateKey"))
		}
		return errs
	},
	BroadcastTransaction: func(path string, p map[string]any) []*ValidationError {
		if !hasParam(p, "txid") && !hasParam(p, "psbt") {
			return []*ValidationError{domainErr(path, "BROADCAST_TRANSACTION requires txid or psbt")}
		}
		return nil
	},
	CreateMultisig: func(path string, p map[string]any) []*ValidationError {
		errs := requireString(path, p, "name")
		errs = append(errs, requirePositiveNumber(path, p, "requiredSigners")...)
		errs = append(errs, requirePositiveNumber(path, p, "totalSigners")...)
		req, reqOK := asNumber(p["requiredSigners"])
		total, totalOK := asNumber(p["totalSigners"])
		if reqOK && totalOK && req > total {
			errs = append(errs, domainErr(path, "requiredSigners must not exceed totalSigners"))
		}
		if !isTemplated(p["addressType"]) {
			addrType, _ := p["addressType"].(string)
			switch addrType {
			case "P2SH", "P2WSH", "P2SH-P2WSH":
			default:
				errs = append(errs, domainErr(path+".addressType",
					fmt.Sprintf("addressType %q must be one of P2SH, P2WSH, P2SH-P2WSH", addrType)))
			}
		}
		return errs
	},
	Wait: func(path string, p map[string]any) []*ValidationError {
		return requirePositiveNumber(path, p, "seconds")
	},
	Assert: func(path string, p map[string]any) []*ValidationError {
		var errs []*ValidationError
		switch p["condition"].(type) {
		case string, bool:
		default:
			errs = append(errs, domainErr(path+".condition", "condition must be a string or a bool"))
		}
		errs = append(errs, requireString(path, p, "message")...)
		return errs
	},
	Custom: func(path string, p map[string]any) []*ValidationError {
		code, ok := p["code"].(string)
		if !ok || code == "" {
			return []*ValidationError{domainErr(path+".code", "CUSTOM requires a non-empty code string")}
		}
		if _, err := goja.Compile("custom-action.js", code, false); err != nil {
			return []*ValidationError{domainErr(path+".code", fmt.Sprintf("syntax error: %v", err))}
		}
		return nil
	},
}

// checkOutputs validates an outputs parameter: a non-empty list of
// single-key {address: amount>0} records.
func checkOutputs(path string, v any, required bool) []*ValidationError {
	outputs, ok := v.([]any)
	if !ok {
		if v == nil && !required {
			return nil
		}
		return []*ValidationError{domainErr(path, "outputs must be a non-empty list")}
	}
	if len(outputs) == 0 {
		return []*ValidationError{domainErr(path, "outputs must be a non-empty list")}
	}
	var errs []*ValidationError
	for i, out := range outputs {
		entry, ok := out.(map[string]any)
		if !ok || len(entry) != 1 {
			errs = append(errs, domainErr(fmt.Sprintf("%s[%d]", path, i),
				"each output must be a single-key {address: amount} record"))
			continue
		}
		for _, amount := range entry {
			if isTemplated(amount) {
				continue
			}
			if n, ok := asNumber(amount); !ok || n <= 0 {
				errs = append(errs, domainErr(fmt.Sprintf("%s[%d]", path, i), "output amount must be > 0"))
			}
		}
	}
	return errs
}

func domainErr(path, message string) *ValidationError {
	return &ValidationError{Phase: "domain", Path: path, Message: message, Severity: "error"}
}

func hasParam(p map[string]any, key string) bool {
	v, present := p[key]
	if !present {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// requireString checks a required non-empty string parameter.
func requireString(path string, p map[string]any, key string) []*ValidationError {
	v, present := p[key]
	if !present {
		return []*ValidationError{domainErr(path+"."+key, fmt.Sprintf("required parameter %q is missing", key))}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return []*ValidationError{domainErr(path+"."+key, fmt.Sprintf("parameter %q must be a non-empty string", key))}
	}
	return nil
}

// requirePositiveNumber checks a required numeric parameter > 0. A templated
// string placeholder defers the check to run time.
func requirePositiveNumber(path string, p map[string]any, key string) []*ValidationError {
	v, present := p[key]
	if !present {
		return []*ValidationError{domainErr(path+"."+key, fmt.Sprintf("required parameter %q is missing", key))}
	}
	if isTemplated(v) {
		return nil
	}
	if n, ok := asNumber(v); !ok || n <= 0 {
		return []*ValidationError{domainErr(path+"."+key, fmt.Sprintf("parameter %q must be a number > 0", key))}
	}
	return nil
}

// isTemplated reports whether a value is a string containing a ${name}
// placeholder, whose concrete value is only known at run time.
func isTemplated(v any) bool {
	s, ok := v.(string)
	return ok && placeholderRe.MatchString(s)
}

// asNumber coerces the numeric representations JSON decoding and test
// construction produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

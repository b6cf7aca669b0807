package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/regrun/pkg/runtime"
	"github.com/ormasoftchile/regrun/pkg/schema"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "regrun",
	Short: "Regtest scenario runner",
	Long:  "regrun — validates and executes test scenario scripts against a regtest Bitcoin node.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("regrun %s (%s)\n", version, commit)
	},
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [script.json|script.js]",
	Short: "Validate a script without executing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	script, err := schema.Load(args[0])
	if err != nil {
		return err
	}

	result := schema.Validate(script)
	var errors, warnings []*schema.ValidationError
	for _, e := range result.Errors {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		} else {
			errors = append(errors, e)
		}
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
	if len(errors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
		for i, e := range errors {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errors))
	}

	if script.Kind == schema.KindImperative {
		fmt.Printf("✓ %s is valid (custom script)\n", script.Name)
	} else {
		fmt.Printf("✓ %s is valid (%d actions)\n", script.Name, len(script.Actions))
	}
	return nil
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary [script.json|script.js]",
	Short: "Print what a script would do, without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := schema.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Print(runtime.Summarize(script))
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for declarative scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(execCmd)
}

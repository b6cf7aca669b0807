package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ormasoftchile/regrun/pkg/backend"
	"github.com/ormasoftchile/regrun/pkg/runtime"
	"github.com/ormasoftchile/regrun/pkg/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	execDryRun      bool
	execVerbose     bool
	execInteractive bool
	execParams      []string
	execRPCURL      string
	execRPCUser     string
	execRPCPass     string
	execReport      string
)

var execCmd = &cobra.Command{
	Use:   "exec [script.json|script.js]",
	Short: "Execute a script against a regtest node",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func init() {
	execCmd.Flags().BoolVar(&execDryRun, "dry-run", false, "summarize the script without touching the node")
	execCmd.Flags().BoolVarP(&execVerbose, "verbose", "v", false, "log each completed step")
	execCmd.Flags().BoolVarP(&execInteractive, "interactive", "i", false, "confirm each step before running it")
	execCmd.Flags().StringArrayVar(&execParams, "param", nil, "invocation parameter key=value (repeatable)")
	execCmd.Flags().StringVar(&execRPCURL, "rpc-url", "", "bitcoind RPC URL (default $REGRUN_RPC_URL or http://127.0.0.1:18443)")
	execCmd.Flags().StringVar(&execRPCUser, "rpc-user", "", "bitcoind RPC user (default $REGRUN_RPC_USER)")
	execCmd.Flags().StringVar(&execRPCPass, "rpc-pass", "", "bitcoind RPC password (default $REGRUN_RPC_PASS)")
	execCmd.Flags().StringVar(&execReport, "report", "", "write the execution result as YAML to this file")
}

func runExec(cmd *cobra.Command, args []string) error {
	script, err := schema.Load(args[0])
	if err != nil {
		return err
	}

	sink := &runtime.WriterSink{W: os.Stdout}

	// Validate first; advisory findings surface as warnings, errors stop.
	result := schema.Validate(script)
	for _, e := range result.Errors {
		if e.Severity == "warning" {
			sink.Warning(fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	if !result.Valid {
		for _, e := range result.Errors {
			if e.Severity != "warning" {
				fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
			}
		}
		return fmt.Errorf("script validation failed")
	}

	params := make(map[string]any, len(execParams))
	for _, p := range execParams {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		params[parts[0]] = parts[1]
	}

	opts := runtime.Options{
		DryRun:      execDryRun,
		Verbose:     execVerbose,
		Interactive: execInteractive,
		Params:      params,
	}

	var b backend.Backend
	if !execDryRun {
		b = backend.NewRPCBackend(
			firstOf(execRPCURL, os.Getenv("REGRUN_RPC_URL"), "http://127.0.0.1:18443"),
			firstOf(execRPCUser, os.Getenv("REGRUN_RPC_USER")),
			firstOf(execRPCPass, os.Getenv("REGRUN_RPC_PASS")),
		)
	}

	engine := runtime.New(script, b, opts)
	engine.Events = sink
	if execInteractive {
		confirmer, err := newReadlineConfirmer()
		if err != nil {
			return fmt.Errorf("open terminal: %w", err)
		}
		defer confirmer.Close()
		engine.Confirmer = confirmer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, execErr := engine.Execute(ctx)

	if execReport != "" && res != nil {
		if err := writeReport(execReport, res); err != nil {
			sink.Warning(fmt.Sprintf("write report: %v", err))
		}
	}

	if execErr != nil {
		return fmt.Errorf("execution %s: %w", strings.ToLower(string(res.Status)), execErr)
	}
	return nil
}

func writeReport(path string, res *runtime.ExecutionResult) error {
	data, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

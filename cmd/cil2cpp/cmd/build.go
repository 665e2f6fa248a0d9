package cmd

import (
	"fmt"
	"os"

	"github.com/axiomates/cil2cpp/internal/builder"
	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/config"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	dumpIRFile   string
	libraryMode  bool
	forceLibrary bool
	buildVerbose bool
)

var buildCmd = &cobra.Command{
	Use:   "build [snapshot]",
	Short: "Build the IR module from an assembly metadata snapshot",
	Long: `Build runs the full IR pipeline over a metadata snapshot produced by the
assembly reader and writes the finished module as JSON for the emitter.

Examples:
  # Compile a snapshot and dump the IR
  cil2cpp build app.metadata.json --dump-ir app.ir.json

  # Library mode: seed every public method instead of the entry point
  cil2cpp build lib.metadata.json --library

  # Use a configuration file
  cil2cpp build app.metadata.json --config cil2cpp.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&configFile, "config", "c", "cil2cpp.yaml", "configuration file")
	buildCmd.Flags().StringVar(&dumpIRFile, "dump-ir", "", "write the module IR as JSON to this file")
	buildCmd.Flags().BoolVar(&libraryMode, "library", false, "seed every public method (no entry point)")
	buildCmd.Flags().BoolVar(&forceLibrary, "force-library", false, "seed every method of every type")
	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "verbose output")
}

func runBuild(_ *cobra.Command, args []string) error {
	snapshotPath := args[0]

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if libraryMode {
		cfg.LibraryMode = true
	}
	if forceLibrary {
		cfg.ForceLibraryMode = true
	}
	if dumpIRFile != "" {
		cfg.DumpIR = dumpIRFile
	}

	set, err := cil.LoadSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if buildVerbose {
		fmt.Fprintf(os.Stderr, "Loaded %d assemblies (root %s)\n", len(set.Assemblies), set.Root)
	}

	b := builder.New(set, cfg)
	module := b.Build()

	if buildVerbose {
		methods := 0
		for _, t := range module.Types {
			methods += len(t.Methods)
		}
		fmt.Fprintf(os.Stderr, "Built %d types, %d methods, %d string literals\n",
			len(module.Types), methods, len(module.StringLiterals))
	}

	if cfg.DumpIR != "" {
		doc, err := ir.Dump(module)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfg.DumpIR, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("write IR dump: %w", err)
		}
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cil2cpp",
	Short: "Ahead-of-time .NET to C++ compiler",
	Long: `cil2cpp compiles .NET assemblies ahead of time into C++ programs.

The pipeline consumes an assembly metadata snapshot, computes the reachable
type and method sets, monomorphizes every closed generic, lays out flat C++
structs with vtables and interface-dispatch tables, and lowers every method
body into a typed intermediate representation consumed by the C++ emitter.`,
	Version: Version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(`{{with .Name}}{{printf "%%s " .}}{{end}}{{printf "version %%s" .Version}}
Commit: %s
Built:  %s
`, GitCommit, BuildDate))

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

func exitWithError(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}

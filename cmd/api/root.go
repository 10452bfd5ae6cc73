package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version di-set lewat ldflags saat build
var version = ""

func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// NewRootCmd creates the docguard command. Without a subcommand it serves the API.
func NewRootCmd() *cobra.Command {
	serve := NewServeCmd()
	cmd := &cobra.Command{
		Use:   "docguard",
		Short: "Multi-stage risk analysis for PDF documents",
		Long: `docguard fingerprints a PDF, runs structural, content, visual and
reputation checks against it, and asks a language model for a final risk score.
Results are stored per content fingerprint, so the same bytes are analysed once.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cmd.PersistentFlags().StringP("config", "c", path, "Path to the YAML config file")

	cmd.AddCommand(serve)
	cmd.AddCommand(NewAnalyzeCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	appanalysis "github.com/bryanwahyu/docguard/internal/application/analysis"
	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
	"github.com/bryanwahyu/docguard/internal/middleware"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file|url>",
		Short: "Analyse one document and print the result as JSON",
		Long: `Analyze runs the full pipeline for a local PDF or an http(s) URL, using the
same store as the API. A document analysed before is returned from the store.

Examples:
  docguard analyze ./invoice.pdf
  docguard analyze https://example.com/statement.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	req, err := cliRequest(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Analyze(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(appanalysis.ToExternalView(res.Record, res.Cached))
}

// cliRequest turns the argument into a request: URLs are validated, anything else is read from disk.
func cliRequest(arg string) (domain.Request, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		if err := middleware.ValidateURL(arg); err != nil {
			return domain.Request{}, err
		}
		return domain.Request{URL: arg}, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return domain.Request{}, eris.Wrapf(err, "read %s", arg)
	}
	return domain.Request{Content: b, Filename: filepath.Base(arg)}, nil
}

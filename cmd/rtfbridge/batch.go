package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Convert many files concurrently",
		Long: `Convert every named file into --out-dir. Files are processed concurrently on the
conversion engine; when the engine is saturated a file is retried with backoff.
A failing file is reported and the rest continue unless --fail-fast is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runBatch,
	}
	cmd.Flags().String("to", "", "target format (rtf or md); default flips RTF and Markdown, imports become Markdown")
	cmd.Flags().String("out-dir", ".", "directory for converted files")
	cmd.Flags().IntP("concurrency", "j", runtime.NumCPU(), "files converted at once")
	cmd.Flags().Bool("fail-fast", false, "stop at the first failure")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	to, _ := cmd.Flags().GetString("to")
	outDir, _ := cmd.Flags().GetString("out-dir")
	limit, _ := cmd.Flags().GetInt("concurrency")
	failFast, _ := cmd.Flags().GetBool("fail-fast")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	orch := newLocalOrchestrator(cmd.Context(), cfg, log)
	defer stopOrchestrator(orch, log)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(1, limit))

	var failed atomic.Int32
	for _, path := range args {
		g.Go(func() error {
			dest, err := convertOne(ctx, orch, path, to, outDir, cfg.PDFFallbackPdftotext)
			if err != nil {
				failed.Add(1)
				fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
				if failFast {
					return err
				}
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok   %s -> %s\n", path, dest)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(args))
	}
	return nil
}

// convertOne converts path into outDir and returns the written file. The
// engine already retries backpressure; a refusal that survives those
// retries gets one more round here after a pause.
func convertOne(ctx context.Context, orch *pipeline.Orchestrator, path, to, outDir string, pdfFallback bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	target, err := targetFor(path, to)
	if err != nil {
		return "", err
	}

	opts := pipeline.FileOptions{PDFFallbackPdftotext: pdfFallback}
	res, err := orch.ConvertFile(ctx, path, data, target, opts)
	for attempt := 0; err != nil && pipeline.IsRetryable(err) && attempt < pipeline.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pipeline.Backoff(attempt + pipeline.MaxRetries)):
		}
		res, err = orch.ConvertFile(ctx, path, data, target, opts)
	}
	if err != nil {
		return "", err
	}

	dest := filepath.Join(outDir, outputName(path, target))
	if err := os.WriteFile(dest, []byte(res.Output.Text), 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func outputName(path string, target convert.Format) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if target == convert.FormatRTF {
		return stem + ".rtf"
	}
	return stem + ".md"
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dgallion1/rtfbridge/internal/config"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/pipeline"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file|->",
		Short: "Convert one file",
		Long: `Convert a single file. RTF becomes Markdown and Markdown becomes RTF unless --to
says otherwise; TXT, CSV, HTML, DOCX and PDF are imported and written as --to
(Markdown by default). Use "-" with --from to read standard input.

Markdown written to a terminal is rendered for reading unless --raw is set.`,
		Args: cobra.ExactArgs(1),
		RunE: runConvert,
	}
	cmd.Flags().String("from", "", "source format when reading stdin (rtf or md)")
	cmd.Flags().String("to", "", "target format (rtf or md)")
	cmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	cmd.Flags().Bool("raw", false, "never render Markdown for the terminal")
	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name, data, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	to, _ := cmd.Flags().GetString("to")
	target, err := targetFor(name, to)
	if err != nil {
		return err
	}

	orch := newLocalOrchestrator(cmd.Context(), cfg, log)
	defer stopOrchestrator(orch, log)

	res, err := orch.ConvertFile(cmd.Context(), name, data, target, pipeline.FileOptions{
		PDFFallbackPdftotext: cfg.PDFFallbackPdftotext,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	reportIssues(cmd.ErrOrStderr(), name, res.Output.Report)

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		return os.WriteFile(path, []byte(res.Output.Text), 0o644)
	}
	raw, _ := cmd.Flags().GetBool("raw")
	text := res.Output.Text
	if target == convert.FormatMarkdown && !raw {
		if width, ok := terminalWidth(cmd.OutOrStdout()); ok {
			text = renderMarkdown(text, width, log)
		}
	}
	_, err = io.WriteString(cmd.OutOrStdout(), text)
	return err
}

// readSource returns a file name whose extension selects the source format,
// and the file's bytes.
func readSource(cmd *cobra.Command, arg string) (string, []byte, error) {
	if arg != "-" {
		data, err := os.ReadFile(arg)
		return arg, data, err
	}
	from, _ := cmd.Flags().GetString("from")
	f, err := convert.ParseFormat(from)
	if err != nil {
		return "", nil, fmt.Errorf("--from is required when reading stdin: %w", err)
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", nil, err
	}
	if f == convert.FormatRTF {
		return "stdin.rtf", data, nil
	}
	return "stdin.md", data, nil
}

// targetFor resolves --to, defaulting to the opposite of a native source
// and to Markdown for imported formats.
func targetFor(name, to string) (convert.Format, error) {
	if to != "" {
		return convert.ParseFormat(to)
	}
	if source, native := pipeline.NativeFormat(filepath.Ext(name)); native && source == convert.FormatMarkdown {
		return convert.FormatRTF, nil
	}
	return convert.FormatMarkdown, nil
}

func newLocalOrchestrator(ctx context.Context, cfg config.Config, log *slog.Logger) *pipeline.Orchestrator {
	conv := convert.New(cfg.ConvertOptions(), pool.NewManager(cfg.PoolSizes()))
	orch := pipeline.NewOrchestrator(pipeline.Options{Engine: cfg.EngineConfig(), JobTTL: cfg.JobTTL}, conv, log)
	orch.Start(ctx)
	return orch
}

func stopOrchestrator(orch *pipeline.Orchestrator, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Stop(ctx); err != nil {
		log.Warn("engine did not drain", "error", err)
	}
}

func reportIssues(w io.Writer, name string, r convert.Report) {
	if r.Repairs == 0 && len(r.Issues) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %d issue(s), %d repair(s)\n", name, len(r.Issues), r.Repairs)
}

func terminalWidth(w io.Writer) (int, bool) {
	if lw, ok := w.(*lockedWriter); ok {
		w = lw.w
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return width, true
}

func renderMarkdown(md string, width int, log *slog.Logger) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Debug("markdown renderer unavailable", "error", err)
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		log.Debug("markdown render failed", "error", err)
		return md
	}
	return out
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/docforge/binder"
	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/docgen"
	"github.com/liamcoop/docforge/importer"
	"github.com/liamcoop/docforge/render"
	"github.com/liamcoop/docforge/resolver"
)

type renderOptions struct {
	catalogDir   string
	templateCode string
	jurisdiction string
	language     string
	answersPath  string
	format       string
	output       string
	pageSize     string
	pdfURL       string
	pdfTimeout   time.Duration
	today        string
}

func newRenderCmd() *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a document from a catalog directory and an answers file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.catalogDir, "catalog", "c", "content", "Catalog directory")
	f.StringVarP(&opts.templateCode, "template", "t", "", "Template code")
	f.StringVarP(&opts.jurisdiction, "jurisdiction", "j", "", "Jurisdiction code, e.g. UK or US-CA")
	f.StringVarP(&opts.language, "language", "l", "en", "Language code")
	f.StringVarP(&opts.answersPath, "answers", "a", "", "Answers file (YAML or JSON)")
	f.StringVarP(&opts.format, "format", "f", "html", "Output format: html, docx or pdf")
	f.StringVarP(&opts.output, "out", "o", "", "Output file (default <template>.<format>, - for stdout)")
	f.StringVar(&opts.pageSize, "page-size", "", "PDF page size: A4 or Letter")
	f.StringVar(&opts.pdfURL, "pdf-url", os.Getenv("PDF_SERVICE_URL"), "Chromium conversion service URL")
	f.DurationVar(&opts.pdfTimeout, "pdf-timeout", render.DefaultPDFTimeout, "PDF conversion timeout")
	f.StringVar(&opts.today, "today", "", "Date used for computed defaults (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("jurisdiction")

	return cmd
}

func runRender(ctx context.Context, opts renderOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now
	if opts.today != "" {
		day, err := time.Parse(binder.ISODate, opts.today)
		if err != nil {
			return fmt.Errorf("invalid --today %q: %w", opts.today, err)
		}
		now = func() time.Time { return day }
	}

	answers := map[string]any{}
	if opts.answersPath != "" {
		var err error
		if answers, err = readAnswers(opts.answersPath); err != nil {
			return err
		}
	}

	conds, err := conditions.NewEngine()
	if err != nil {
		return err
	}
	store, err := loadCatalog(ctx, opts.catalogDir, conds)
	if err != nil {
		return err
	}

	var pdf render.PDFConverter
	if opts.pdfURL != "" {
		pdf = render.NewChromiumClient(opts.pdfURL, opts.pdfTimeout)
	}

	svc := docgen.New(resolver.New(store), conds, render.NewRenderer(pdf), docgen.WithClock(now))
	result, err := svc.Generate(ctx, docgen.Request{
		TemplateCode: opts.templateCode,
		Jurisdiction: opts.jurisdiction,
		Language:     opts.language,
		Answers:      answers,
		Format:       render.Format(opts.format),
		Options:      render.Options{PageSize: render.PageSize(opts.pageSize)},
	})
	if err != nil {
		printFieldErrors(stderr, err)
		return err
	}

	out := opts.output
	if out == "" {
		out = strings.ToLower(result.Document.TemplateCode) + "." + result.Format.Extension()
	}
	if out == "-" {
		_, err := stdout.Write(result.Bytes)
		return err
	}
	if err := os.WriteFile(out, result.Bytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(stderr, "wrote %s (%d sections, %d bytes)\n", out, len(result.Document.Sections), len(result.Bytes))
	return nil
}

// loadCatalog validates a catalog directory and loads it into memory.
func loadCatalog(ctx context.Context, dir string, conds *conditions.Engine) (*catalog.InMemoryStore, error) {
	bundle, err := catalog.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	store := catalog.NewInMemoryStore()
	if _, err := importer.New(store, conds, nil).Import(ctx, bundle); err != nil {
		return nil, err
	}
	return store, nil
}

func printFieldErrors(w io.Writer, err error) {
	e := docgen.Classify(err)
	for _, f := range e.Fields {
		fmt.Fprintf(w, "  %s: %s (%s)\n", f.Field, f.Message, f.Constraint)
	}
}

// readAnswers decodes a YAML or JSON answers file. YAML timestamps become
// ISO dates so they validate like JSON date strings.
func readAnswers(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}

	answers := map[string]any{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &answers); err != nil {
			return nil, fmt.Errorf("parse answers %s: %w", path, err)
		}
		return answers, nil
	}

	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", path, err)
	}
	for k, v := range answers {
		answers[k] = isoDates(v)
	}
	return answers, nil
}

func isoDates(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(binder.ISODate)
	case map[string]any:
		for k, inner := range t {
			t[k] = isoDates(inner)
		}
	case []any:
		for i, inner := range t {
			t[i] = isoDates(inner)
		}
	}
	return v
}

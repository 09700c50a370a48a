package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"qianfan-chat/internal/domain"
)

func runEmbed(ctx context.Context, args []string) error {
	var (
		configPath string
		asJSON     bool
	)
	fs := pflag.NewFlagSet("embed", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "config file path")
	fs.BoolVar(&asJSON, "json", false, "print vectors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	texts := fs.Args()
	if err := domain.ValidateEmbeddingBatch(texts); err != nil {
		return err
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	vectors, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	return printEmbeddings(os.Stdout, texts, vectors, asJSON)
}

func printEmbeddings(w io.Writer, texts []string, vectors [][]float32, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(vectors)
	}
	for i, v := range vectors {
		preview := v
		if len(preview) > 4 {
			preview = preview[:4]
		}
		fmt.Fprintf(w, "%d\t%q\tdims=%d\t%v...\n", i, texts[i], len(v), preview)
	}
	return nil
}

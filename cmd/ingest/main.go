package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/arturoeanton/go-pitwall-ollama/internal/bootstrap"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/logging"
	"github.com/arturoeanton/go-pitwall-ollama/internal/validator"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(cfg.LogFormat, cfg.LogLevel)

	dir := flag.String("dir", cfg.GoldenDir, "directory of golden *.json collections")
	wipe := flag.Bool("clear", false, "remove every indexed scenario before ingesting")
	validateOnly := flag.Bool("validate", false, "check the collections against the golden schema and exit")
	probe := flag.Bool("probe", true, "run a similarity search with the first scenario after ingesting")
	flag.Parse()

	files, err := filepath.Glob(filepath.Join(*dir, "*.json"))
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no collections found in %s\n", *dir)
		os.Exit(2)
	}
	sort.Strings(files)

	if bad := validateFiles(files); bad > 0 || *validateOnly {
		if bad > 0 {
			fmt.Fprintf(os.Stderr, "%d collection(s) failed schema validation\n", bad)
			os.Exit(1)
		}
		fmt.Printf("✅ %d collection(s) valid\n", len(files))
		return
	}

	if err := run(cfg, *dir, *wipe, *probe); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func validateFiles(files []string) int {
	bad := 0
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", f, err)
			bad++
			continue
		}
		violations, err := validator.ValidateCollectionJSON(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", f, err)
			bad++
			continue
		}
		if len(violations) > 0 {
			bad++
			fmt.Fprintf(os.Stderr, "❌ %s: %d violation(s)\n", filepath.Base(f), len(violations))
			for _, v := range violations {
				fmt.Fprintf(os.Stderr, "   - %s\n", v)
			}
		}
	}
	return bad
}

func run(cfg *config.Config, dir string, wipe, probe bool) error {
	ctx := context.Background()
	c, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if wipe {
		if err := c.Index.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		fmt.Println("🧹 index cleared")
	}

	n, err := c.Index.IngestDirectory(ctx, dir, func(file string, done, total, ingested int) {
		fmt.Printf("  [%d/%d] %s (%d scenarios so far)\n", done, total, filepath.Base(file), ingested)
	})
	if err != nil {
		return err
	}

	stats, err := c.Index.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ ingested %d scenarios\n", n)
	fmt.Printf("   total in index: %d\n", stats.TotalScenarios)
	fmt.Printf("   tracks:         %v\n", stats.Tracks)
	fmt.Printf("   embedding dim:  %d\n", stats.EmbeddingDim)

	if !probe {
		return nil
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	sort.Strings(files)
	coll, err := index.LoadCollection(files[0])
	if err != nil || len(coll.Scenarios) == 0 {
		return err
	}
	q := coll.Scenarios[0]
	hits, err := c.Index.Search(ctx, &q, 3, nil)
	if err != nil {
		return fmt.Errorf("probe search: %w", err)
	}
	fmt.Printf("\n🔎 probe: lap %d, %s tires at %d laps\n", q.Lap, q.Tires.Compound, q.Tires.AgeLaps)
	for i, h := range hits {
		fmt.Printf("  %d. %s  similarity %.3f  → %s\n", i+1, h.ID, h.Similarity, h.Label())
	}
	return nil
}

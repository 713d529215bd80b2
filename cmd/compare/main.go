package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/bootstrap"
	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/index"
	"github.com/arturoeanton/go-pitwall-ollama/internal/logging"
	"github.com/arturoeanton/go-pitwall-ollama/internal/service"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(cfg.LogFormat, cfg.LogLevel)

	dir := flag.String("dir", cfg.GoldenDir, "directory of golden *.json collections")
	jsonOut := flag.Bool("json", false, "print the full report as JSON")
	flag.Parse()

	if err := run(cfg, *dir, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, dir string, jsonOut bool) error {
	ctx := context.Background()
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no collections found in %s", dir)
	}
	sort.Strings(files)

	var collections []*domain.ScenarioCollection
	for _, f := range files {
		c, err := index.LoadCollection(f)
		if err != nil {
			return err
		}
		collections = append(collections, c)
	}

	c, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if stats, err := c.Index.Stats(ctx); err == nil && stats.TotalScenarios == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  index is empty: run cmd/ingest first or every rag call will fail")
	}

	report, err := service.NewEvaluationService(c.Engine, cfg.ReasonerTimeout+cfg.EncoderTimeout).Evaluate(ctx, collections)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func printReport(r *service.EvaluationReport) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("A/B TEST:", strings.Join(r.Strategies, " vs "))
	fmt.Println(line)

	for _, o := range r.Outcomes {
		fmt.Printf("  %-32.32s | golden %-8s", o.ID, o.Expected)
		for _, name := range r.Strategies {
			mark := "✗"
			if o.Decisions[name] == o.Expected {
				mark = "✓"
			}
			fmt.Printf(" | %s %s", name, mark)
		}
		fmt.Println()
	}

	fmt.Println("\n" + line)
	fmt.Println("FINAL RESULTS")
	fmt.Println(line)
	fmt.Printf("Total scenarios: %d (skipped %d unlabeled)\n\n", r.Scenarios, r.Skipped)
	for _, name := range r.Strategies {
		s := r.Scores[name]
		fmt.Printf("  %-8s %d/%d (%.1f%%)  failed %d\n", name, s.Correct, s.Total, s.Accuracy*100, s.Failed)
	}
	if best := r.Best(); best != "" {
		fmt.Printf("\n🏆 %s is most accurate\n", best)
	} else {
		fmt.Println("\n🤝 Tie!")
	}

	if len(r.Disagreements) == 0 {
		return
	}
	fmt.Printf("\n%s\nDISAGREEMENTS (%d scenarios)\n%s\n", line, len(r.Disagreements), line)
	for _, d := range r.Disagreements {
		fmt.Printf("\n%s (lap %d, %s):\n  golden: %s\n", d.ID, d.Lap, d.Track, d.Expected)
		for _, name := range r.Strategies {
			fmt.Printf("  %-8s %s (%.0f%%)\n", name+":", d.Decisions[name], d.Confidence[name]*100)
		}
	}
}

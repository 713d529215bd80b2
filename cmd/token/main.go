package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/middleware"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	id := flag.String("id", "", "operator id (token subject)")
	name := flag.String("name", "", "display name")
	role := flag.String("role", domain.RoleOperator, "operator or viewer")
	hours := flag.Int("hours", cfg.JWTExpiration, "token lifetime in hours")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: token --id strategist [--name 'Race Engineer'] [--role operator|viewer] [--hours 24]")
		os.Exit(2)
	}
	if *role != domain.RoleOperator && *role != domain.RoleViewer {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	tok, err := middleware.GenerateJWT(&domain.OperatorContext{ID: *id, Name: *name, Role: *role}, middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(*hours) * time.Hour,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (set JWT_SECRET)\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

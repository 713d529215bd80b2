package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/arturoeanton/go-pitwall-ollama/internal/adapter/sidecar"
	"github.com/arturoeanton/go-pitwall-ollama/internal/bootstrap"
	"github.com/arturoeanton/go-pitwall-ollama/internal/logging"
	"github.com/arturoeanton/go-pitwall-ollama/pkg/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(cfg.LogFormat, cfg.LogLevel)

	enc, err := bootstrap.OpenONNX(cfg)
	if err != nil {
		slog.Error("failed to load ONNX encoder", "model", cfg.ONNXModelPath, "error", err)
		os.Exit(1)
	}
	defer enc.Close()

	lis, err := net.Listen("tcp", cfg.SidecarListen)
	if err != nil {
		slog.Error("listen failed", "addr", cfg.SidecarListen, "error", err)
		os.Exit(1)
	}

	srv := sidecar.NewServer(enc, enc.Dimension()).GRPCServer()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down encoder sidecar")
		srv.GracefulStop()
	}()

	slog.Info("🧠 encoder sidecar listening", "addr", lis.Addr().String(), "model", enc.ModelName(), "dim", enc.Dimension())
	if err := srv.Serve(lis); err != nil {
		slog.Error("sidecar stopped", "error", err)
		os.Exit(1)
	}
}

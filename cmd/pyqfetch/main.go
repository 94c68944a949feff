package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"pyqfetch/cmd/pyqfetch/commands"
	"pyqfetch/internal/components/telemetry"
	"pyqfetch/lib/util/serviceutil"
)

func main() {
	telemetry.InitSlog(telemetry.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := serviceutil.SignalContext()
	defer stop()

	tel, err := telemetry.SetupFromEnv(ctx, "pyqfetch")
	if err != nil {
		slog.Warn("failed to set up telemetry export", "err", err)
	}

	err = commands.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}

	if err != nil {
		stop()
		cancel()
		os.Exit(1)
	}
}

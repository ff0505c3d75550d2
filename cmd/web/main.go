package main

import (
	"log/slog"
	"os"

	"portex/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("service exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

package main

import (
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	"smalitaint/internal/smalitaint/cmd"
	"smalitaint/internal/smalitaint/log"
)

// pprofAddr is used when SMALITAINT_PROFILE holds no address of its own.
const pprofAddr = "localhost:6060"

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("smalitaint terminated due to unhandled panic")
		os.Exit(2)
	})

	if addr := os.Getenv("SMALITAINT_PROFILE"); addr != "" {
		if addr == "1" || addr == "true" {
			addr = pprofAddr
		}
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Failed to pprof listen", "error", err)
			}
		}()
	}

	cmd.Execute()
}

// Command rest-api serves a demo shop API together with its OpenAPI
// document, a ready-made target for SmartAPI Connect:
//
//	go run ./example/rest-api
//	curl -o shop.json http://localhost:8181/openapi.json
//	smartapi run shop.json "Is the laptop stand in stock?"
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", ":8181", "Listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           NewShop().Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Demo shop API listening", "addr", *addr, "openapi", "/openapi.json")
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

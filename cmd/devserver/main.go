package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parentlink-client/internal/config"
	"parentlink-client/internal/devserver"
)

func main() {
	config.LoadConfig(".env")
	if config.Cfg == nil {
		log.Fatal("Error: Configuration not loaded.")
	}

	log.Println("ParentLink devserver starting...")
	log.Printf("Server will run on port: %s", config.Cfg.ServerPort)

	server := devserver.New(config.Cfg.JWTSecret, config.Cfg.TokenMaxAge)

	srv := &http.Server{
		Addr:    ":" + config.Cfg.ServerPort,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("Listening and serving HTTP on :%s", config.Cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down devserver...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Devserver exiting")
}

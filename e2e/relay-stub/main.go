// Command relay-stub serves an in-process socket.io room relay for local
// end-to-end runs of the console. It prints "READY <port>" once listening.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/auth"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling/relaytest"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	opts := relaytest.Options{
		AuthKey:    os.Getenv("RELAY_AUTH_KEY"),
		AuthSecret: os.Getenv("RELAY_AUTH_SECRET"),
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	if secret := os.Getenv("RELAY_JWT_SECRET"); secret != "" {
		opts.TokenVerifier = auth.NewJWTVerifier(secret)
	}

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           relaytest.New(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

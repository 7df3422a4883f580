package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/feedsync/internal/fakeapi"
	"github.com/matheus3301/feedsync/internal/gateway"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	secret := flag.String("jwt-secret", "", "require HS256 bearer tokens signed with this secret")
	issue := flag.String("issue-token", "", "print a token for this user id and exit (needs -jwt-secret)")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of issued tokens")
	seedOwner := flag.String("seed", "", "preload demo chats, posts and a story for this user id")
	flag.Parse()

	if *issue != "" {
		if *secret == "" {
			fmt.Fprintln(os.Stderr, "error: -issue-token needs -jwt-secret")
			os.Exit(1)
		}
		tok, err := gateway.SignToken([]byte(*secret), *issue, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	var opts []fakeapi.Option
	if *secret != "" {
		opts = append(opts, fakeapi.WithJWTSecret(*secret))
	}
	api := fakeapi.New(opts...)
	if *seedOwner != "" {
		seedDemo(api, *seedOwner, time.Now())
		logger.Info("seeded demo data", zap.String("owner", *seedOwner))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dev server listening", zap.String("addr", *addr), zap.Bool("auth", *secret != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("dev server stopped")
}

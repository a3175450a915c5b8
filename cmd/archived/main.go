package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nialab/neuropipe/cmd/archived/server"
	"github.com/nialab/neuropipe/pkg/archive/local"
	configs "github.com/nialab/neuropipe/pkg/configs/archive"
	"github.com/nialab/neuropipe/pkg/utils/try"
)

func main() {
	proot := flag.String("root", "", "directory projects are archived under (overrides --config)")
	pconfig := flag.String("config", "", "path to archive config file (kind: local)")
	pport := flag.Int("port", 8080, "port number where archived serves on")
	psecret := flag.String("secret", "", "HS256 secret verifying bearer tokens. empty disables auth")
	pissue := flag.String("issue-token-for", "", "mint a token for the given subject and exit")
	pttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of minted tokens")
	pgraceful := flag.Duration("graceful", 30*time.Second, "graceful period for shutdown")
	flag.Parse()

	logger := log.Default()

	if *pissue != "" {
		if *psecret == "" {
			logger.Fatal("--issue-token-for needs --secret")
		}
		token := try.To(server.IssueToken([]byte(*psecret), *pissue, *pttl)).OrFatal(logger)
		fmt.Println(token)
		return
	}

	root := *proot
	if root == "" {
		if *pconfig == "" {
			logger.Fatal("pass --root or --config")
		}
		cfg := try.To(configs.LoadArchiveConfig(*pconfig)).OrFatal(logger)
		if cfg.Kind != configs.Local {
			logger.Fatalf("archived serves local archives only, not kind '%s'", cfg.Kind)
		}
		root = cfg.Local.Root
	}

	arch := try.To(local.New(root, local.WithLogger(logger))).OrFatal(logger)

	opts := []server.Option{server.WithGracefulPeriod(*pgraceful)}
	if *psecret != "" {
		opts = append(opts, server.WithMiddleware(server.BearerAuth([]byte(*psecret))))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	s := server.Start(
		ctx,
		server.OnPort(*pport), server.Endpoints(arch),
		opts...,
	)
	logger.Printf("starting archived server on port %d, serving archive at %s", s.Port, root)

	select {
	case <-ctx.Done():
		logger.Println("server stops by interrupt signal")
	case err := <-s.ServerStop:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stops by error:\n%+v", err)
		} else {
			logger.Println("server stops...")
		}
		return
	}
	logger.Println("bye")
}

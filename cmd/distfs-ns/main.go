// Command distfs-ns runs the naming service daemon: the dual client/server
// listeners, the registration handshake state machine, and per-client
// request dispatch (spec.md §4.4, §4.5). Configuration is package-level
// flag.* vars parsed once in main, following cmd/minimega/main.go's
// f_base/f_port/f_degree pattern rather than a config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/nsserver"
)

var (
	f_clientAddr  = flag.String("client-addr", "127.0.0.1:8080", "address the naming service listens on for clients")
	f_serverAddr  = flag.String("server-addr", "127.0.0.1:8081", "address the naming service listens on for storage servers")
	f_backups     = flag.Int("backups", 1, "number of backup storage servers assigned per primary")
	f_cacheSize   = flag.Int("cache-size", 128, "resolution cache capacity")
	f_maxServers  = flag.Int("max-servers", 16, "maximum number of registered storage servers")
	f_maxClients  = flag.Int("max-clients", 256, "maximum number of connected clients")
	f_maxConnReq  = flag.Int("max-conn-req", 5, "reverse-dial retry attempts during server registration")
	f_connTimeout = flag.Duration("conn-timeout", 2*time.Second, "delay between reverse-dial retries")
	f_logPath     = flag.String("log-file", "NSlog.log", "path to the truncated, periodically flushed log file")
	f_logLevel    = flag.String("level", "info", "log level: debug, info, warn, error, fatal")
	f_color       = flag.Bool("color", false, "colorize stderr log output")
)

func main() {
	flag.Parse()

	level, err := minilog.ParseLevel(*f_logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flusher, err := minilog.Setup("NS", *f_logPath, level, *f_color)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flusher.Stop()

	cfg := nsserver.Config{
		BackupServers: *f_backups,
		MaxServers:    *f_maxServers,
		MaxClients:    *f_maxClients,
		CacheSize:     *f_cacheSize,
		MaxConnReq:    *f_maxConnReq,
		ConnTimeout:   *f_connTimeout,
	}
	srv := nsserver.New(cfg)

	clientLn, err := net.Listen("tcp", *f_clientAddr)
	if err != nil {
		minilog.Fatal("listen client-addr %s: %v", *f_clientAddr, err)
	}
	defer clientLn.Close()

	serverLn, err := net.Listen("tcp", *f_serverAddr)
	if err != nil {
		minilog.Fatal("listen server-addr %s: %v", *f_serverAddr, err)
	}
	defer serverLn.Close()

	minilog.Info("naming service listening: clients=%s servers=%s", *f_clientAddr, *f_serverAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		minilog.Info("shutting down")
		clientLn.Close()
		serverLn.Close()
		cancel()
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ServeClients(clientLn) })
	g.Go(func() error { return srv.ServeServers(serverLn) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		minilog.Error("serve: %v", err)
	}
}

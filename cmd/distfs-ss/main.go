// Command distfs-ss runs a storage server daemon: it scans its exported
// subtree, registers with a naming service, and serves client-direct
// READ/WRITE/INFO plus NS-forwarded RENAME (spec.md §4.6, §4.7).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/ssserver"
)

var (
	f_root        = flag.String("root", ".", "directory this storage server exports")
	f_nsAddr      = flag.String("ns", "127.0.0.1:8081", "naming service's server-facing address")
	f_clientAddr  = flag.String("client-addr", "127.0.0.1:0", "address this server listens on for clients")
	f_nsListen    = flag.String("ns-listen-addr", "127.0.0.1:0", "address this server listens on for the naming service's reverse connection")
	f_nsAllowList = flag.String("ns-allow", "", "comma-separated IPs allowed on the ns-facing port (default: the host of -ns)")
	f_logPath     = flag.String("log-file", "SSlog.log", "path to the truncated, periodically flushed log file")
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
	flusher, err := minilog.Setup("SS", *f_logPath, level, *f_color)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flusher.Stop()

	allowed, err := resolveAllowList(*f_nsAllowList, *f_nsAddr)
	if err != nil {
		minilog.Fatal("ns allow-list: %v", err)
	}

	srv, err := ssserver.New(*f_root, allowed)
	if err != nil {
		minilog.Fatal("scan root %s: %v", *f_root, err)
	}
	minilog.Info("exporting %s: %d paths", *f_root, len(srv.Trie.FlattenedPaths()))

	clientLn, err := net.Listen("tcp", *f_clientAddr)
	if err != nil {
		minilog.Fatal("listen client-addr %s: %v", *f_clientAddr, err)
	}
	defer clientLn.Close()

	nsLn, err := net.Listen("tcp", *f_nsListen)
	if err != nil {
		minilog.Fatal("listen ns-listen-addr %s: %v", *f_nsListen, err)
	}
	defer nsLn.Close()

	clientPort, err := portOf(clientLn.Addr())
	if err != nil {
		minilog.Fatal("client listener: %v", err)
	}
	nsPort, err := portOf(nsLn.Addr())
	if err != nil {
		minilog.Fatal("ns listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		minilog.Info("shutting down")
		clientLn.Close()
		nsLn.Close()
		cancel()
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ServeClients(clientLn) })
	g.Go(func() error { return srv.ServeNS(nsLn) })

	id, err := srv.Register(*f_nsAddr, clientPort, nsPort)
	if err != nil {
		minilog.Fatal("register with naming service %s: %v", *f_nsAddr, err)
	}
	minilog.Info("registered: id=%d client-addr=%s ns-listen-addr=%s", id, clientLn.Addr(), nsLn.Addr())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		minilog.Error("serve: %v", err)
	}
}

func portOf(addr net.Addr) (int, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// resolveAllowList builds the SS's NS-facing allow-list (spec.md §1: "no
// authentication of peers beyond an IP allow-list check at the SS for NS
// traffic"; SPEC_FULL §4 supplement: the original hard-codes a single
// trusted NS address, generalized here to a configurable list). An empty
// list falls back to the configured NS host alone.
func resolveAllowList(raw, nsAddr string) ([]net.IP, error) {
	if raw == "" {
		host, _, err := net.SplitHostPort(nsAddr)
		if err != nil {
			return nil, fmt.Errorf("parse -ns %q: %w", nsAddr, err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("ns host %q is not an IP literal", host)
		}
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		ip := net.ParseIP(tok)
		if ip == nil {
			return nil, fmt.Errorf("invalid -ns-allow entry %q", tok)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

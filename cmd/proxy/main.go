// Command proxy runs the forwarding HTTP proxy: CONNECT tunneling, plain
// HTTP forwarding, per-upstream-host throttling, and TTL response caching.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otero/throttleproxy/cache"
	"github.com/otero/throttleproxy/proxy"
	"github.com/otero/throttleproxy/storage"
	"github.com/otero/throttleproxy/throttle"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer closeBackend()

	c := cache.New(backend, cfg.cacheSize, time.Duration(cfg.cacheTTLSeconds)*time.Second)
	th := throttle.New(time.Duration(cfg.throttleDurationMS) * time.Millisecond)
	metrics := proxy.NewMetrics()
	handler := proxy.NewHandler(c, th, metrics)

	addr := net.JoinHostPort(cfg.ip, fmt.Sprintf("%d", cfg.port))
	server := proxy.NewServer(addr, handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logOperational("starting", map[string]any{"addr": addr, "throttle_ms": cfg.throttleDurationMS, "storage": cfg.storage})

	if err := server.ListenAndServe(ctx); err != nil {
		if _, ok := err.(*proxy.ConfigError); ok {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logOperational("stopped", map[string]any{"metrics": metrics.Snapshot()})
	return 0
}

type config struct {
	ip                 string
	port               int
	throttleDurationMS int

	storage     string
	storageRoot string
	storageDSN  string

	cacheSize       int
	cacheTTLSeconds int
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)

	var cfg config
	fs.StringVar(&cfg.ip, "ip", "127.0.0.1", "bind address")
	fs.StringVar(&cfg.ip, "i", "127.0.0.1", "bind address (shorthand)")
	fs.IntVar(&cfg.port, "port", 8989, "bind port")
	fs.IntVar(&cfg.port, "p", 8989, "bind port (shorthand)")
	fs.IntVar(&cfg.throttleDurationMS, "throttle-duration-ms", 500, "minimum interval between admissions to the same upstream")
	fs.IntVar(&cfg.throttleDurationMS, "t", 500, "minimum interval between admissions to the same upstream (shorthand)")

	fs.StringVar(&cfg.storage, "storage", "memory", "storage backend: memory|file|postgres")
	fs.StringVar(&cfg.storageRoot, "storage-root", "", "root directory for the file storage backend")
	fs.StringVar(&cfg.storageDSN, "storage-dsn", "", "connection string for the postgres storage backend")

	fs.IntVar(&cfg.cacheSize, "cache-size", 1024, "advisory cache capacity")
	fs.IntVar(&cfg.cacheSize, "s", 1024, "advisory cache capacity (shorthand)")
	fs.IntVar(&cfg.cacheTTLSeconds, "cache-ttl-seconds", 60, "cache entry time-to-live in seconds")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.port < 0 || cfg.port > 65535 {
		return config{}, fmt.Errorf("config error: port %d out of range", cfg.port)
	}
	if cfg.storage == "file" && cfg.storageRoot == "" {
		return config{}, fmt.Errorf("config error: --storage=file requires --storage-root")
	}
	if cfg.storage == "postgres" && cfg.storageDSN == "" {
		return config{}, fmt.Errorf("config error: --storage=postgres requires --storage-dsn")
	}

	return cfg, nil
}

func buildBackend(cfg config) (storage.Backend, func(), error) {
	noop := func() {}

	switch cfg.storage {
	case "", "memory":
		return storage.NewMemoryBackend(), noop, nil
	case "file":
		return storage.NewFileBackend(cfg.storageRoot), noop, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		backend, err := storage.NewPostgresBackend(ctx, cfg.storageDSN, "")
		if err != nil {
			return nil, noop, fmt.Errorf("config error: %w", err)
		}
		return backend, backend.Close, nil
	default:
		return nil, noop, fmt.Errorf("config error: unknown storage backend %q", cfg.storage)
	}
}

func logOperational(message string, fields map[string]any) {
	record := map[string]any{"message": message, "time": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range fields {
		record[k] = v
	}
	line, err := json.Marshal(record)
	if err != nil {
		fmt.Fprintln(os.Stdout, message)
		return
	}
	fmt.Fprintln(os.Stdout, string(line))
}

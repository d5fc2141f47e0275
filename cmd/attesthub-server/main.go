package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/scrtlabs/attest-hub/internal/hub"
	"github.com/scrtlabs/attest-hub/internal/logx"
	"github.com/scrtlabs/attest-hub/internal/parser"
	"github.com/scrtlabs/attest-hub/internal/server"
	"github.com/scrtlabs/attest-hub/internal/server/db"
	"github.com/scrtlabs/attest-hub/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or ATTESTHUB_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("attesthub-server"))
		fmt.Fprintf(os.Stderr, "Attestation hub server retrieves, parses and caches TDX attestation quotes from configured VMs.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_LISTEN_ADDR      Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_DB_PATH          SQLite database path (default: attesthub.db)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_ADMIN_TOKEN      Admin Bearer token for config writes (min 16 chars, optional)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CORS_ORIGINS     Comma-separated allowed CORS origins (default: none)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CACHE_TTL        Attestation cache TTL in seconds (default: 300)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CACHE_MAX_SIZE   Attestation cache capacity (default: 1000)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_REQUEST_TIMEOUT  Per-request timeout in seconds (default: 60)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_PEER_VMS         Two VM names for dual attestation (default: secretai,secretgpt)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_LOG_LEVEL        Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("attesthub-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	seeded, err := store.EnsureDefaults()
	if err != nil {
		log.Fatalf("seed default vm configs: %v", err)
	}
	if seeded {
		logx.Infof("seeded default vm configurations")
	}

	vms, err := hub.NewVMManager(store)
	if err != nil {
		log.Fatalf("load vm configs: %v", err)
	}

	h := hub.New(vms, parser.NewRegistry(), hub.NewQuoteSource(), hub.Options{
		CacheTTL:     cfg.CacheTTL,
		CacheMaxSize: cfg.CacheMaxSize,
		PeerVMs:      cfg.PeerVMs,
	})
	defer h.Close()

	r := server.NewRouter(h, cfg)
	logx.Infof("server config: cache_ttl=%s cache_max_size=%d peers=%s,%s",
		cfg.CacheTTL, cfg.CacheMaxSize, cfg.PeerVMs[0], cfg.PeerVMs[1])

	log.Printf("attesthub-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

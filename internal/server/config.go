package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	AdminToken     string
	CORSOrigins    []string
	CacheTTL       time.Duration
	CacheMaxSize   int
	RequestTimeout time.Duration
	PeerVMs        [2]string
}

// LoadConfig loads server configuration from environment variables.
func LoadConfig() (*Config, error) {
	listenAddr := os.Getenv("ATTESTHUB_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	dbPath := os.Getenv("ATTESTHUB_DB_PATH")
	if dbPath == "" {
		dbPath = "attesthub.db"
	}

	adminToken := os.Getenv("ATTESTHUB_ADMIN_TOKEN")
	if adminToken != "" && len(adminToken) < 16 {
		return nil, fmt.Errorf("ATTESTHUB_ADMIN_TOKEN must be at least 16 characters")
	}

	cacheTTL, err := envSeconds("ATTESTHUB_CACHE_TTL", 300)
	if err != nil {
		return nil, err
	}

	cacheMaxSize := 1000
	if v := os.Getenv("ATTESTHUB_CACHE_MAX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("ATTESTHUB_CACHE_MAX_SIZE must be a positive integer")
		}
		cacheMaxSize = n
	}

	requestTimeout, err := envSeconds("ATTESTHUB_REQUEST_TIMEOUT", 60)
	if err != nil {
		return nil, err
	}

	peers := [2]string{"secretai", "secretgpt"}
	if v := os.Getenv("ATTESTHUB_PEER_VMS"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("ATTESTHUB_PEER_VMS must name exactly two VMs, comma-separated")
		}
		peers = [2]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}
	}

	var corsOrigins []string
	if v := os.Getenv("ATTESTHUB_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		ListenAddr:     listenAddr,
		DBPath:         dbPath,
		AdminToken:     adminToken,
		CORSOrigins:    corsOrigins,
		CacheTTL:       cacheTTL,
		CacheMaxSize:   cacheMaxSize,
		RequestTimeout: requestTimeout,
		PeerVMs:        peers,
	}, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}

package db

import (
	"database/sql"
	"fmt"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/parser"
)

// GetVMConfig retrieves the configuration for one VM. Returns nil when the
// VM is not configured.
func (s *Store) GetVMConfig(name string) (*attest.VMConfig, error) {
	cfg := &attest.VMConfig{}
	var tlsVerify int
	err := s.db.QueryRow(
		`SELECT endpoint, type, parsing_strategy, fallback_strategy,
		        timeout_seconds, retry_attempts, tls_verify, health_check_path
		 FROM vm_configs WHERE name = ?`, name,
	).Scan(&cfg.Endpoint, &cfg.Type, &cfg.ParsingStrategy, &cfg.FallbackStrategy,
		&cfg.Timeout, &cfg.RetryAttempts, &tlsVerify, &cfg.HealthCheckPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vm config: %w", err)
	}
	cfg.TLSVerify = tlsVerify != 0
	return cfg, nil
}

// ListVMConfigs returns every persisted VM configuration keyed by VM name.
func (s *Store) ListVMConfigs() (map[string]attest.VMConfig, error) {
	rows, err := s.db.Query(
		`SELECT name, endpoint, type, parsing_strategy, fallback_strategy,
		        timeout_seconds, retry_attempts, tls_verify, health_check_path
		 FROM vm_configs ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list vm configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]attest.VMConfig)
	for rows.Next() {
		var (
			name      string
			cfg       attest.VMConfig
			tlsVerify int
		)
		if err := rows.Scan(&name, &cfg.Endpoint, &cfg.Type, &cfg.ParsingStrategy,
			&cfg.FallbackStrategy, &cfg.Timeout, &cfg.RetryAttempts, &tlsVerify,
			&cfg.HealthCheckPath); err != nil {
			return nil, fmt.Errorf("scan vm config: %w", err)
		}
		cfg.TLSVerify = tlsVerify != 0
		configs[name] = cfg
	}
	return configs, rows.Err()
}

// UpsertVMConfig inserts or replaces a VM configuration.
func (s *Store) UpsertVMConfig(name string, cfg attest.VMConfig) error {
	tlsVerify := 0
	if cfg.TLSVerify {
		tlsVerify = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO vm_configs
			(name, endpoint, type, parsing_strategy, fallback_strategy,
			 timeout_seconds, retry_attempts, tls_verify, health_check_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			endpoint = excluded.endpoint,
			type = excluded.type,
			parsing_strategy = excluded.parsing_strategy,
			fallback_strategy = excluded.fallback_strategy,
			timeout_seconds = excluded.timeout_seconds,
			retry_attempts = excluded.retry_attempts,
			tls_verify = excluded.tls_verify,
			health_check_path = excluded.health_check_path,
			updated_at = CURRENT_TIMESTAMP`,
		name, cfg.Endpoint, cfg.Type, cfg.ParsingStrategy, cfg.FallbackStrategy,
		cfg.Timeout, cfg.RetryAttempts, tlsVerify, cfg.HealthCheckPath,
	)
	if err != nil {
		return fmt.Errorf("upsert vm config: %w", err)
	}
	return nil
}

// EnsureDefaults synthesizes the default two-peer configuration when no VMs
// are configured, and persists it. Returns true when defaults were written.
func (s *Store) EnsureDefaults() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vm_configs`).Scan(&count); err != nil {
		return false, fmt.Errorf("count vm configs: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	defaults := map[string]attest.VMConfig{
		"secretai": {
			Endpoint:         "https://secretai.scrtlabs.com:29343",
			Type:             "secret-ai",
			ParsingStrategy:  parser.StrategyRestServer,
			FallbackStrategy: parser.StrategyHardcoded,
		},
		"secretgpt": {
			Endpoint:         "https://localhost:29343",
			Type:             "secret-gpt",
			ParsingStrategy:  parser.StrategyRestServer,
			FallbackStrategy: parser.StrategyHardcoded,
		},
	}
	for name, cfg := range defaults {
		cfg.Normalize()
		if err := s.UpsertVMConfig(name, cfg); err != nil {
			return false, err
		}
	}
	return true, nil
}

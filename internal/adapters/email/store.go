package email

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const globalModule = "global"

// ConfigStore is the Postgres-backed ConfigLoader and AttemptLogger: it
// holds per-module SMTP configuration with a Global row as fallback, and
// persists every send attempt for audit.
type ConfigStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewConfigStore(db *sql.DB, logger *zap.Logger) *ConfigStore {
	return &ConfigStore{db: db, logger: logger}
}

func (s *ConfigStore) MainConfig(ctx context.Context, module string) (*TransportConfig, error) {
	return s.loadTransport(ctx, module, false)
}

func (s *ConfigStore) BackupConfig(ctx context.Context, module string) (*TransportConfig, error) {
	return s.loadTransport(ctx, module, true)
}

func (s *ConfigStore) loadTransport(ctx context.Context, module string, backup bool) (*TransportConfig, error) {
	cfg, err := s.queryTransport(ctx, module, backup)
	if err == nil {
		return cfg, nil
	}
	if module == globalModule {
		return nil, err
	}
	return s.queryTransport(ctx, globalModule, backup)
}

func (s *ConfigStore) queryTransport(ctx context.Context, module string, backup bool) (*TransportConfig, error) {
	query := `SELECT host, port, username, password, from_address
		FROM email_transports WHERE module = $1 AND is_backup = $2`

	var cfg TransportConfig
	err := s.db.QueryRowContext(ctx, query, module, backup).Scan(
		&cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password, &cfg.From)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no transport configured for module %s (backup=%v)", module, backup)
	}
	if err != nil {
		return nil, fmt.Errorf("load transport: %w", err)
	}
	return &cfg, nil
}

func (s *ConfigStore) LogAttempt(ctx context.Context, module string, msg Message, result *SendResult, sendErr error) {
	var resultJSON []byte
	var errMsg *string
	success := sendErr == nil

	if result != nil {
		resultJSON, _ = json.Marshal(result)
	}
	if sendErr != nil {
		m := sendErr.Error()
		errMsg = &m
	}

	query := `INSERT INTO email_attempts (module, recipient, subject, success, result, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, query, module, msg.To, msg.Subject, success, resultJSON, errMsg, time.Now().UTC()); err != nil {
		s.logger.Error("failed to log email attempt", zap.String("module", module), zap.Error(err))
	}
}

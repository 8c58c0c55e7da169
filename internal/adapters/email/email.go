// Package email implements the Email Adapter (C8): a primary/backup SMTP
// pair with health probing and failover. There is no SMTP client library
// anywhere in the pack this was grounded on, so transport construction
// and sending are built directly on stdlib net/smtp — see the module's
// design notes for the justification.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransportConfig describes one SMTP endpoint.
type TransportConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c TransportConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Message is the producer-facing send request.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Module  string
}

// SendResult is returned on delivery, mirroring {messageId, response,
// usedBackup} from §4.6.
type SendResult struct {
	MessageID  string `json:"messageId"`
	Response   string `json:"response"`
	UsedBackup bool   `json:"usedBackup"`
}

// ConfigLoader resolves per-module SMTP configuration, falling back to a
// Global config when the module has none of its own.
type ConfigLoader interface {
	MainConfig(ctx context.Context, module string) (*TransportConfig, error)
	BackupConfig(ctx context.Context, module string) (*TransportConfig, error)
}

// AdminNotifier sends a one-shot alert when the adapter fails over or
// recovers. It is itself backed by the Adapter's backup transport.
type AdminNotifier interface {
	NotifyFailover(ctx context.Context, module string, mainErr error)
	NotifyRecovery(ctx context.Context, module string)
}

// AttemptLogger persists every send attempt, successful or not.
type AttemptLogger interface {
	LogAttempt(ctx context.Context, module string, msg Message, result *SendResult, err error)
}

// Adapter holds the two SMTP transports and the failover flag described
// in §4.6. It is safe for concurrent use; useBackup is single-process
// mutable state and, per the concurrency model, last-writer-wins under
// concurrent sends is an accepted race since the flag is advisory.
type Adapter struct {
	mu sync.Mutex

	module        string
	main          *TransportConfig
	backup        *TransportConfig
	useBackup     bool
	failoverOn    bool
	notifyEnabled bool

	loader   ConfigLoader
	notifier AdminNotifier
	logger   AttemptLogger
	zlog     *zap.Logger

	dial func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewAdapter(loader ConfigLoader, notifier AdminNotifier, logger AttemptLogger, zlog *zap.Logger, failoverOn, notifyEnabled bool) *Adapter {
	return &Adapter{
		loader:        loader,
		notifier:      notifier,
		logger:        logger,
		zlog:          zlog,
		failoverOn:    failoverOn,
		notifyEnabled: notifyEnabled,
		dial:          sendMail,
	}
}

// Init loads the main and, if failover is enabled, the backup transport
// for module, falling back to Global config when the module has none.
// If main fails to build but failover is enabled, the adapter serves
// exclusively from backup.
func (a *Adapter) Init(ctx context.Context, module string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	main, mainErr := a.loader.MainConfig(ctx, module)

	var backup *TransportConfig
	if a.failoverOn {
		backup, _ = a.loader.BackupConfig(ctx, module)
	}

	a.module = module
	a.main = main
	a.backup = backup
	a.useBackup = mainErr != nil && backup != nil

	if mainErr != nil && backup == nil {
		return fmt.Errorf("no usable transport for module %s: %w", module, mainErr)
	}
	return nil
}

// Send delivers msg, failing over to backup on a main-transport error
// when failover is enabled and a backup is configured.
func (a *Adapter) Send(ctx context.Context, msg Message) (*SendResult, error) {
	a.mu.Lock()
	if msg.Module != "" && msg.Module != a.module {
		a.mu.Unlock()
		if err := a.Init(ctx, msg.Module); err != nil {
			return nil, err
		}
		a.mu.Lock()
	}
	main, backup, useBackup, failoverOn, notifyEnabled := a.main, a.backup, a.useBackup, a.failoverOn, a.notifyEnabled
	a.mu.Unlock()

	if main == nil && backup == nil {
		err := fmt.Errorf("no transport available for module %s", a.module)
		a.logger.LogAttempt(ctx, a.module, msg, nil, err)
		return nil, err
	}

	active, usingBackup := main, false
	if useBackup || main == nil {
		active, usingBackup = backup, true
	}

	result, err := a.deliver(ctx, active, msg)
	if err == nil {
		result.UsedBackup = usingBackup
		a.logger.LogAttempt(ctx, a.module, msg, result, nil)
		return result, nil
	}

	if usingBackup || !failoverOn || backup == nil {
		a.logger.LogAttempt(ctx, a.module, msg, nil, err)
		return nil, fmt.Errorf("delivery failed: %w", err)
	}

	a.zlog.Warn("main SMTP transport failed, failing over to backup", zap.String("module", a.module), zap.Error(err))
	a.mu.Lock()
	a.useBackup = true
	a.mu.Unlock()

	if notifyEnabled {
		a.notifier.NotifyFailover(ctx, a.module, err)
	}

	backupResult, backupErr := a.deliver(ctx, backup, msg)
	if backupErr != nil {
		combined := fmt.Errorf("main failed (%v) and backup failed (%w)", err, backupErr)
		a.logger.LogAttempt(ctx, a.module, msg, nil, combined)
		return nil, combined
	}

	backupResult.UsedBackup = true
	a.logger.LogAttempt(ctx, a.module, msg, backupResult, nil)
	return backupResult, nil
}

// HealthProbe is invoked from the worker runtime when the adapter is
// degraded (useBackup == true). If main now succeeds, it clears
// useBackup and optionally notifies the admin of recovery.
func (a *Adapter) HealthProbe(ctx context.Context) error {
	a.mu.Lock()
	main, wasDegraded, notifyEnabled := a.main, a.useBackup, a.notifyEnabled
	a.mu.Unlock()

	if main == nil || !wasDegraded {
		return nil
	}

	if err := a.probe(ctx, main); err != nil {
		return err
	}

	a.mu.Lock()
	a.useBackup = false
	a.mu.Unlock()

	if notifyEnabled {
		a.notifier.NotifyRecovery(ctx, a.module)
	}
	return nil
}

func (a *Adapter) probe(ctx context.Context, cfg *TransportConfig) error {
	c, err := smtp.Dial(cfg.addr())
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Noop()
}

func (a *Adapter) deliver(ctx context.Context, cfg *TransportConfig, msg Message) (*SendResult, error) {
	body := buildMIME(cfg.From, msg)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	if err := a.dial(cfg.addr(), auth, cfg.From, []string{msg.To}, body); err != nil {
		return nil, err
	}

	return &SendResult{
		MessageID: fmt.Sprintf("%s-%d", cfg.Host, time.Now().UnixNano()),
		Response:  "250 message accepted",
	}, nil
}

func sendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

func buildMIME(from string, msg Message) []byte {
	var buf bytes.Buffer
	contentType := "text/plain; charset=UTF-8"
	body := msg.Text
	if msg.HTML != "" {
		contentType = "text/html; charset=UTF-8"
		body = msg.HTML
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
	buf.WriteString(body)
	return buf.Bytes()
}

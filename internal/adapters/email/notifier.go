package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AdminAlerter sends the admin notifications §4.6 describes, reusing the
// same Adapter it alerts about (via its backup transport, once failed
// over) rather than a separate channel.
type AdminAlerter struct {
	adapter   *Adapter
	adminAddr string
	logger    *zap.Logger
}

func NewAdminAlerter(adapter *Adapter, adminAddr string, logger *zap.Logger) *AdminAlerter {
	return &AdminAlerter{adapter: adapter, adminAddr: adminAddr, logger: logger}
}

func (n *AdminAlerter) NotifyFailover(ctx context.Context, module string, mainErr error) {
	if n.adminAddr == "" {
		return
	}
	msg := Message{
		To:      n.adminAddr,
		Subject: fmt.Sprintf("email adapter failover: %s", module),
		Text:    fmt.Sprintf("module %s switched to backup transport: %v", module, mainErr),
	}
	if _, err := n.adapter.deliver(ctx, n.adapter.backup, msg); err != nil {
		n.logger.Warn("failover alert itself failed to send", zap.String("module", module), zap.Error(err))
	}
}

func (n *AdminAlerter) NotifyRecovery(ctx context.Context, module string) {
	if n.adminAddr == "" {
		return
	}
	msg := Message{
		To:      n.adminAddr,
		Subject: fmt.Sprintf("email adapter recovered: %s", module),
		Text:    fmt.Sprintf("module %s main transport is healthy again", module),
	}
	if _, err := n.adapter.deliver(ctx, n.adapter.main, msg); err != nil {
		n.logger.Warn("recovery alert failed to send", zap.String("module", module), zap.Error(err))
	}
}

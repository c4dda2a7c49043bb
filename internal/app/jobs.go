package app

import (
	"context"
	"fmt"

	"github.com/microlink/wabridge/internal/messenger"
	"go.uber.org/zap"
)

// StartBackgroundJobs schedules recurring maintenance tasks and starts the
// scheduler. The session audit reconciles stored session state against live
// connections so crashed or leaked sessions converge back to disconnected.
func (a *Application) StartBackgroundJobs(ctx context.Context, svc *messenger.Service) error {
	interval := a.appConfig.Messenger.AuditInterval
	if interval <= 0 {
		interval = 60
	}
	spec := fmt.Sprintf("@every %ds", interval)
	_, err := a.sched.AddFunc(spec, func() {
		svc.AuditSessions(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule session audit: %w", err)
	}
	a.sched.Start()
	zap.L().Info("background jobs started", zap.String("audit_spec", spec))
	return nil
}

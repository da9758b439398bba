package app

import (
	"context"
	"errors"

	"price-history-backfill/internal/alerting"
	"price-history-backfill/internal/checkpoint"
)

// NotifyCheckpoint 读取一个 checkpoint 并通过已配置的通道推送其摘要。
func (a *App) NotifyCheckpoint(ctx context.Context, path string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何通知通道")
	}

	rec, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	note := alerting.Notification{
		RunID:          checkpointRunID(path),
		Processed:      len(rec.ProcessedProducts),
		Failed:         len(rec.FailedProducts),
		TotalInserted:  rec.Stats.TotalInserted,
		TotalFailed:    rec.Stats.TotalFailed,
		TotalSkipped:   rec.Stats.TotalSkipped,
		CheckpointPath: path,
		Channels:       a.Config.Alerting.Channels,
		AdditionalMsg:  "(resent from checkpoint)",
	}
	return notifier.Notify(ctx, note)
}

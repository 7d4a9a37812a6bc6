package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/minhnh/ordersync/internal/archive"
	"github.com/minhnh/ordersync/internal/metrics"
	"github.com/minhnh/ordersync/internal/report"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/sirupsen/logrus"
)

// Notifier periodically sweeps the unknown-code registry, mails a report of
// unnotified codes, and flips their email_sent flag. A failed send leaves
// the rows unnotified so the next sweep picks them up again.
type Notifier struct {
	store      *storage.Store
	mailer     Mailer
	uploader   *archive.Uploader // optional report archive
	recipients []string
	interval   time.Duration
}

// NewNotifier creates a notifier. uploader may be nil when archiving is not
// configured.
func NewNotifier(store *storage.Store, mailer Mailer, uploader *archive.Uploader, recipients []string, interval time.Duration) *Notifier {
	return &Notifier{
		store:      store,
		mailer:     mailer,
		uploader:   uploader,
		recipients: recipients,
		interval:   interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	logrus.WithField("interval", n.interval).Info("Starting unknown-code notifier")

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Unknown-code notifier stopped")
			return
		case <-ticker.C:
			if err := n.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("Notification sweep failed")
			}
		}
	}
}

// Sweep sends one notification covering all currently unnotified codes.
// Nothing is sent when the registry has no pending rows.
func (n *Notifier) Sweep(ctx context.Context) error {
	codes, err := n.store.ListUnnotifiedCodes(ctx)
	if err != nil {
		return fmt.Errorf("list unnotified codes: %w", err)
	}
	if len(codes) == 0 {
		return nil
	}

	now := time.Now()
	workbook, err := report.BuildUnknownCodes(codes)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	filename := report.Filename(now)

	if n.uploader != nil {
		if err := n.uploader.UploadReport(ctx, filename, workbook); err != nil {
			// Archiving is best effort; the notification still goes out.
			logrus.WithError(err).Warn("Failed to archive notification report")
		}
	}

	if err := n.mailer.SendReport(reportSubject(now), reportBody(now, len(codes)), filename, workbook, n.recipients); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	if err := n.store.MarkCodesNotified(ctx, codes); err != nil {
		return fmt.Errorf("mark codes notified: %w", err)
	}

	metrics.NotificationsSent.Inc()
	logrus.WithField("code_count", len(codes)).Info("Sent unknown-code notification")
	return nil
}

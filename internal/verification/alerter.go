package verification

import (
	"context"
	"fmt"

	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
)

// OperatorAlerter tells operators about documents the pipeline gave up on.
// Such documents stay in processing until someone requeues them.
type OperatorAlerter struct {
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewOperatorAlerter creates an alerter delivering through n.
func NewOperatorAlerter(n notify.Notifier, logger *zap.Logger) *OperatorAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "alerts"))
	return &OperatorAlerter{notifier: notify.Safe(n, logger), logger: logger}
}

// JobExhausted is called once a job has used up every delivery attempt.
func (a *OperatorAlerter) JobExhausted(ctx context.Context, job types.ProcessingJob, cause error) {
	a.logger.Error("job exhausted retries; document left in processing",
		zap.String("document_id", job.DocumentID.String()),
		zap.String("owner_id", job.OwnerID.String()),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause))

	_ = a.notifier.Notify(context.WithoutCancel(ctx), notify.Notification{
		Audience: notify.AudienceOperators,
		Kind:     KindJobExhausted,
		Priority: notify.PriorityHigh,
		Message: fmt.Sprintf("Verification of %s document %s failed after %d attempts (%v). Requeue it with `verify_agent requeue %s` once the cause is fixed.",
			job.Kind, job.DocumentID, job.Attempt, cause, job.DocumentID),
		DocumentID: job.DocumentID,
	})
}

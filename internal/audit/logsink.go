package audit

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/shieldgate/authcore/internal/models"
)

// LogxSink writes events as structured log lines via core/logx, the
// teacher's logging library of choice throughout domain/auth and
// shared/repository. It is the default Sink for deployments that ship
// audit events onward through the existing log pipeline rather than a
// dedicated event store.
type LogxSink struct{}

// Write implements Sink.
func (LogxSink) Write(ctx context.Context, event models.AuthEvent) {
	fields := []logx.LogField{
		logx.Field("event_id", event.ID),
		logx.Field("type", string(event.Type)),
		logx.Field("outcome", event.Outcome),
		logx.Field("correlation_id", event.CorrelationID),
		logx.Field("critical", event.Critical),
	}
	if event.ActorUserID != nil {
		fields = append(fields, logx.Field("actor_user_id", event.ActorUserID.String()))
	}
	if event.DeviceID != nil {
		fields = append(fields, logx.Field("device_id", event.DeviceID.String()))
	}
	for k, v := range event.Details {
		fields = append(fields, logx.Field(k, v))
	}

	if IsCritical(event) {
		logx.Alert(event.Outcome)
	}
	logx.WithContext(ctx).Infow(string(event.Type), fields...)
}

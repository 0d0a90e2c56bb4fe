package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mentorship-chat/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "mentorship-chat", "test", zap.NewNop())

	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	emitter.Emit(context.Background(), AuditRecord{Level: "INFO", Text: "message sent", RequestID: "req-1", UserID: "u1", ConnectionID: "c1"})

	pub.AssertExpectations(t)
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "audit_log", got.EventType)
	assert.Equal(t, "mentorship-chat", got.Service)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "c1", got.ConnectionID)
	assert.Equal(t, AuditPayload{Level: "INFO", Text: "message sent"}, got.Payload)
	assert.NotEmpty(t, got.OccurredAt)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "svc", "test", zap.NewNop())
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() { emitter.Emit(context.Background(), AuditRecord{Level: "ERROR", Text: "boom"}) })
	pub.AssertExpectations(t)
}

func TestEmitOnNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() { emitter.Emit(context.Background(), AuditRecord{Text: "ignored"}) })
}

func TestInitTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "svc", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

package shared

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_RestoresConcreteType(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	orig := NewGraceConsumedEvent("u1", MustParseDate("2026-03-04"), at)

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	got, err := DecodeEvent(EventGraceConsumed, raw)
	require.NoError(t, err)

	e, ok := got.(GraceConsumedEvent)
	require.True(t, ok, "decoded as value type")
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, MustParseDate("2026-03-04"), e.Date)
	assert.True(t, at.Equal(e.OccurredAt()))
	assert.Equal(t, "u1", e.AggregateID())
}

func TestDecodeEvent_UnknownType(t *testing.T) {
	_, err := DecodeEvent("nope", []byte(`{}`))
	assert.True(t, IsValidation(err))
}

type countingPublisher struct {
	n   int
	err error
}

func (p *countingPublisher) Publish(Event) error {
	p.n++
	return p.err
}

func TestPublishAll_AttemptsEveryEvent(t *testing.T) {
	at := time.Now()
	events := []Event{
		NewGraceResetEvent(1, at),
		NewGraceResetEvent(2, at),
	}

	p := &countingPublisher{err: errors.New("down")}
	assert.Error(t, PublishAll(p, events))
	assert.Equal(t, 2, p.n)

	assert.NoError(t, PublishAll(nil, events))
}

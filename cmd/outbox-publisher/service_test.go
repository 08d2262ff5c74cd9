package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/config"
	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	"github.com/novamart/novamart-backend/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (r *fakeRepo) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, event := range r.events {
		if event.PublishedAt == nil {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	for i := range r.events {
		if r.events[i].ID == id {
			now := r.events[i].CreatedAt
			r.events[i].PublishedAt = &now
		}
	}
	return nil
}

func (r *fakeRepo) MarkFailed(id uuid.UUID, _ error) error {
	r.failed = append(r.failed, id)
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].AttemptCount++
			// keep unpublished but stop the test loop refetching it
			now := r.events[i].CreatedAt
			r.events[i].PublishedAt = &now
		}
	}
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-id", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	failFor  map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if err, ok := p.failFor[msg.Attributes["event_id"]]; ok {
		return fakeResult{err: err}
	}
	return fakeResult{}
}

func testOutboxEvent(eventType enums.OutboxEventType) models.OutboxEvent {
	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, pub *fakePublisher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: config.OutboxConfig{BatchSize: 10}},
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	t.Parallel()

	first := testOutboxEvent(enums.EventOrderCreated)
	second := testOutboxEvent(enums.EventPaymentCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report work done")
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 messages published got %d", len(pub.messages))
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected 2 events marked published got %d", len(repo.published))
	}
	if got := pub.messages[0].Attributes["event_type"]; got != string(first.EventType) {
		t.Fatalf("event_type attribute = %q", got)
	}
	if string(pub.messages[0].Data) != string(first.Payload) {
		t.Fatal("payload should pass through unchanged")
	}
}

func TestProcessBatchFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	bad := testOutboxEvent(enums.EventOrderCreated)
	good := testOutboxEvent(enums.EventRefundCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{bad, good}}
	pub := &fakePublisher{failFor: map[string]error{
		bad.ID.String(): errors.New("topic unavailable"),
	}}
	svc := newTestService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report work done")
	}
	if len(repo.failed) != 1 || repo.failed[0] != bad.ID {
		t.Fatalf("expected the failed event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != good.ID {
		t.Fatalf("expected the good event marked published, got %v", repo.published)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeRepo{}, &fakePublisher{})
	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("expected no work reported on empty outbox")
	}
}

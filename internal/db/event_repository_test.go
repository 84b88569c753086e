package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tablelift/cadence/internal/models"
)

func TestEventRepository_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewEventRepository(db)
	ctx := context.Background()

	payload, _ := json.Marshal(models.SequenceStartedPayload{TemplateID: "tpl-1", TotalSteps: 3})
	event := &models.Event{
		Type:       models.EventTypeSequenceStarted,
		EntityType: models.EntityTypeInstance,
		EntityID:   "inst-1",
		Payload:    payload,
		Metadata:   map[string]string{"source": "test"},
	}
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, &models.Event{
		Type:       models.EventTypeSequenceCompleted,
		EntityType: models.EntityTypeInstance,
		EntityID:   "inst-1",
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	listed, err := repo.ListByEntity(ctx, models.EntityTypeInstance, "inst-1", 0)
	if err != nil {
		t.Fatalf("ListByEntity failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(listed))
	}
	if listed[0].Type != models.EventTypeSequenceStarted {
		t.Errorf("expected started event first, got %s", listed[0].Type)
	}
	if listed[0].Metadata["source"] != "test" {
		t.Errorf("metadata lost: %v", listed[0].Metadata)
	}

	var decoded models.SequenceStartedPayload
	if err := json.Unmarshal(listed[0].Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.TotalSteps != 3 {
		t.Errorf("expected 3 total steps in payload, got %d", decoded.TotalSteps)
	}
}

func TestEventRepository_RejectsIncompleteEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewEventRepository(db)
	err := repo.Create(context.Background(), &models.Event{Type: models.EventTypeWarning})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestRestaurantRepository_PainpointsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRestaurantRepository(db)
	rest := createTestRestaurant(t, db)

	retrieved, err := repo.Get(context.Background(), testOrg, rest.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(retrieved.Painpoints) != 1 {
		t.Fatalf("expected 1 painpoint, got %d", len(retrieved.Painpoints))
	}
	if retrieved.Painpoints[0].Type != string(models.PainpointNoWebsite) {
		t.Errorf("unexpected painpoint type %q", retrieved.Painpoints[0].Type)
	}
}

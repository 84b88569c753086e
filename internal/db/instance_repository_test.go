package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/tablelift/cadence/internal/models"
)

func TestInstanceRepository_OneLivePerTemplateAndRestaurant(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewInstanceRepository(db)
	tmpl := createTestTemplate(t, db, 2)
	rest := createTestRestaurant(t, db)

	createTestInstance(t, db, tmpl, rest.ID)

	dup := &models.SequenceInstance{
		OrgID:            testOrg,
		TemplateID:       tmpl.ID,
		RestaurantID:     rest.ID,
		Status:           models.InstanceStatusActive,
		CurrentStepOrder: 1,
		TotalSteps:       2,
		StartedAt:        time.Now().UTC(),
	}
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return repo.CreateTx(context.Background(), tx, dup)
	})
	if !errors.Is(err, ErrDuplicateLiveInstance) {
		t.Fatalf("expected ErrDuplicateLiveInstance, got %v", err)
	}
}

func TestInstanceRepository_NewInstanceAllowedAfterCompletion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewInstanceRepository(db)
	tmpl := createTestTemplate(t, db, 2)
	rest := createTestRestaurant(t, db)

	first := createTestInstance(t, db, tmpl, rest.ID)

	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return repo.MarkCompletedTx(context.Background(), tx, first.ID, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("MarkCompletedTx failed: %v", err)
	}

	// A finished run no longer blocks a fresh start.
	createTestInstance(t, db, tmpl, rest.ID)
}

func TestInstanceRepository_FindLive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewInstanceRepository(db)
	tmpl := createTestTemplate(t, db, 2)
	rest := createTestRestaurant(t, db)

	if _, err := repo.FindLive(context.Background(), tmpl.ID, rest.ID); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}

	inst := createTestInstance(t, db, tmpl, rest.ID)

	found, err := repo.FindLive(context.Background(), tmpl.ID, rest.ID)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if found.ID != inst.ID {
		t.Errorf("expected instance %s, got %s", inst.ID, found.ID)
	}

	// Paused instances are still live.
	err = db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return repo.UpdateStatusTx(context.Background(), tx, inst.ID, models.InstanceStatusPaused)
	})
	if err != nil {
		t.Fatalf("UpdateStatusTx failed: %v", err)
	}
	if _, err := repo.FindLive(context.Background(), tmpl.ID, rest.ID); err != nil {
		t.Errorf("expected paused instance to be found, got %v", err)
	}
}

func TestInstanceRepository_AdvancePointerIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewInstanceRepository(db)
	tmpl := createTestTemplate(t, db, 5)
	rest := createTestRestaurant(t, db)
	inst := createTestInstance(t, db, tmpl, rest.ID)

	advance := func(order int) {
		t.Helper()
		err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
			return repo.AdvancePointerTx(context.Background(), tx, inst.ID, order)
		})
		if err != nil {
			t.Fatalf("AdvancePointerTx(%d) failed: %v", order, err)
		}
	}

	advance(3)
	advance(2) // stale advance must not move the pointer backwards

	retrieved, err := repo.Get(context.Background(), testOrg, inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.CurrentStepOrder != 3 {
		t.Errorf("expected pointer at 3, got %d", retrieved.CurrentStepOrder)
	}
}

package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/tablelift/cadence/internal/models"
)

const testOrg = "org-test"

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func createTestRestaurant(t *testing.T, db *DB) *models.Restaurant {
	t.Helper()

	rest := &models.Restaurant{
		OrgID:       testOrg,
		Name:        "Luigi's Trattoria",
		ContactName: "Luigi",
		Email:       "luigi@example.com",
		Cuisine:     "italian",
		City:        "Austin",
		Painpoints: []models.TaggedValue{
			{Type: string(models.PainpointNoWebsite), Value: "no website found"},
		},
	}
	if err := NewRestaurantRepository(db).Create(context.Background(), rest); err != nil {
		t.Fatalf("create restaurant: %v", err)
	}
	return rest
}

func createTestTemplate(t *testing.T, db *DB, stepCount int) *models.SequenceTemplate {
	t.Helper()

	steps := make([]*models.SequenceStep, 0, stepCount)
	for i := 1; i <= stepCount; i++ {
		steps = append(steps, &models.SequenceStep{
			StepOrder:  i,
			Name:       "step",
			Type:       models.TaskTypeEmail,
			Priority:   models.TaskPriorityMedium,
			DelayValue: i,
			DelayUnit:  models.DelayUnitDays,
		})
	}

	tmpl := &models.SequenceTemplate{
		OrgID:  testOrg,
		Name:   "test sequence",
		Active: true,
		Steps:  steps,
	}
	if err := NewTemplateRepository(db).Create(context.Background(), tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tmpl
}

func createTestInstance(t *testing.T, db *DB, tmpl *models.SequenceTemplate, restaurantID string) *models.SequenceInstance {
	t.Helper()

	inst := &models.SequenceInstance{
		OrgID:            testOrg,
		TemplateID:       tmpl.ID,
		RestaurantID:     restaurantID,
		Status:           models.InstanceStatusActive,
		CurrentStepOrder: 1,
		TotalSteps:       len(tmpl.Steps),
		StartedAt:        time.Now().UTC(),
	}
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return NewInstanceRepository(db).CreateTx(context.Background(), tx, inst)
	})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst
}

package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/models"
	"github.com/tablelift/cadence/internal/qualify"
	"github.com/tablelift/cadence/internal/render"
)

const testOrg = "org-test"

type fixture struct {
	db      *db.DB
	service *Service
	tasks   *db.TaskRepository
	synced  *[]string
}

type recordingSyncer struct {
	restaurantIDs *[]string
}

func (s *recordingSyncer) Sync(ctx context.Context, restaurantID string, data qualify.QualificationData) error {
	*s.restaurantIDs = append(*s.restaurantIDs, restaurantID)
	return nil
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	synced := &[]string{}
	service := NewService(
		database,
		db.NewTemplateRepository(database),
		db.NewInstanceRepository(database),
		db.NewTaskRepository(database),
		db.NewRestaurantRepository(database),
		db.NewEventRepository(database),
		render.New(),
		&recordingSyncer{restaurantIDs: synced},
	)

	return &fixture{
		db:      database,
		service: service,
		tasks:   db.NewTaskRepository(database),
		synced:  synced,
	}
}

func (f *fixture) createRestaurant(t *testing.T) *models.Restaurant {
	t.Helper()

	rest := &models.Restaurant{
		OrgID:       testOrg,
		Name:        "Luigi's Trattoria",
		ContactName: "Luigi",
		Email:       "luigi@example.com",
		Cuisine:     "italian",
	}
	if err := db.NewRestaurantRepository(f.db).Create(context.Background(), rest); err != nil {
		t.Fatalf("create restaurant: %v", err)
	}
	return rest
}

func (f *fixture) createTemplate(t *testing.T, steps ...*models.SequenceStep) *models.SequenceTemplate {
	t.Helper()

	tmpl := &models.SequenceTemplate{
		OrgID:  testOrg,
		Name:   "outreach",
		Active: true,
		Steps:  steps,
	}
	if err := db.NewTemplateRepository(f.db).Create(context.Background(), tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tmpl
}

func emailStep(order, delayDays int) *models.SequenceStep {
	return &models.SequenceStep{
		StepOrder:  order,
		Name:       "send email",
		Type:       models.TaskTypeEmail,
		Priority:   models.TaskPriorityMedium,
		Message:    "Hi {{.ContactName}}, checking in about {{.Name}}.",
		DelayValue: delayDays,
		DelayUnit:  models.DelayUnitDays,
	}
}

func TestStart_MaterializesAllSteps(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0), emailStep(2, 3), emailStep(3, 7))

	started := time.Now().UTC()
	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.TasksCreated != 3 {
		t.Errorf("expected 3 tasks created, got %d", result.TasksCreated)
	}
	if result.Instance.Status != models.InstanceStatusActive {
		t.Errorf("expected active instance, got %s", result.Instance.Status)
	}
	if result.Instance.CurrentStepOrder != 1 {
		t.Errorf("expected pointer at 1, got %d", result.Instance.CurrentStepOrder)
	}

	taskList, err := f.tasks.ListForInstance(context.Background(), testOrg, result.Instance.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(taskList) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(taskList))
	}

	first := taskList[0]
	if first.Status != models.TaskStatusActive {
		t.Errorf("expected first task active, got %s", first.Status)
	}
	if first.DueDate == nil {
		t.Fatal("expected first task to have a due date")
	}
	if d := first.DueDate.Sub(started); d < 0 || d > time.Minute {
		t.Errorf("expected first task due roughly at start, got offset %v", d)
	}

	for _, task := range taskList[1:] {
		if task.Status != models.TaskStatusPending {
			t.Errorf("step %d: expected pending, got %s", task.SequenceStepOrder, task.Status)
		}
		if task.DueDate != nil {
			t.Errorf("step %d: pending task must not have a due date", task.SequenceStepOrder)
		}
	}
}

func TestStart_RendersPlaceholders(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	taskList, err := f.tasks.ListForInstance(context.Background(), testOrg, result.Instance.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	want := "Hi Luigi, checking in about Luigi's Trattoria."
	if taskList[0].Message != want {
		t.Errorf("expected rendered message %q, got %q", want, taskList[0].Message)
	}
}

func TestStart_SnapshotsDelays(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0), emailStep(2, 3))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	taskList, err := f.tasks.ListForInstance(context.Background(), testOrg, result.Instance.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	second := taskList[1]
	if second.DelayValue != 3 || second.DelayUnit != models.DelayUnitDays {
		t.Errorf("expected snapshot delay 3 days, got %d %s", second.DelayValue, second.DelayUnit)
	}
}

func TestStart_RejectsDuplicateLiveInstance(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0))

	if _, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	_, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if !errors.Is(err, ErrDuplicateActiveInstance) {
		t.Fatalf("expected ErrDuplicateActiveInstance, got %v", err)
	}
}

func TestStart_RejectsInactiveTemplate(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0))

	tmpl.Active = false
	if err := db.NewTemplateRepository(f.db).Update(context.Background(), tmpl); err != nil {
		t.Fatalf("deactivate template: %v", err)
	}

	_, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if !errors.Is(err, ErrTemplateInactive) {
		t.Fatalf("expected ErrTemplateInactive, got %v", err)
	}
}

func TestStart_SyncsQualificationForDemoSteps(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	demo := &models.SequenceStep{
		StepOrder:  2,
		Name:       "demo call",
		Type:       models.TaskTypeDemoMeeting,
		Priority:   models.TaskPriorityHigh,
		DelayValue: 1,
		DelayUnit:  models.DelayUnitDays,
	}
	tmpl := f.createTemplate(t, emailStep(1, 0), demo)

	if _, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(*f.synced) != 1 || (*f.synced)[0] != rest.ID {
		t.Errorf("expected one qualification sync for %s, got %v", rest.ID, *f.synced)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0), emailStep(2, 3))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := result.Instance.ID

	taskList, err := f.tasks.ListForInstance(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	dueBefore := *taskList[0].DueDate

	inst, err := f.service.Pause(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if inst.Status != models.InstanceStatusPaused {
		t.Errorf("expected paused, got %s", inst.Status)
	}

	// Resuming must not recompute due dates; overdue stays overdue.
	inst, err = f.service.Resume(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if inst.Status != models.InstanceStatusActive {
		t.Errorf("expected active, got %s", inst.Status)
	}

	taskList, err = f.tasks.ListForInstance(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !taskList[0].DueDate.Equal(dueBefore) {
		t.Errorf("due date changed across pause/resume: %v -> %v", dueBefore, taskList[0].DueDate)
	}
}

func TestResume_RequiresPaused(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := f.service.Resume(context.Background(), testOrg, result.Instance.ID); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestCancel_CancelsOpenTasks(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0), emailStep(2, 3), emailStep(3, 7))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := result.Instance.ID

	inst, err := f.service.Cancel(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if inst.Status != models.InstanceStatusCancelled {
		t.Errorf("expected cancelled, got %s", inst.Status)
	}
	if inst.CompletedAt == nil {
		t.Error("expected completed_at to be set on cancel")
	}

	taskList, err := f.tasks.ListForInstance(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range taskList {
		if task.Status != models.TaskStatusCancelled {
			t.Errorf("step %d: expected cancelled, got %s", task.SequenceStepOrder, task.Status)
		}
	}

	// Cancel is terminal; further lifecycle calls are rejected.
	if _, err := f.service.Cancel(context.Background(), testOrg, id); !errors.Is(err, ErrInstanceFinished) {
		t.Errorf("expected ErrInstanceFinished, got %v", err)
	}
	if _, err := f.service.Pause(context.Background(), testOrg, id); !errors.Is(err, ErrInstanceFinished) {
		t.Errorf("expected ErrInstanceFinished, got %v", err)
	}
}

func TestStart_AllowedAfterCancel(t *testing.T) {
	f := setupService(t)
	rest := f.createRestaurant(t)
	tmpl := f.createTemplate(t, emailStep(1, 0))

	result, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := f.service.Cancel(context.Background(), testOrg, result.Instance.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if _, err := f.service.Start(context.Background(), testOrg, StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	}); err != nil {
		t.Fatalf("restart after cancel failed: %v", err)
	}
}

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/models"
	"github.com/tablelift/cadence/internal/progression"
	"github.com/tablelift/cadence/internal/qualify"
	"github.com/tablelift/cadence/internal/render"
)

const testOrg = "org-test"

type fixture struct {
	db        *db.DB
	service   *Service
	instances *instance.Service
	instRepo  *db.InstanceRepository
	taskRepo  *db.TaskRepository
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	templateRepo := db.NewTemplateRepository(database)
	instRepo := db.NewInstanceRepository(database)
	taskRepo := db.NewTaskRepository(database)
	restaurantRepo := db.NewRestaurantRepository(database)
	eventRepo := db.NewEventRepository(database)

	engine := progression.NewEngine(instRepo, taskRepo, eventRepo)

	return &fixture{
		db:      database,
		service: NewService(database, taskRepo, engine),
		instances: instance.NewService(
			database, templateRepo, instRepo, taskRepo, restaurantRepo,
			eventRepo, render.New(), qualify.NewLogSyncer(eventRepo),
		),
		instRepo: instRepo,
		taskRepo: taskRepo,
	}
}

// startSequence creates a restaurant, a template with the given step
// delays in days, and starts an instance. It returns the instance and
// its tasks ordered by step.
func (f *fixture) startSequence(t *testing.T, delayDays ...int) (*models.SequenceInstance, []*models.Task) {
	t.Helper()

	rest := &models.Restaurant{OrgID: testOrg, Name: "Luigi's Trattoria"}
	if err := db.NewRestaurantRepository(f.db).Create(context.Background(), rest); err != nil {
		t.Fatalf("create restaurant: %v", err)
	}

	steps := make([]*models.SequenceStep, 0, len(delayDays))
	for i, days := range delayDays {
		steps = append(steps, &models.SequenceStep{
			StepOrder:  i + 1,
			Name:       "step",
			Type:       models.TaskTypeEmail,
			Priority:   models.TaskPriorityMedium,
			DelayValue: days,
			DelayUnit:  models.DelayUnitDays,
		})
	}
	tmpl := &models.SequenceTemplate{OrgID: testOrg, Name: "outreach", Active: true, Steps: steps}
	if err := db.NewTemplateRepository(f.db).Create(context.Background(), tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	result, err := f.instances.Start(context.Background(), testOrg, instance.StartInput{
		TemplateID:   tmpl.ID,
		RestaurantID: rest.ID,
	})
	if err != nil {
		t.Fatalf("start sequence: %v", err)
	}
	return result.Instance, f.listTasks(t, result.Instance.ID)
}

func (f *fixture) listTasks(t *testing.T, instanceID string) []*models.Task {
	t.Helper()
	list, err := f.taskRepo.ListForInstance(context.Background(), testOrg, instanceID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	return list
}

func (f *fixture) getInstance(t *testing.T, id string) *models.SequenceInstance {
	t.Helper()
	inst, err := f.instRepo.Get(context.Background(), testOrg, id)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	return inst
}

func (f *fixture) countActive(t *testing.T, instanceID string) int {
	t.Helper()
	count, err := f.instRepo.CountActiveTasks(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("count active tasks: %v", err)
	}
	return count
}

func TestComplete_ActivatesNextStep(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 3, 7)

	before := time.Now().UTC()
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	taskList = f.listTasks(t, inst.ID)
	if taskList[0].Status != models.TaskStatusCompleted {
		t.Errorf("expected step 1 completed, got %s", taskList[0].Status)
	}
	second := taskList[1]
	if second.Status != models.TaskStatusActive {
		t.Fatalf("expected step 2 active, got %s", second.Status)
	}
	if second.DueDate == nil {
		t.Fatal("expected step 2 to have a due date")
	}
	// Step 2 carries a 3 day delay measured from the completion event.
	want := before.Add(3 * 24 * time.Hour)
	if d := second.DueDate.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("expected due around %v, got %v", want, second.DueDate)
	}
	if taskList[2].Status != models.TaskStatusPending {
		t.Errorf("expected step 3 still pending, got %s", taskList[2].Status)
	}

	if got := f.getInstance(t, inst.ID); got.CurrentStepOrder != 2 {
		t.Errorf("expected pointer at 2, got %d", got.CurrentStepOrder)
	}
	if n := f.countActive(t, inst.ID); n != 1 {
		t.Errorf("expected exactly 1 active task, got %d", n)
	}
}

func TestComplete_FinalStepCompletesInstance(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1)

	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("complete step 1: %v", err)
	}
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[1].ID); err != nil {
		t.Fatalf("complete step 2: %v", err)
	}

	got := f.getInstance(t, inst.ID)
	if got.Status != models.InstanceStatusCompleted {
		t.Errorf("expected instance completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestComplete_Twice(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1, 2)

	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); !errors.Is(err, ErrTaskAlreadyDone) {
		t.Fatalf("expected ErrTaskAlreadyDone, got %v", err)
	}

	// The duplicate must not have advanced the sequence again.
	if got := f.getInstance(t, inst.ID); got.CurrentStepOrder != 2 {
		t.Errorf("expected pointer at 2, got %d", got.CurrentStepOrder)
	}
	if n := f.countActive(t, inst.ID); n != 1 {
		t.Errorf("expected exactly 1 active task, got %d", n)
	}
}

func TestDelete_ActiveTaskAdvances(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1, 2)

	if err := f.service.Delete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	remaining := f.listTasks(t, inst.ID)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 tasks left, got %d", len(remaining))
	}
	if remaining[0].SequenceStepOrder != 2 || remaining[0].Status != models.TaskStatusActive {
		t.Errorf("expected step 2 active after deleting active step, got step %d %s",
			remaining[0].SequenceStepOrder, remaining[0].Status)
	}
}

func TestDelete_PendingTaskLeavesGap(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1, 2)

	// Deleting a pending step must not activate anything.
	if err := f.service.Delete(context.Background(), testOrg, taskList[1].ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n := f.countActive(t, inst.ID); n != 1 {
		t.Errorf("expected step 1 still the only active task, got %d active", n)
	}

	// The gap is skipped when progression reaches it.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	remaining := f.listTasks(t, inst.ID)
	last := remaining[len(remaining)-1]
	if last.SequenceStepOrder != 3 || last.Status != models.TaskStatusActive {
		t.Errorf("expected step 3 active after skipping deleted step 2, got step %d %s",
			last.SequenceStepOrder, last.Status)
	}
}

func TestCancel_ActiveTaskAdvances(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1)

	if _, err := f.service.Cancel(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	taskList = f.listTasks(t, inst.ID)
	if taskList[0].Status != models.TaskStatusCancelled {
		t.Errorf("expected step 1 cancelled, got %s", taskList[0].Status)
	}
	if taskList[1].Status != models.TaskStatusActive {
		t.Errorf("expected step 2 active, got %s", taskList[1].Status)
	}
}

func TestCancel_PendingTaskDoesNotProgress(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1, 2)

	if _, err := f.service.Cancel(context.Background(), testOrg, taskList[2].ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if n := f.countActive(t, inst.ID); n != 1 {
		t.Errorf("expected 1 active task, got %d", n)
	}
	if got := f.getInstance(t, inst.ID); got.CurrentStepOrder != 1 {
		t.Errorf("expected pointer unchanged at 1, got %d", got.CurrentStepOrder)
	}

	// With step 3 cancelled, completing steps 1 and 2 finishes the run.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("complete step 1: %v", err)
	}
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[1].ID); err != nil {
		t.Fatalf("complete step 2: %v", err)
	}
	if got := f.getInstance(t, inst.ID); got.Status != models.InstanceStatusCompleted {
		t.Errorf("expected instance completed, got %s", got.Status)
	}
}

func TestComplete_OutOfOrder(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1, 2)

	// The rep works ahead and completes step 3 while step 1 is active.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[2].ID); err != nil {
		t.Fatalf("complete step 3: %v", err)
	}

	// Step 1 keeps the active slot; step 2 is not skipped.
	current := f.listTasks(t, inst.ID)
	if current[0].Status != models.TaskStatusActive {
		t.Errorf("expected step 1 still active, got %s", current[0].Status)
	}
	if current[1].Status != models.TaskStatusPending {
		t.Errorf("expected step 2 still pending, got %s", current[1].Status)
	}
	if n := f.countActive(t, inst.ID); n != 1 {
		t.Errorf("expected 1 active task, got %d", n)
	}

	// Finishing step 1 activates step 2, not step 3.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("complete step 1: %v", err)
	}
	current = f.listTasks(t, inst.ID)
	if current[1].Status != models.TaskStatusActive {
		t.Errorf("expected step 2 active, got %s", current[1].Status)
	}

	// Finishing step 2 finds nothing pending beyond it and completes.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[1].ID); err != nil {
		t.Fatalf("complete step 2: %v", err)
	}
	if got := f.getInstance(t, inst.ID); got.Status != models.InstanceStatusCompleted {
		t.Errorf("expected instance completed, got %s", got.Status)
	}
}

func TestComplete_PausedInstanceDoesNotProgress(t *testing.T) {
	f := setupFixture(t)
	inst, taskList := f.startSequence(t, 0, 1)

	if _, err := f.instances.Pause(context.Background(), testOrg, inst.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// The task itself completes, but no successor activates.
	if _, err := f.service.Complete(context.Background(), testOrg, taskList[0].ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if n := f.countActive(t, inst.ID); n != 0 {
		t.Errorf("expected no active tasks while paused, got %d", n)
	}
	if got := f.getInstance(t, inst.ID); got.Status != models.InstanceStatusPaused {
		t.Errorf("expected instance still paused, got %s", got.Status)
	}
}

func TestComplete_StandaloneTask(t *testing.T) {
	f := setupFixture(t)

	task, err := f.service.Create(context.Background(), testOrg, CreateInput{
		Name: "follow up on voicemail",
		Type: models.TaskTypeCall,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	completed, err := f.service.Complete(context.Background(), testOrg, task.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestCreate_RequiresValidType(t *testing.T) {
	f := setupFixture(t)

	_, err := f.service.Create(context.Background(), testOrg, CreateInput{
		Name: "bad",
		Type: models.TaskType("carrier-pigeon"),
	})
	if !errors.Is(err, db.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}

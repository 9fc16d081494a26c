package persistence

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/quoracle/quoracle/pkg/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, "sqlite"), mock
}

func TestSaveUpsertsAgentRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO agents").WillReturnResult(sqlmock.NewResult(0, 1))

	state := models.NewAgentState(models.AgentConfig{
		AgentID:   "a1",
		TaskID:    "t1",
		ModelPool: []models.ModelSpec{"m1"},
	})

	if err := store.Save(context.Background(), state, models.Usage{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadNotFoundReturnsErrNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT agent_id").WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.Load(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoadRoundTripsPersistedFields(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"agent_id", "task_id", "parent_id", "profile_name", "prompt_fields", "model_pool",
		"model_histories", "context_lessons", "model_states", "todos", "children", "raw_config",
	}).AddRow(
		"a1", "t1", "", "worker", `{"role":"coder"}`, `["m1"]`,
		`{"m1":[]}`, `{"m1":[]}`, `{"m1":"state"}`, `["finish"]`, `[]`, `{"k":"v"}`,
	)
	mock.ExpectQuery("SELECT agent_id").WillReturnRows(rows)

	persisted, err := store.Load(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if persisted.ProfileName != "worker" {
		t.Fatalf("ProfileName = %q, want worker", persisted.ProfileName)
	}
	if persisted.PromptFields.Role != "coder" {
		t.Fatalf("PromptFields.Role = %q, want coder", persisted.PromptFields.Role)
	}
	if persisted.ModelStates["m1"] != "state" {
		t.Fatalf("ModelStates[m1] = %q, want state", persisted.ModelStates["m1"])
	}
	if len(persisted.Todos) != 1 || persisted.Todos[0] != "finish" {
		t.Fatalf("Todos = %v, want [finish]", persisted.Todos)
	}
	if persisted.RawConfig["k"] != "v" {
		t.Fatalf("RawConfig[k] = %q, want v", persisted.RawConfig["k"])
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM agents").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

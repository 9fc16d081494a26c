package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"         // Postgres driver, registers as "postgres"
	_ "modernc.org/sqlite"        // Pure-Go SQLite driver, registers as "sqlite"

	"github.com/quoracle/quoracle/internal/tree"
	"github.com/quoracle/quoracle/pkg/models"
)

// SQLStore is a database/sql-backed Store. It works unmodified against
// either Postgres (lib/pq, "$1"-style placeholders) or SQLite
// (modernc.org/sqlite, "?"-style placeholders) — grounded on
// internal/storage/cockroach.go's single-struct-multiple-driver pattern,
// generalized here into an explicit placeholder style instead of the
// teacher's Postgres-only `$N` literals.
type SQLStore struct {
	db      *sql.DB
	driver  string
	closeFn func() error
}

// Open connects to driverName (e.g. "postgres", "sqlite") at dsn and
// ensures the schema exists.
func Open(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", driverName, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: ping %s: %w", driverName, err)
	}
	s := &SQLStore{db: db, driver: driverName, closeFn: db.Close}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB (used by tests with
// go-sqlmock, which cannot satisfy sql.Open's driver-registration
// contract).
func NewWithDB(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{db: db, driver: driverName}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// placeholder returns the positional placeholder for argument index i
// (1-based) in this store's SQL dialect.
func (s *SQLStore) placeholder(i int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	parent_id TEXT,
	profile_name TEXT,
	prompt_fields TEXT NOT NULL,
	model_pool TEXT NOT NULL,
	model_histories TEXT NOT NULL,
	context_lessons TEXT NOT NULL,
	model_states TEXT NOT NULL,
	todos TEXT NOT NULL,
	children TEXT NOT NULL,
	raw_config TEXT,
	updated_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("persistence: ensure schema: %w", err)
	}
	return nil
}

// Save upserts the full persisted row for state (spec.md §4.8: "persist
// after each cycle"). usage is accepted for call-site symmetry with
// Deps.PersistFlush but is not itself part of the restore contract
// (spec.md §6 names no usage/cost field among the required fields) —
// recorded for completeness only if a caller's schema wants it; this
// store does not persist it, matching the §6 field list exactly.
func (s *SQLStore) Save(ctx context.Context, state *models.AgentState, usage models.Usage) error {
	promptFields, err := json.Marshal(state.Config.PromptFields)
	if err != nil {
		return fmt.Errorf("persistence: marshal prompt_fields: %w", err)
	}
	modelPool, err := json.Marshal(state.Config.ModelPool)
	if err != nil {
		return fmt.Errorf("persistence: marshal model_pool: %w", err)
	}
	histories, err := json.Marshal(state.ModelHistories)
	if err != nil {
		return fmt.Errorf("persistence: marshal model_histories: %w", err)
	}
	lessons, err := json.Marshal(state.ContextLessons)
	if err != nil {
		return fmt.Errorf("persistence: marshal context_lessons: %w", err)
	}
	modelStates, err := json.Marshal(state.ModelStates)
	if err != nil {
		return fmt.Errorf("persistence: marshal model_states: %w", err)
	}
	todos, err := json.Marshal(state.Todos)
	if err != nil {
		return fmt.Errorf("persistence: marshal todos: %w", err)
	}
	children, err := json.Marshal(state.Children)
	if err != nil {
		return fmt.Errorf("persistence: marshal children: %w", err)
	}
	rawConfig, err := json.Marshal(state.Config.RawConfig)
	if err != nil {
		return fmt.Errorf("persistence: marshal config: %w", err)
	}

	query := s.upsertQuery()
	_, err = s.db.ExecContext(ctx, query,
		string(state.Config.AgentID),
		state.Config.TaskID,
		string(state.Config.ParentID),
		state.Config.ProfileName,
		string(promptFields),
		string(modelPool),
		string(histories),
		string(lessons),
		string(modelStates),
		string(todos),
		string(children),
		string(rawConfig),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("persistence: save agent %s: %w", state.Config.AgentID, err)
	}
	return nil
}

func (s *SQLStore) upsertQuery() string {
	if s.driver == "postgres" {
		return `INSERT INTO agents (agent_id, task_id, parent_id, profile_name, prompt_fields, model_pool,
			model_histories, context_lessons, model_states, todos, children, raw_config, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (agent_id) DO UPDATE SET
				task_id=excluded.task_id, parent_id=excluded.parent_id, profile_name=excluded.profile_name,
				prompt_fields=excluded.prompt_fields, model_pool=excluded.model_pool,
				model_histories=excluded.model_histories, context_lessons=excluded.context_lessons,
				model_states=excluded.model_states, todos=excluded.todos, children=excluded.children,
				raw_config=excluded.raw_config, updated_at=excluded.updated_at`
	}
	return `INSERT INTO agents (agent_id, task_id, parent_id, profile_name, prompt_fields, model_pool,
		model_histories, context_lessons, model_states, todos, children, raw_config, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (agent_id) DO UPDATE SET
			task_id=excluded.task_id, parent_id=excluded.parent_id, profile_name=excluded.profile_name,
			prompt_fields=excluded.prompt_fields, model_pool=excluded.model_pool,
			model_histories=excluded.model_histories, context_lessons=excluded.context_lessons,
			model_states=excluded.model_states, todos=excluded.todos, children=excluded.children,
			raw_config=excluded.raw_config, updated_at=excluded.updated_at`
}

func (s *SQLStore) selectQuery() string {
	return fmt.Sprintf(`SELECT agent_id, task_id, parent_id, profile_name, prompt_fields, model_pool,
		model_histories, context_lessons, model_states, todos, children, raw_config
		FROM agents WHERE agent_id = %s`, s.placeholder(1))
}

// Load rebuilds a tree.PersistedAgent from the stored row (spec.md §6
// restore contract).
func (s *SQLStore) Load(ctx context.Context, id models.AgentID) (tree.PersistedAgent, error) {
	row := s.db.QueryRowContext(ctx, s.selectQuery(), string(id))

	var (
		agentID, taskID, parentID, profileName                                     string
		promptFields, modelPool, histories, lessons, modelStates, todos, children   string
		rawConfig                                                                   sql.NullString
	)
	if err := row.Scan(&agentID, &taskID, &parentID, &profileName, &promptFields, &modelPool,
		&histories, &lessons, &modelStates, &todos, &children, &rawConfig); err != nil {
		if err == sql.ErrNoRows {
			return tree.PersistedAgent{}, ErrNotFound
		}
		return tree.PersistedAgent{}, fmt.Errorf("persistence: load agent %s: %w", id, err)
	}

	out := tree.PersistedAgent{
		AgentID:     models.AgentID(agentID),
		TaskID:      taskID,
		ParentID:    models.AgentID(parentID),
		ProfileName: profileName,
	}
	if err := json.Unmarshal([]byte(promptFields), &out.PromptFields); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal prompt_fields: %w", err)
	}
	if err := json.Unmarshal([]byte(modelPool), &out.ModelPool); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal model_pool: %w", err)
	}
	if err := json.Unmarshal([]byte(histories), &out.ModelHistories); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal model_histories: %w", err)
	}
	if err := json.Unmarshal([]byte(lessons), &out.ContextLessons); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal context_lessons: %w", err)
	}
	if err := json.Unmarshal([]byte(modelStates), &out.ModelStates); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal model_states: %w", err)
	}
	if err := json.Unmarshal([]byte(todos), &out.Todos); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal todos: %w", err)
	}
	if err := json.Unmarshal([]byte(children), &out.Children); err != nil {
		return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal children: %w", err)
	}
	if rawConfig.Valid && strings.TrimSpace(rawConfig.String) != "" {
		if err := json.Unmarshal([]byte(rawConfig.String), &out.RawConfig); err != nil {
			return tree.PersistedAgent{}, fmt.Errorf("persistence: unmarshal config: %w", err)
		}
	}
	return out, nil
}

// Delete removes the persisted row for id (spec.md §4.9: "delete
// persisted records"), implementing tree.Deleter.
func (s *SQLStore) Delete(ctx context.Context, id models.AgentID) error {
	query := fmt.Sprintf("DELETE FROM agents WHERE agent_id = %s", s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, string(id))
	if err != nil {
		return fmt.Errorf("persistence: delete agent %s: %w", id, err)
	}
	return nil
}

// ListRestorable returns every agent_id currently persisted, for the CLI's
// `quoracle agents restore --all` and process-startup recovery sweep.
func (s *SQLStore) ListRestorable(ctx context.Context) ([]models.AgentID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT agent_id FROM agents")
	if err != nil {
		return nil, fmt.Errorf("persistence: list agents: %w", err)
	}
	defer rows.Close()

	var out []models.AgentID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("persistence: scan agent id: %w", err)
		}
		out = append(out, models.AgentID(id))
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)

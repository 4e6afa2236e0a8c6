package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Agent is the persisted view of a cohort member.
type Agent struct {
	ID          string    `json:"id"`
	Tag         string    `json:"tag"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model,omitempty"`
	Schema      string    `json:"schema,omitempty"`
	Handoffs    []string  `json:"handoffs"`
	Tools       []string  `json:"tools,omitempty"`
	Entry       bool      `json:"entry"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const agentColumns = `id, tag, description, model, schema, handoffs, tools, entry, created_at, updated_at`

func (s *Store) SaveAgent(a *Agent) error {
	handoffs, _ := json.Marshal(nonNil(a.Handoffs))
	tools, _ := json.Marshal(nonNil(a.Tools))
	_, err := s.db.Exec(`
		INSERT INTO agents (id, tag, description, model, schema, handoffs, tools, entry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			tag = excluded.tag,
			description = excluded.description,
			model = excluded.model,
			schema = excluded.schema,
			handoffs = excluded.handoffs,
			tools = excluded.tools,
			entry = excluded.entry,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Tag, a.Description, a.Model, a.Schema, string(handoffs), string(tools), boolToInt(a.Entry))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func scanAgent(sc scanner) (*Agent, error) {
	a := &Agent{}
	var description, model, schema, handoffs, tools sql.NullString
	var entry int
	if err := sc.Scan(&a.ID, &a.Tag, &description, &model, &schema, &handoffs, &tools, &entry, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Description = description.String
	a.Model = model.String
	a.Schema = schema.String
	a.Entry = entry == 1
	if handoffs.Valid {
		_ = json.Unmarshal([]byte(handoffs.String), &a.Handoffs)
	}
	if tools.Valid {
		_ = json.Unmarshal([]byte(tools.String), &a.Tools)
	}
	return a, nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY entry DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders+`)`, args...)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

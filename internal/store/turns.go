package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Turn is one recorded message of a conversation session.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Agent     string    `json:"agent"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveTurn(t *Turn) error {
	result, err := s.db.Exec(`
		INSERT INTO conversation_turns (session_id, turn, agent, role, content, action)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Turn, t.Agent, t.Role, t.Content, t.Action)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

// GetTurns returns the latest limit turns of a session in chronological order.
func (s *Store) GetTurns(sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, turn, agent, role, content, action, created_at
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var action sql.NullString
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Turn, &t.Agent, &t.Role, &t.Content, &action, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Action = action.String
		turns = append(turns, t)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, rows.Err()
}

func (s *Store) DeleteTurns(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_turns WHERE session_id = ?`, sessionID)
	return err
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowRun is the audit record of one executed plan.
type WorkflowRun struct {
	ID          string          `json:"id"`
	Query       string          `json:"query"`
	Status      string          `json:"status"`
	Plan        json.RawMessage `json:"plan"`
	Steps       []StepResult    `json:"steps,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type StepResult struct {
	RunID        string          `json:"run_id"`
	StepID       string          `json:"step_id"`
	AgentType    string          `json:"agent_type"`
	Action       string          `json:"action"`
	Status       string          `json:"status"`
	Success      bool            `json:"success"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func scanWorkflowRun(sc scanner) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var plan string
	if err := sc.Scan(&r.ID, &r.Query, &r.Status, &plan, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Plan = json.RawMessage(plan)
	return r, nil
}

const runColumns = `id, query, status, plan, started_at, completed_at`

func (s *Store) SaveRun(r *WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, query, status, plan)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			plan = excluded.plan,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Query, r.Status, string(r.Plan))
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunStatus(id, status string) error {
	_, err := s.db.Exec(`
		UPDATE workflow_runs
		SET status = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, status, id)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	return nil
}

// GetRun returns the run with its step results, or nil when it does not exist.
func (s *Store) GetRun(id string) (*WorkflowRun, error) {
	r, err := scanWorkflowRun(s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	steps, err := s.GetStepResults(id)
	if err != nil {
		return nil, err
	}
	r.Steps = steps
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM workflow_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		r, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM workflow_runs WHERE id = ?`, id)
	return err
}

func (s *Store) SaveStepResult(r *StepResult) error {
	var result *string
	if len(r.Result) > 0 {
		v := string(r.Result)
		result = &v
	}
	_, err := s.db.Exec(`
		INSERT INTO step_results (run_id, step_id, agent_type, action, status, success, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			status = excluded.status,
			success = excluded.success,
			result = excluded.result,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP`,
		r.RunID, r.StepID, r.AgentType, r.Action, r.Status, boolToInt(r.Success), result, r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	return nil
}

func (s *Store) GetStepResults(runID string) ([]StepResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step_id, agent_type, action, status, success, result, error_message, updated_at
		FROM step_results WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("get step results: %w", err)
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var r StepResult
		var success int
		var result, errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.StepID, &r.AgentType, &r.Action, &r.Status, &success, &result, &errMsg, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		r.Success = success == 1
		if result.Valid {
			r.Result = json.RawMessage(result.String)
		}
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

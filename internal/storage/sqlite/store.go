// Package sqlite keeps automation rules and the execution log in a single
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store implements rule.Store and execution.Log.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

var (
	_ rule.Store    = (*Store)(nil)
	_ execution.Log = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
// Opening an existing database is idempotent.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: log}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertRule replaces a rule together with its conditions and actions.
func (s *Store) UpsertRule(ctx context.Context, r rule.Rule) error {
	if r.ID == "" || r.CompanyID == "" {
		return fmt.Errorf("rule id and companyId are required")
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stop sql.NullBool
	if r.StopOnFailure != nil {
		stop = sql.NullBool{Bool: *r.StopOnFailure, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO automation_rules
			(company_id, id, name, description, trigger_type, is_active, priority, stop_on_failure, schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			is_active = excluded.is_active,
			priority = excluded.priority,
			stop_on_failure = excluded.stop_on_failure,
			schedule = excluded.schedule,
			updated_at = excluded.updated_at`,
		r.CompanyID, r.ID, r.Name, r.Description, string(r.Trigger), r.IsActive, r.Priority, stop, r.Schedule,
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", r.ID, err)
	}

	for _, table := range []string{"automation_conditions", "automation_actions"} {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE company_id = ? AND rule_id = ?", r.CompanyID, r.ID); err != nil {
			return fmt.Errorf("failed to clear %s for rule %s: %w", table, r.ID, err)
		}
	}

	for _, c := range r.Conditions {
		value, err := storage.EncodeValue(c.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO automation_conditions (company_id, rule_id, position, field, operator, value, logical_operator)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.CompanyID, r.ID, c.Order, c.Field, string(c.Operator), string(value), string(c.LogicalOperator),
		); err != nil {
			return fmt.Errorf("failed to insert condition %d of rule %s: %w", c.Order, r.ID, err)
		}
	}

	for _, a := range r.Actions {
		params, err := storage.EncodeParameters(a.Parameters)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO automation_actions (company_id, rule_id, position, action_type, parameters)
			VALUES (?, ?, ?, ?, ?)`,
			r.CompanyID, r.ID, a.Order, a.Type, string(params),
		); err != nil {
			return fmt.Errorf("failed to insert action %d of rule %s: %w", a.Order, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule and its conditions and actions. Recorded
// executions are kept.
func (s *Store) DeleteRule(ctx context.Context, companyID, ruleID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM automation_rules WHERE company_id = ? AND id = ?", companyID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	return nil
}

// ListActiveRules implements rule.Store
func (s *Store) ListActiveRules(ctx context.Context, trigger rule.Trigger, companyID string) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.company_id = ? AND r.trigger_type = ? AND r.is_active = 1", companyID, string(trigger))
}

// ListRules implements rule.Store
func (s *Store) ListRules(ctx context.Context, companyID string) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.company_id = ?", companyID)
}

// ListActiveRulesByTrigger implements rule.Store
func (s *Store) ListActiveRulesByTrigger(ctx context.Context, trigger rule.Trigger) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.trigger_type = ? AND r.is_active = 1", string(trigger))
}

// readRules loads matching rules with their conditions and actions inside
// one read transaction so a concurrent upsert is seen whole or not at all.
func (s *Store) readRules(ctx context.Context, where string, args ...interface{}) ([]*rule.Rule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	asm := storage.NewAssembler()

	rows, err := tx.QueryContext(ctx, `
		SELECT r.company_id, r.id, r.name, r.description, r.trigger_type, r.is_active, r.priority,
			r.stop_on_failure, r.schedule, r.created_at, r.updated_at
		FROM automation_rules r WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	for rows.Next() {
		var (
			r                rule.Rule
			trigger          string
			stop             sql.NullBool
			created, updated int64
		)
		if err := rows.Scan(&r.CompanyID, &r.ID, &r.Name, &r.Description, &trigger, &r.IsActive, &r.Priority,
			&stop, &r.Schedule, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Trigger = rule.Trigger(trigger)
		if stop.Valid {
			v := stop.Bool
			r.StopOnFailure = &v
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		r.UpdatedAt = time.Unix(0, updated).UTC()
		asm.AddRule(r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT c.company_id, c.rule_id, c.position, c.field, c.operator, c.value, c.logical_operator
		FROM automation_conditions c
		JOIN automation_rules r ON r.company_id = c.company_id AND r.id = c.rule_id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditions: %w", err)
	}
	for rows.Next() {
		var (
			companyID, ruleID string
			c                 rule.Condition
			op, logical       string
			raw               string
		)
		if err := rows.Scan(&companyID, &ruleID, &c.Order, &c.Field, &op, &raw, &logical); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		if c.Value, err = storage.DecodeValue([]byte(raw)); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s: %w", ruleID, err)
		}
		c.Operator = rule.Operator(op)
		c.LogicalOperator = rule.LogicalOperator(logical)
		asm.AddCondition(companyID, ruleID, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read conditions: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT a.company_id, a.rule_id, a.position, a.action_type, a.parameters
		FROM automation_actions a
		JOIN automation_rules r ON r.company_id = a.company_id AND r.id = a.rule_id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	for rows.Next() {
		var (
			companyID, ruleID string
			a                 rule.Action
			raw               string
		)
		if err := rows.Scan(&companyID, &ruleID, &a.Order, &a.Type, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if a.Parameters, err = storage.DecodeParameters([]byte(raw)); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s: %w", ruleID, err)
		}
		asm.AddAction(companyID, ruleID, a)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}

	return asm.Rules(), nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Append implements execution.Log
func (s *Store) Append(ctx context.Context, exec execution.Execution) error {
	if exec.ID == "" || exec.CompanyID == "" {
		return fmt.Errorf("execution id and company id are required")
	}
	actions, err := storage.EncodeOutcomes(exec.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_executions
			(id, company_id, rule_id, trigger_type, triggered_at, success, error_detail, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.CompanyID, exec.RuleID, exec.Trigger, exec.TriggeredAt.UnixNano(),
		exec.Success, exec.ErrorDetail, string(actions),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// List implements execution.Log
func (s *Store) List(ctx context.Context, q execution.Query) ([]execution.Execution, error) {
	where, args := filter(q)
	query := `
		SELECT id, company_id, rule_id, trigger_type, triggered_at, success, error_detail, actions
		FROM automation_executions WHERE ` + where + `
		ORDER BY triggered_at DESC, id DESC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []execution.Execution
	for rows.Next() {
		var (
			exec execution.Execution
			at   int64
			raw  string
		)
		if err := rows.Scan(&exec.ID, &exec.CompanyID, &exec.RuleID, &exec.Trigger, &at,
			&exec.Success, &exec.ErrorDetail, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec.TriggeredAt = time.Unix(0, at).UTC()
		if exec.Actions, err = storage.DecodeOutcomes([]byte(raw)); err != nil {
			return nil, fmt.Errorf("execution %s: %w", exec.ID, err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read executions: %w", err)
	}
	return out, nil
}

// Aggregate implements execution.Log
func (s *Store) Aggregate(ctx context.Context, q execution.Query) (execution.Aggregate, error) {
	where, args := filter(q)
	var agg execution.Aggregate
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM automation_executions WHERE `+where, args...).Scan(&agg.Total, &agg.Succeeded)
	if err != nil {
		return execution.Aggregate{}, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	return agg, nil
}

func filter(q execution.Query) (string, []interface{}) {
	clauses := []string{"company_id = ?"}
	args := []interface{}{q.CompanyID}
	if q.RuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "triggered_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	return strings.Join(clauses, " AND "), args
}

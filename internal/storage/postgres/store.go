// Package postgres keeps automation rules and the execution log in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	Pool   *pgxpool.Pool
	logger *logger.Logger
}

var (
	_ rule.Store    = (*Store)(nil)
	_ execution.Log = (*Store)(nil)
)

// NewStore connects to dsn and verifies the connection.
func NewStore(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("postgres store connected")
	return &Store{Pool: pool, logger: log}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
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

	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO automation_rules
				(company_id, id, name, description, trigger_type, is_active, priority, stop_on_failure, schedule, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (company_id, id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				trigger_type = EXCLUDED.trigger_type,
				is_active = EXCLUDED.is_active,
				priority = EXCLUDED.priority,
				stop_on_failure = EXCLUDED.stop_on_failure,
				schedule = EXCLUDED.schedule,
				updated_at = EXCLUDED.updated_at`,
			r.CompanyID, r.ID, r.Name, r.Description, string(r.Trigger), r.IsActive, r.Priority,
			r.StopOnFailure, r.Schedule, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert rule %s: %w", r.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM automation_conditions WHERE company_id=$1 AND rule_id=$2`, r.CompanyID, r.ID); err != nil {
			return fmt.Errorf("failed to clear conditions of rule %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM automation_actions WHERE company_id=$1 AND rule_id=$2`, r.CompanyID, r.ID); err != nil {
			return fmt.Errorf("failed to clear actions of rule %s: %w", r.ID, err)
		}

		batch := &pgx.Batch{}
		for _, c := range r.Conditions {
			value, err := storage.EncodeValue(c.Value)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO automation_conditions (company_id, rule_id, position, field, operator, value, logical_operator)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				r.CompanyID, r.ID, c.Order, c.Field, string(c.Operator), value, string(c.LogicalOperator))
		}
		for _, a := range r.Actions {
			params, err := storage.EncodeParameters(a.Parameters)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO automation_actions (company_id, rule_id, position, action_type, parameters)
				VALUES ($1,$2,$3,$4,$5)`,
				r.CompanyID, r.ID, a.Order, a.Type, params)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert children of rule %s: %w", r.ID, err)
		}
		return nil
	})
}

// DeleteRule removes a rule; recorded executions are kept.
func (s *Store) DeleteRule(ctx context.Context, companyID, ruleID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM automation_rules WHERE company_id=$1 AND id=$2`, companyID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	return nil
}

// ListActiveRules implements rule.Store
func (s *Store) ListActiveRules(ctx context.Context, trigger rule.Trigger, companyID string) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.company_id=$1 AND r.trigger_type=$2 AND r.is_active", companyID, string(trigger))
}

// ListRules implements rule.Store
func (s *Store) ListRules(ctx context.Context, companyID string) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.company_id=$1", companyID)
}

// ListActiveRulesByTrigger implements rule.Store
func (s *Store) ListActiveRulesByTrigger(ctx context.Context, trigger rule.Trigger) ([]*rule.Rule, error) {
	return s.readRules(ctx, "r.trigger_type=$1 AND r.is_active", string(trigger))
}

// readRules reads rules and their children from one repeatable-read
// snapshot.
func (s *Store) readRules(ctx context.Context, where string, args ...interface{}) ([]*rule.Rule, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	asm := storage.NewAssembler()

	rows, err := tx.Query(ctx, `
		SELECT r.company_id, r.id, r.name, r.description, r.trigger_type, r.is_active, r.priority,
			r.stop_on_failure, r.schedule, r.created_at, r.updated_at
		FROM automation_rules r WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	for rows.Next() {
		var (
			r       rule.Rule
			trigger string
		)
		if err := rows.Scan(&r.CompanyID, &r.ID, &r.Name, &r.Description, &trigger, &r.IsActive, &r.Priority,
			&r.StopOnFailure, &r.Schedule, &r.CreatedAt, &r.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Trigger = rule.Trigger(trigger)
		asm.AddRule(r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	rows, err = tx.Query(ctx, `
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
			raw               []byte
		)
		if err := rows.Scan(&companyID, &ruleID, &c.Order, &c.Field, &op, &raw, &logical); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		if c.Value, err = storage.DecodeValue(raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s: %w", ruleID, err)
		}
		c.Operator = rule.Operator(op)
		c.LogicalOperator = rule.LogicalOperator(logical)
		asm.AddCondition(companyID, ruleID, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conditions: %w", err)
	}

	rows, err = tx.Query(ctx, `
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
			raw               []byte
		)
		if err := rows.Scan(&companyID, &ruleID, &a.Order, &a.Type, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if a.Parameters, err = storage.DecodeParameters(raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s: %w", ruleID, err)
		}
		asm.AddAction(companyID, ruleID, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}

	return asm.Rules(), nil
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
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO automation_executions (id, company_id, rule_id, trigger_type, triggered_at, success, error_detail, actions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		exec.ID, exec.CompanyID, exec.RuleID, exec.Trigger, exec.TriggeredAt.UTC(), exec.Success, exec.ErrorDetail, actions,
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
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []execution.Execution
	for rows.Next() {
		var (
			exec execution.Execution
			raw  []byte
		)
		if err := rows.Scan(&exec.ID, &exec.CompanyID, &exec.RuleID, &exec.Trigger, &exec.TriggeredAt,
			&exec.Success, &exec.ErrorDetail, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec.TriggeredAt = exec.TriggeredAt.UTC()
		if exec.Actions, err = storage.DecodeOutcomes(raw); err != nil {
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
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success)
		FROM automation_executions WHERE `+where, args...).Scan(&agg.Total, &agg.Succeeded)
	if err != nil {
		return execution.Aggregate{}, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	return agg, nil
}

func filter(q execution.Query) (string, []interface{}) {
	clauses := []string{"company_id=$1"}
	args := []interface{}{q.CompanyID}
	if q.RuleID != "" {
		args = append(args, q.RuleID)
		clauses = append(clauses, fmt.Sprintf("rule_id=$%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since.UTC())
		clauses = append(clauses, fmt.Sprintf("triggered_at>=$%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

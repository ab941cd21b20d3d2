package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

// PostgresStore implements Store interface using PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, dsn: dsn}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate runs database migrations
func (s *PostgresStore) migrate() error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveOpportunity(ctx context.Context, opp *models.OptimizationOpportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = time.Now()
	}
	if opp.State == "" {
		opp.State = models.StateDiscovered
	}
	if err := opp.Validate(); err != nil {
		return &models.ValidationError{Message: err.Error()}
	}

	implSteps, _ := json.Marshal(opp.ImplementationSteps)
	rbSteps, _ := json.Marshal(opp.RollbackSteps)
	prereqs, _ := json.Marshal(opp.Prerequisites)

	query := `
		INSERT INTO optimization_opportunities (
			id, service_name, cloud_provider, region, resource_id,
			optimization_type, current_cost, potential_savings,
			confidence_score, risk_level, description,
			implementation_steps, rollback_steps, prerequisites,
			estimated_minutes, state, created_at, expires_at,
			approved_by, approved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := s.db.ExecContext(ctx, query,
		opp.ID, opp.ServiceName, opp.Resource.Provider, opp.Resource.Region, opp.Resource.ResourceID,
		opp.Type, opp.CurrentCost, opp.PotentialSavings,
		opp.ConfidenceScore, opp.RiskLevel, opp.Description,
		implSteps, rbSteps, prereqs,
		opp.EstimatedMinutes, opp.State, opp.CreatedAt, opp.ExpiresAt,
		nullString(opp.ApprovedBy), opp.ApprovedAt,
	)
	return err
}

const opportunityColumns = `
	id, service_name, cloud_provider, region, resource_id,
	optimization_type, current_cost, potential_savings,
	confidence_score, risk_level, description,
	implementation_steps, rollback_steps, prerequisites,
	estimated_minutes, state, created_at, expires_at,
	approved_by, approved_at
`

func (s *PostgresStore) GetOpportunity(ctx context.Context, id string) (*models.OptimizationOpportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM optimization_opportunities WHERE id = $1`
	opp, err := scanOpportunity(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("opportunity %s: %w", id, models.ErrNotFound)
	}
	return opp, err
}

func (s *PostgresStore) ListOpportunities(ctx context.Context, filter ListFilter) ([]*models.OptimizationOpportunity, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Provider != "" {
		where += " AND cloud_provider = " + arg(string(filter.Provider))
	}
	if filter.Type != "" {
		where += " AND optimization_type = " + arg(string(filter.Type))
	}
	if len(filter.States) > 0 {
		where += " AND state IN ("
		for i, st := range filter.States {
			if i > 0 {
				where += ", "
			}
			where += arg(string(st))
		}
		where += ")"
	}
	if !filter.ExpiresBefore.IsZero() {
		where += " AND expires_at <= " + arg(filter.ExpiresBefore)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM optimization_opportunities "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + opportunityColumns + ` FROM optimization_opportunities ` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.OptimizationOpportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, opp)
	}
	return out, total, rows.Err()
}

// RecordTransition commits the state change inside one transaction with a
// row lock, so a from-state mismatch from a concurrent writer surfaces as
// StaleTransitionError instead of a lost update.
func (s *PostgresStore) RecordTransition(ctx context.Context, ev *models.TransitionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current models.LifecycleState
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM optimization_opportunities WHERE id = $1 FOR UPDATE`,
		ev.OpportunityID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("opportunity %s: %w", ev.OpportunityID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}

	if current != ev.From {
		return &models.StaleTransitionError{
			OpportunityID: ev.OpportunityID,
			Expected:      ev.From,
			Actual:        current,
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transition_events (id, opportunity_id, from_state, to_state, evidence, actor, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.OpportunityID, ev.From, ev.To, nullString(ev.Evidence), nullString(ev.Actor), ev.RecordedAt,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE optimization_opportunities SET state = $1 WHERE id = $2`,
		ev.To, ev.OpportunityID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) GetHistory(ctx context.Context, opportunityID string) ([]*models.TransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, opportunity_id, from_state, to_state, evidence, actor, recorded_at
		 FROM transition_events WHERE opportunity_id = $1 ORDER BY recorded_at ASC`,
		opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.TransitionEvent
	for rows.Next() {
		var ev models.TransitionEvent
		var evidence, actor sql.NullString
		if err := rows.Scan(&ev.ID, &ev.OpportunityID, &ev.From, &ev.To, &evidence, &actor, &ev.RecordedAt); err != nil {
			return nil, err
		}
		ev.Evidence = evidence.String
		ev.Actor = actor.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) SaveApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	if req.Decision == "" {
		req.Decision = models.DecisionPending
	}

	receipts, _ := json.Marshal(req.Receipts)

	// The partial unique index on (opportunity_id) WHERE decision = 'pending'
	// turns a second active request into a constraint violation.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (
			id, opportunity_id, receipts, requested_at, expires_at,
			decision, escalation_level, escalated_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.OpportunityID, receipts, req.RequestedAt, req.ExpiresAt,
		req.Decision, req.EscalationLevel, nullString(req.EscalatedTo),
	)
	if err != nil && isUniqueViolation(err) {
		return &models.ConflictError{Err: models.ErrAlreadyInFlight}
	}
	return err
}

const approvalColumns = `
	id, opportunity_id, receipts, requested_at, expires_at,
	decision, decided_by, decided_at, decided_via, rejection_reason,
	escalation_level, escalated_to
`

func (s *PostgresStore) GetApprovalRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	req, err := scanApproval(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval request %s: %w", id, models.ErrNotFound)
	}
	return req, err
}

func (s *PostgresStore) ActiveApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE opportunity_id = $1 AND decision = 'pending'`
	req, err := scanApproval(s.db.QueryRowContext(ctx, query, opportunityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

func (s *PostgresStore) LatestApprovalRequest(ctx context.Context, opportunityID string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE opportunity_id = $1 ORDER BY requested_at DESC LIMIT 1`
	req, err := scanApproval(s.db.QueryRowContext(ctx, query, opportunityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// CommitDecision is the store-level compare-and-set: the UPDATE only hits a
// row still pending, so exactly one caller wins the decision race.
func (s *PostgresStore) CommitDecision(ctx context.Context, requestID string, decision models.Decision, deciderID, reason string, via models.ChannelType, at time.Time) (*models.DecisionResult, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, &models.ValidationError{Field: "decision", Message: "must be approved or rejected"}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests
		 SET decision = $1, decided_by = $2, decided_at = $3, decided_via = $4, rejection_reason = $5
		 WHERE id = $6 AND decision = 'pending'`,
		decision, deciderID, at, via, nullString(reason), requestID,
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		// Lost the race or duplicate delivery: return the stored outcome.
		req, err := s.GetApprovalRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		decidedAt := time.Time{}
		if req.DecidedAt != nil {
			decidedAt = *req.DecidedAt
		}
		return &models.DecisionResult{
			RequestID: requestID,
			Decision:  req.Decision,
			DecidedBy: req.DecidedBy,
			DecidedAt: decidedAt,
			Replay:    true,
		}, nil
	}

	s.markLosingReceiptsMoot(ctx, requestID, via)

	return &models.DecisionResult{
		RequestID: requestID,
		Decision:  decision,
		DecidedBy: deciderID,
		DecidedAt: at,
	}, nil
}

// markLosingReceiptsMoot flags receipts on every channel other than the
// deciding one, matching the in-memory store. Best effort: the decision
// itself already committed.
func (s *PostgresStore) markLosingReceiptsMoot(ctx context.Context, requestID string, via models.ChannelType) {
	req, err := s.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return
	}
	changed := false
	for i := range req.Receipts {
		if req.Receipts[i].Channel != via && !req.Receipts[i].Moot {
			req.Receipts[i].Moot = true
			changed = true
		}
	}
	if !changed {
		return
	}
	receipts, _ := json.Marshal(req.Receipts)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET receipts = $1 WHERE id = $2`,
		receipts, requestID,
	); err != nil {
		log.Printf("[WARN] failed to mark receipts moot for request %s: %v", requestID, err)
	}
}

func (s *PostgresStore) UpdateApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error {
	receipts, _ := json.Marshal(req.Receipts)
	result, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests
		 SET receipts = $1, expires_at = $2, escalation_level = $3, escalated_to = $4
		 WHERE id = $5`,
		receipts, req.ExpiresAt, req.EscalationLevel, nullString(req.EscalatedTo), req.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("approval request %s: %w", req.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListExpiredRequests(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
		WHERE decision = 'pending' AND expires_at <= $1 ORDER BY requested_at ASC`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Outcome == "" {
		rec.Outcome = models.OutcomePending
	}

	steps, _ := json.Marshal(rec.Steps)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_records (
			id, opportunity_id, steps, snapshot_ref, outcome,
			started_at, completed_at, executed_by, actual_savings,
			error_message, cancel_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.OpportunityID, steps, nullString(rec.SnapshotRef), rec.Outcome,
		rec.StartedAt, rec.CompletedAt, nullString(rec.ExecutedBy), rec.ActualSavings,
		nullString(rec.Error), nullString(rec.CancelReason),
	)
	return err
}

const executionColumns = `
	id, opportunity_id, steps, snapshot_ref, outcome,
	started_at, completed_at, executed_by, actual_savings,
	error_message, cancel_reason
`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM execution_records WHERE id = $1`
	rec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrNotFound)
	}
	return rec, err
}

func (s *PostgresStore) GetExecutionByOpportunity(ctx context.Context, opportunityID string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM execution_records
		WHERE opportunity_id = $1 ORDER BY started_at DESC LIMIT 1`
	rec, err := scanExecution(s.db.QueryRowContext(ctx, query, opportunityID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution for opportunity %s: %w", opportunityID, models.ErrNotFound)
	}
	return rec, err
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	steps, _ := json.Marshal(rec.Steps)

	// Finalized outcomes are immutable: the guard clause means updates to a
	// settled record touch zero rows.
	result, err := s.db.ExecContext(ctx,
		`UPDATE execution_records
		 SET steps = $1, snapshot_ref = $2, outcome = $3, completed_at = $4,
		     actual_savings = $5, error_message = $6, cancel_reason = $7
		 WHERE id = $8 AND outcome = 'pending'`,
		steps, nullString(rec.SnapshotRef), rec.Outcome, rec.CompletedAt,
		rec.ActualSavings, nullString(rec.Error), nullString(rec.CancelReason), rec.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		existing, err := s.GetExecution(ctx, rec.ID)
		if err != nil {
			return err
		}
		return &models.ConflictError{Err: fmt.Errorf("execution %s already finalized as %s", rec.ID, existing.Outcome)}
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOpportunity(row rowScanner) (*models.OptimizationOpportunity, error) {
	var opp models.OptimizationOpportunity
	var implSteps, rbSteps, prereqs []byte
	var approvedBy sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&opp.ID, &opp.ServiceName, &opp.Resource.Provider, &opp.Resource.Region, &opp.Resource.ResourceID,
		&opp.Type, &opp.CurrentCost, &opp.PotentialSavings,
		&opp.ConfidenceScore, &opp.RiskLevel, &opp.Description,
		&implSteps, &rbSteps, &prereqs,
		&opp.EstimatedMinutes, &opp.State, &opp.CreatedAt, &opp.ExpiresAt,
		&approvedBy, &approvedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(implSteps, &opp.ImplementationSteps)
	json.Unmarshal(rbSteps, &opp.RollbackSteps)
	json.Unmarshal(prereqs, &opp.Prerequisites)

	if approvedBy.Valid {
		opp.ApprovedBy = approvedBy.String
	}
	if approvedAt.Valid {
		opp.ApprovedAt = &approvedAt.Time
	}
	return &opp, nil
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var receipts []byte
	var decidedBy, decidedVia, reason, escalatedTo sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.OpportunityID, &receipts, &req.RequestedAt, &req.ExpiresAt,
		&req.Decision, &decidedBy, &decidedAt, &decidedVia, &reason,
		&req.EscalationLevel, &escalatedTo,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(receipts, &req.Receipts)

	req.DecidedBy = decidedBy.String
	req.DecidedVia = models.ChannelType(decidedVia.String)
	req.RejectionReason = reason.String
	req.EscalatedTo = escalatedTo.String
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

func scanExecution(row rowScanner) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	var steps []byte
	var snapshotRef, executedBy, errMsg, cancelReason sql.NullString
	var completedAt sql.NullTime
	var actualSavings sql.NullFloat64

	err := row.Scan(
		&rec.ID, &rec.OpportunityID, &steps, &snapshotRef, &rec.Outcome,
		&rec.StartedAt, &completedAt, &executedBy, &actualSavings,
		&errMsg, &cancelReason,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(steps, &rec.Steps)

	rec.SnapshotRef = snapshotRef.String
	rec.ExecutedBy = executedBy.String
	rec.Error = errMsg.String
	rec.CancelReason = cancelReason.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if actualSavings.Valid {
		rec.ActualSavings = actualSavings.Float64
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	// unique_violation is SQLSTATE 23505.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrValidation indicates malformed or internally inconsistent input.
	ErrValidation = errors.New("storage: validation failed")
)

// breakdownTolerance is the allowed gap between a snapshot total and the sum
// of its per-service breakdown.
var breakdownTolerance = decimal.NewFromFloat(0.01)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS guardian_records (
        record_key  TEXT PRIMARY KEY,
        record_kind TEXT NOT NULL,
        payload     JSONB NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        expires_at  TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS guardian_records_kind_created_idx
        ON guardian_records (record_kind, created_at);`

	upsertRecordSQL = `INSERT INTO guardian_records (
        record_key,
        record_kind,
        payload,
        expires_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (record_key) DO UPDATE
    SET
        payload    = EXCLUDED.payload,
        expires_at = EXCLUDED.expires_at,
        updated_at = now();`

	getRecordSQL = `SELECT payload FROM guardian_records
    WHERE record_key = $1
      AND expires_at > now();`

	listRecordRangeSQL = `SELECT payload FROM guardian_records
    WHERE record_key >= $1
      AND record_key < $2
      AND record_kind = $3
      AND expires_at > now()
    ORDER BY record_key;`

	listFeedbackByAlertSQL = `SELECT payload FROM guardian_records
    WHERE record_kind = 'feedback'
      AND payload->>'alert_id' = $1
      AND expires_at > now()
    ORDER BY record_key;`

	listFeedbackSinceSQL = `SELECT payload FROM guardian_records
    WHERE record_kind = 'feedback'
      AND created_at >= $1
      AND expires_at > now()
    ORDER BY created_at;`

	listChangesByStatusSQL = `SELECT payload FROM guardian_records
    WHERE record_kind = 'change'
      AND payload->>'status' = $1
      AND expires_at > now()
    ORDER BY record_key;`

	listRecentSnapshotsSQL = `SELECT payload FROM guardian_records
    WHERE record_kind = 'snapshot'
      AND expires_at > now()
    ORDER BY record_key DESC
    LIMIT $1;`

	purgeExpiredSQL = `DELETE FROM guardian_records WHERE expires_at <= now();`

	countRecordsSQL = `SELECT COUNT(*) FROM guardian_records WHERE expires_at > now();`
)

// SnapshotStore defines operations for cost snapshot persistence.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snapshot CostSnapshot) error
	QuerySnapshots(ctx context.Context, date, accountFilter string) ([]CostSnapshot, error)
	QueryHistory(ctx context.Context, accountID, beforeDate string, lookbackDays int) ([]CostSnapshot, error)
}

// FeedbackStore defines operations for anomaly feedback persistence.
type FeedbackStore interface {
	PutFeedback(ctx context.Context, feedback AnomalyFeedback) (AnomalyFeedback, error)
	QueryFeedbackByDate(ctx context.Context, date string) ([]AnomalyFeedback, error)
	QueryFeedbackByAlert(ctx context.Context, alertID string) ([]AnomalyFeedback, error)
	QueryFeedbackSince(ctx context.Context, since time.Time) ([]AnomalyFeedback, error)
}

// ChangeRecordStore defines operations for service change tracking.
type ChangeRecordStore interface {
	UpsertChangeRecord(ctx context.Context, record ServiceChangeRecord) (ServiceChangeRecord, bool, error)
	GetChangeRecord(ctx context.Context, service, kind string) (*ServiceChangeRecord, error)
	ListChangesByStatus(ctx context.Context, status string) ([]ServiceChangeRecord, error)
}

// Store aggregates access to the shared guardian_records keyspace.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ValidateSnapshot checks internal consistency before a write is attempted.
func ValidateSnapshot(snapshot CostSnapshot) error {
	if snapshot.AccountID == "" {
		return fmt.Errorf("%w: snapshot account id is empty", ErrValidation)
	}
	if snapshot.PeriodMarker == "" {
		return fmt.Errorf("%w: snapshot period marker is empty", ErrValidation)
	}
	if _, err := time.Parse(dateLayout, snapshot.Date); err != nil {
		return fmt.Errorf("%w: snapshot date %q is not YYYY-MM-DD", ErrValidation, snapshot.Date)
	}
	if snapshot.TotalCost.IsNegative() {
		return fmt.Errorf("%w: total cost %s is negative", ErrValidation, snapshot.TotalCost)
	}
	if len(snapshot.CostByService) > 0 {
		sum := decimal.Zero
		for _, cost := range snapshot.CostByService {
			sum = sum.Add(cost)
		}
		if sum.Sub(snapshot.TotalCost).Abs().GreaterThan(breakdownTolerance) {
			return fmt.Errorf("%w: breakdown sum %s does not match total %s", ErrValidation, sum, snapshot.TotalCost)
		}
	}
	return nil
}

// PutSnapshot upserts a snapshot by its (date, period, account) key.
func (s *Store) PutSnapshot(ctx context.Context, snapshot CostSnapshot) error {
	if err := ValidateSnapshot(snapshot); err != nil {
		return err
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now().UTC()
	}
	snapshot.ExpiresAt = snapshot.CapturedAt.Add(SnapshotTTL)

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertRecordSQL, snapshot.Key(), KindSnapshot, payload, snapshot.ExpiresAt); execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// QuerySnapshots lists snapshots for a date ordered by period marker,
// optionally filtered to one account.
func (s *Store) QuerySnapshots(ctx context.Context, date, accountFilter string) ([]CostSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	lower := fmt.Sprintf("%s#%s#", KindSnapshot, date)
	rows, queryErr := pool.Query(ctx, listRecordRangeSQL, lower, prefixUpperBound(lower), KindSnapshot)
	if queryErr != nil {
		return nil, fmt.Errorf("query snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots, scanErr := scanSnapshots(rows)
	if scanErr != nil {
		return nil, scanErr
	}

	if accountFilter == "" {
		return snapshots, nil
	}
	filtered := make([]CostSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.AccountID == accountFilter {
			filtered = append(filtered, snap)
		}
	}
	return filtered, nil
}

// QueryHistory returns the trailing window of daily snapshots for an account,
// ending the day before beforeDate. An empty window is not an error.
func (s *Store) QueryHistory(ctx context.Context, accountID, beforeDate string, lookbackDays int) ([]CostSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	end, parseErr := time.Parse(dateLayout, beforeDate)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: history date %q is not YYYY-MM-DD", ErrValidation, beforeDate)
	}
	start := end.AddDate(0, 0, -lookbackDays)

	lower := fmt.Sprintf("%s#%s#", KindSnapshot, start.Format(dateLayout))
	upper := fmt.Sprintf("%s#%s#", KindSnapshot, beforeDate)

	rows, queryErr := pool.Query(ctx, listRecordRangeSQL, lower, upper, KindSnapshot)
	if queryErr != nil {
		return nil, fmt.Errorf("query history: %w", queryErr)
	}
	defer rows.Close()

	snapshots, scanErr := scanSnapshots(rows)
	if scanErr != nil {
		return nil, scanErr
	}

	history := make([]CostSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.PeriodKind != PeriodDaily {
			continue
		}
		if accountID != "" && snap.AccountID != accountID {
			continue
		}
		history = append(history, snap)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Date < history[j].Date })
	return history, nil
}

// ListRecentSnapshots lists the most recent snapshots by descending key.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]CostSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// PutFeedback appends an immutable feedback record.
func (s *Store) PutFeedback(ctx context.Context, feedback AnomalyFeedback) (AnomalyFeedback, error) {
	if !ValidAlertID(feedback.AlertID) {
		return AnomalyFeedback{}, fmt.Errorf("%w: malformed alert id %q", ErrValidation, feedback.AlertID)
	}

	pool, err := s.getPool()
	if err != nil {
		return AnomalyFeedback{}, err
	}

	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	feedback.ExpiresAt = feedback.CreatedAt.Add(FeedbackTTL)

	payload, err := json.Marshal(feedback)
	if err != nil {
		return AnomalyFeedback{}, fmt.Errorf("marshal feedback: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertRecordSQL, feedback.Key(), KindFeedback, payload, feedback.ExpiresAt); execErr != nil {
		return AnomalyFeedback{}, fmt.Errorf("put feedback: %w", execErr)
	}
	return feedback, nil
}

// QueryFeedbackByDate lists feedback recorded on a calendar date.
func (s *Store) QueryFeedbackByDate(ctx context.Context, date string) ([]AnomalyFeedback, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	lower := fmt.Sprintf("%s#%s#", KindFeedback, date)
	rows, queryErr := pool.Query(ctx, listRecordRangeSQL, lower, prefixUpperBound(lower), KindFeedback)
	if queryErr != nil {
		return nil, fmt.Errorf("query feedback by date: %w", queryErr)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

// QueryFeedbackByAlert lists all feedback referencing one alert.
func (s *Store) QueryFeedbackByAlert(ctx context.Context, alertID string) ([]AnomalyFeedback, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFeedbackByAlertSQL, alertID)
	if queryErr != nil {
		return nil, fmt.Errorf("query feedback by alert: %w", queryErr)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

// QueryFeedbackSince lists feedback recorded at or after a timestamp.
func (s *Store) QueryFeedbackSince(ctx context.Context, since time.Time) ([]AnomalyFeedback, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listFeedbackSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("query feedback since: %w", queryErr)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

// GetChangeRecord fetches the change record for a (service, kind), nil when absent.
func (s *Store) GetChangeRecord(ctx context.Context, service, kind string) (*ServiceChangeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	key := ServiceChangeRecord{Service: service, Kind: kind}.Key()
	var payload []byte
	if scanErr := pool.QueryRow(ctx, getRecordSQL, key).Scan(&payload); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get change record: %w", scanErr)
	}

	var rec ServiceChangeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal change record: %w", err)
	}
	return &rec, nil
}

// UpsertChangeRecord enforces the single-active-record-per-(service, kind)
// invariant: an existing active record is updated in place, otherwise a new
// record is created. The returned flag is true when a record was created.
func (s *Store) UpsertChangeRecord(ctx context.Context, record ServiceChangeRecord) (ServiceChangeRecord, bool, error) {
	if record.Service == "" || record.Kind == "" {
		return ServiceChangeRecord{}, false, fmt.Errorf("%w: change record needs service and kind", ErrValidation)
	}

	pool, err := s.getPool()
	if err != nil {
		return ServiceChangeRecord{}, false, err
	}

	now := time.Now().UTC()
	existing, err := s.GetChangeRecord(ctx, record.Service, record.Kind)
	if err != nil {
		return ServiceChangeRecord{}, false, err
	}

	created := true
	if existing != nil && existing.Status == ChangeActive {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		created = false
	} else {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = ChangeActive
	}
	record.ExpiresAt = now.Add(ChangeTTL)

	payload, err := json.Marshal(record)
	if err != nil {
		return ServiceChangeRecord{}, false, fmt.Errorf("marshal change record: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertRecordSQL, record.Key(), KindChange, payload, record.ExpiresAt); execErr != nil {
		return ServiceChangeRecord{}, false, fmt.Errorf("upsert change record: %w", execErr)
	}
	return record, created, nil
}

// ListChangesByStatus lists change records in the given status.
func (s *Store) ListChangesByStatus(ctx context.Context, status string) ([]ServiceChangeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listChangesByStatusSQL, status)
	if queryErr != nil {
		return nil, fmt.Errorf("list changes by status: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ServiceChangeRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec ServiceChangeRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal change record: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// PurgeExpired removes records whose TTL has lapsed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, purgeExpiredSQL)
	if execErr != nil {
		return 0, fmt.Errorf("purge expired: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountRecords counts live records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

// prefixUpperBound returns the smallest key greater than every key sharing the
// prefix, for half-open range scans.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + strings.Repeat("\xff", 4)
}

func scanSnapshots(rows pgx.Rows) ([]CostSnapshot, error) {
	snapshots := make([]CostSnapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var snap CostSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanFeedback(rows pgx.Rows) ([]AnomalyFeedback, error) {
	feedback := make([]AnomalyFeedback, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var fb AnomalyFeedback
		if err := json.Unmarshal(payload, &fb); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
		feedback = append(feedback, fb)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return feedback, nil
}

var _ SnapshotStore = (*Store)(nil)
var _ FeedbackStore = (*Store)(nil)
var _ ChangeRecordStore = (*Store)(nil)

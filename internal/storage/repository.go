package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"metrion-backend/internal/indicator"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

const indicatorColumns = `id, name, owner, connection_ref, query, frequency_minutes,
	deviation_threshold_percent, minimum_threshold, baseline_window_minutes,
	cooldown_minutes, last_run_at, last_alert_at, is_active, created_at, updated_at`

func scanIndicator(row pgx.Row) (indicator.Indicator, error) {
	var ind indicator.Indicator
	err := row.Scan(&ind.ID, &ind.Name, &ind.Owner, &ind.ConnectionRef, &ind.Query,
		&ind.FrequencyMinutes, &ind.DeviationThresholdPercent, &ind.MinimumThreshold,
		&ind.BaselineWindowMinutes, &ind.CooldownMinutes, &ind.LastRunAt, &ind.LastAlertAt,
		&ind.IsActive, &ind.CreatedAt, &ind.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indicator.Indicator{}, ErrNotFound
		}
		return indicator.Indicator{}, err
	}
	return ind, nil
}

func (r *Repository) CreateIndicator(ctx context.Context, ind indicator.Indicator) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO indicators (id, name, owner, connection_ref, query, frequency_minutes,
			deviation_threshold_percent, minimum_threshold, baseline_window_minutes,
			cooldown_minutes, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())`,
		id, ind.Name, ind.Owner, ind.ConnectionRef, ind.Query, ind.FrequencyMinutes,
		ind.DeviationThresholdPercent, ind.MinimumThreshold, ind.BaselineWindowMinutes,
		ind.CooldownMinutes, ind.IsActive,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetIndicator(ctx context.Context, id string) (indicator.Indicator, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+indicatorColumns+` FROM indicators WHERE id=$1`, id)
	return scanIndicator(row)
}

func (r *Repository) ListIndicators(ctx context.Context) ([]indicator.Indicator, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+indicatorColumns+` FROM indicators ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []indicator.Indicator{}
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ind)
	}
	return results, nil
}

func (r *Repository) ListActiveIndicators(ctx context.Context) ([]indicator.Indicator, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+indicatorColumns+` FROM indicators WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []indicator.Indicator{}
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ind)
	}
	return results, nil
}

func (r *Repository) UpdateIndicator(ctx context.Context, ind indicator.Indicator) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE indicators
		SET name=$1, owner=$2, connection_ref=$3, query=$4, frequency_minutes=$5,
			deviation_threshold_percent=$6, minimum_threshold=$7, baseline_window_minutes=$8,
			cooldown_minutes=$9, is_active=$10, updated_at=now()
		WHERE id=$11`,
		ind.Name, ind.Owner, ind.ConnectionRef, ind.Query, ind.FrequencyMinutes,
		ind.DeviationThresholdPercent, ind.MinimumThreshold, ind.BaselineWindowMinutes,
		ind.CooldownMinutes, ind.IsActive, ind.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetIndicatorActive(ctx context.Context, id string, active bool) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE indicators SET is_active=$1, updated_at=now() WHERE id=$2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteIndicator(ctx context.Context, id string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM indicators WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRunBookkeeping advances last_run_at after every execution and
// last_alert_at only when an alert was raised, in one statement so the two
// moves are atomic for the row.
func (r *Repository) UpdateRunBookkeeping(ctx context.Context, indicatorID string, lastRunAt time.Time, lastAlertAt *time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE indicators
		SET last_run_at=$1, last_alert_at=COALESCE($2, last_alert_at), updated_at=now()
		WHERE id=$3`,
		lastRunAt, lastAlertAt, indicatorID,
	)
	return err
}

func (r *Repository) SaveExecution(ctx context.Context, res indicator.ExecutionResult) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO executions (id, indicator_id, executed_at, value, baseline,
			deviation_percent, outcome, error_message, duration_ms, alert_raised)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.IndicatorID, res.ExecutedAt, res.Value, res.Baseline,
		res.DeviationPercent, string(res.Outcome), res.ErrorMessage, res.DurationMS, res.AlertRaised,
	)
	return err
}

func (r *Repository) ListExecutions(ctx context.Context, indicatorID string, limit int) ([]indicator.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, indicator_id, executed_at, value, baseline, deviation_percent,
			outcome, error_message, duration_ms, alert_raised
		FROM executions WHERE indicator_id=$1 ORDER BY executed_at DESC LIMIT $2`,
		indicatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []indicator.ExecutionResult{}
	for rows.Next() {
		var res indicator.ExecutionResult
		var outcome string
		if err := rows.Scan(&res.ID, &res.IndicatorID, &res.ExecutedAt, &res.Value, &res.Baseline,
			&res.DeviationPercent, &outcome, &res.ErrorMessage, &res.DurationMS, &res.AlertRaised); err != nil {
			return nil, err
		}
		res.Outcome = indicator.Outcome(outcome)
		results = append(results, res)
	}
	return results, nil
}

// AverageObservedSince is the baseline aggregation: the mean observed value of
// non-failed executions for one indicator since a point in time.
func (r *Repository) AverageObservedSince(ctx context.Context, indicatorID string, since time.Time) (float64, int, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(value), 0), COUNT(*)
		FROM executions
		WHERE indicator_id=$1 AND executed_at >= $2 AND outcome <> 'failed'`,
		indicatorID, since)
	var avg float64
	var samples int64
	if err := row.Scan(&avg, &samples); err != nil {
		return 0, 0, err
	}
	return avg, int(samples), nil
}

func (r *Repository) CreateAlert(ctx context.Context, alert indicator.Alert) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (id, indicator_id, execution_id, message, raised_at, treated)
		VALUES ($1,$2,$3,$4,$5,false)`,
		alert.ID, alert.IndicatorID, alert.ExecutionID, alert.Message, alert.RaisedAt,
	)
	return err
}

func (r *Repository) ListAlerts(ctx context.Context, indicatorID string, limit int) ([]indicator.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, indicator_id, execution_id, message, raised_at, treated
		FROM alerts WHERE indicator_id=$1 ORDER BY raised_at DESC LIMIT $2`,
		indicatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []indicator.Alert{}
	for rows.Next() {
		var alert indicator.Alert
		if err := rows.Scan(&alert.ID, &alert.IndicatorID, &alert.ExecutionID, &alert.Message, &alert.RaisedAt, &alert.Treated); err != nil {
			return nil, err
		}
		results = append(results, alert)
	}
	return results, nil
}

func (r *Repository) SetAlertTreated(ctx context.Context, id string, treated bool) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE alerts SET treated=$1 WHERE id=$2`, treated, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateConnection(ctx context.Context, conn Connection) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO data_source_connections (id, name, type, host, port, user_name,
			password_enc, database_name, ssl_mode, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
		id, conn.Name, conn.Type, conn.Host, conn.Port, conn.User,
		conn.PasswordEnc, conn.Database, conn.SSLMode,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetConnection(ctx context.Context, id string) (Connection, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, name, type, host, port, user_name, password_enc, database_name,
			ssl_mode, created_at, updated_at
		FROM data_source_connections WHERE id=$1`, id)
	var conn Connection
	err := row.Scan(&conn.ID, &conn.Name, &conn.Type, &conn.Host, &conn.Port, &conn.User,
		&conn.PasswordEnc, &conn.Database, &conn.SSLMode, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	return conn, nil
}

func (r *Repository) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, name, type, host, port, user_name, password_enc, database_name,
			ssl_mode, created_at, updated_at
		FROM data_source_connections ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []Connection{}
	for rows.Next() {
		var conn Connection
		if err := rows.Scan(&conn.ID, &conn.Name, &conn.Type, &conn.Host, &conn.Port, &conn.User,
			&conn.PasswordEnc, &conn.Database, &conn.SSLMode, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, conn)
	}
	return results, nil
}

func (r *Repository) DeleteConnection(ctx context.Context, id string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM data_source_connections WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

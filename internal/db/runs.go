package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/sim"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// Kind says what produced a run.
type Kind string

const (
	KindSimulation   Kind = "simulation"
	KindOptimization Kind = "optimization"
)

// Run is one row of history. Summary never carries telemetry.
type Run struct {
	ID               string         `json:"run_id"`
	Kind             Kind           `json:"kind"`
	Name             string         `json:"name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	TrackFingerprint string         `json:"track_fingerprint,omitempty"`
	Config           config.Config  `json:"config"`
	Summary          sim.Result     `json:"summary"`
	Fitness          *float64       `json:"fitness,omitempty"`
	Policy           *policy.Policy `json:"policy,omitempty"`
	Saved            bool           `json:"saved"`
	SavedName        string         `json:"saved_name,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Kind      Kind
	SavedOnly bool
	Limit     int
}

// InsertRun appends r to history. An empty ID is filled with a new UUID
// and a zero CreatedAt with the current time.
func (db *DB) InsertRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = db.clock.Now()
	}
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	warnings := r.Summary.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warnJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	var policyJSON sql.NullString
	if r.Policy != nil {
		b, err := policy.Marshal(*r.Policy)
		if err != nil {
			return fmt.Errorf("encode policy: %w", err)
		}
		policyJSON = sql.NullString{String: string(b), Valid: true}
	}
	var fit sql.NullFloat64
	if r.Fitness != nil {
		fit = sql.NullFloat64{Float64: *r.Fitness, Valid: true}
	}

	s := r.Summary
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, kind, name, created_unix_nanos, track_fingerprint, config_json,
			average_speed_kmh, total_energy_kwh, total_time_s, total_distance_m,
			laps_completed, terminated_reason, stops_served, stop_violations, steps,
			warnings_json, fitness, policy_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.Name, r.CreatedAt.UnixNano(), r.TrackFingerprint, string(cfgJSON),
		s.AverageSpeedKmh, s.TotalEnergyKWh, s.TotalTimeS, s.TotalDistanceM,
		s.LapsCompleted, string(s.Reason), s.StopsServed, s.StopViolations, s.Steps,
		string(warnJSON), fit, policyJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `
	r.run_id, r.kind, r.name, r.created_unix_nanos, r.track_fingerprint, r.config_json,
	r.average_speed_kmh, r.total_energy_kwh, r.total_time_s, r.total_distance_m,
	r.laps_completed, r.terminated_reason, r.stops_served, r.stop_violations, r.steps,
	r.warnings_json, r.fitness, r.policy_json, s.name`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r          Run
		kind       string
		created    int64
		cfgJSON    string
		reason     string
		warnJSON   string
		fit        sql.NullFloat64
		policyJSON sql.NullString
		savedName  sql.NullString
	)
	s := &r.Summary
	err := row.Scan(
		&r.ID, &kind, &r.Name, &created, &r.TrackFingerprint, &cfgJSON,
		&s.AverageSpeedKmh, &s.TotalEnergyKWh, &s.TotalTimeS, &s.TotalDistanceM,
		&s.LapsCompleted, &reason, &s.StopsServed, &s.StopViolations, &s.Steps,
		&warnJSON, &fit, &policyJSON, &savedName,
	)
	if err != nil {
		return r, err
	}
	r.Kind = Kind(kind)
	r.CreatedAt = time.Unix(0, created).UTC()
	s.Reason = sim.Reason(reason)
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return r, fmt.Errorf("decode config of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(warnJSON), &s.Warnings); err != nil {
		return r, fmt.Errorf("decode warnings of run %s: %w", r.ID, err)
	}
	if len(s.Warnings) == 0 {
		s.Warnings = nil
	}
	if fit.Valid {
		f := fit.Float64
		r.Fitness = &f
	}
	if policyJSON.Valid {
		p, err := policy.Unmarshal([]byte(policyJSON.String))
		if err != nil {
			return r, fmt.Errorf("decode policy of run %s: %w", r.ID, err)
		}
		r.Policy = &p
	}
	if savedName.Valid {
		r.Saved = true
		r.SavedName = savedName.String
	}
	return r, nil
}

// GetRun returns the run with id, or ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+`
		FROM runs r LEFT JOIN saved_runs s ON s.run_id = r.run_id
		WHERE r.run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.SavedOnly {
		where = append(where, "s.run_id IS NOT NULL")
	}
	q := `SELECT ` + runColumns + ` FROM runs r LEFT JOIN saved_runs s ON s.run_id = r.run_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.created_unix_nanos DESC, r.rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run along with its generations and saved entry.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// SaveRun marks a run as kept under name. Saving again renames it.
func (db *DB) SaveRun(ctx context.Context, id, name string) error {
	if _, err := db.GetRun(ctx, id); err != nil {
		return err
	}
	if name == "" {
		name = id
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO saved_runs (run_id, name, saved_unix_nanos) VALUES (?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET name = excluded.name`,
		id, name, db.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save run %s: %w", id, err)
	}
	return nil
}

// UnsaveRun drops a run from the saved list. The run stays in history.
func (db *DB) UnsaveRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM saved_runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("unsave run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// InsertGenerations records the convergence history of an optimization run.
func (db *DB) InsertGenerations(ctx context.Context, runID string, history []optimizer.Summary) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO generations (
			run_id, generation, best_fitness, mean_fitness, stddev_fitness,
			best_so_far, evaluations, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range history {
		if _, err := stmt.ExecContext(ctx, runID, g.Generation, g.BestFitness, g.MeanFitness,
			g.StdDevFitness, g.BestSoFar, g.Evaluations, string(g.Status)); err != nil {
			return fmt.Errorf("insert generation %d of run %s: %w", g.Generation, runID, err)
		}
	}
	return tx.Commit()
}

// Generations returns the recorded history of runID in generation order.
func (db *DB) Generations(ctx context.Context, runID string) ([]optimizer.Summary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT generation, best_fitness, mean_fitness, stddev_fitness, best_so_far, evaluations, status
		FROM generations WHERE run_id = ? ORDER BY generation`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []optimizer.Summary
	for rows.Next() {
		var (
			g      optimizer.Summary
			status string
		)
		if err := rows.Scan(&g.Generation, &g.BestFitness, &g.MeanFitness, &g.StdDevFitness,
			&g.BestSoFar, &g.Evaluations, &status); err != nil {
			return nil, err
		}
		g.Status = optimizer.Status(status)
		out = append(out, g)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/idfuse/internal/model"
)

// SQLiteStore implements Store on an embedded database for single-node
// deployments and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn. Use ":memory:" for an
// ephemeral store.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// Single writer; WAL keeps readers unblocked during inserts.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", p)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS access_logs (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	ts               TIMESTAMP NOT NULL,
	route            TEXT NOT NULL,
	decision         TEXT NOT NULL,
	identity         TEXT,
	candidates       TEXT NOT NULL DEFAULT '[]',
	timing_ms        REAL NOT NULL,
	status_code      INTEGER NOT NULL,
	backends_queried INTEGER NOT NULL DEFAULT 0,
	backend_timeouts INTEGER NOT NULL DEFAULT 0,
	backend_errors   INTEGER NOT NULL DEFAULT 0,
	qa_used          INTEGER NOT NULL DEFAULT 0,
	image_sha256     TEXT,
	image_bytes      INTEGER
);

CREATE TABLE IF NOT EXISTS service_logs (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL,
	ts           TIMESTAMP NOT NULL,
	service_type TEXT NOT NULL,
	service_name TEXT NOT NULL,
	endpoint     TEXT NOT NULL,
	latency_ms   REAL NOT NULL,
	status_code  INTEGER,
	timeout      INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_access_logs_ts ON access_logs(ts);
CREATE INDEX IF NOT EXISTS idx_access_logs_request_id ON access_logs(request_id);
CREATE INDEX IF NOT EXISTS idx_access_logs_decision ON access_logs(decision);
CREATE INDEX IF NOT EXISTS idx_service_logs_ts ON service_logs(ts);
CREATE INDEX IF NOT EXISTS idx_service_logs_request_id ON service_logs(request_id);
CREATE INDEX IF NOT EXISTS idx_service_logs_service_name ON service_logs(service_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertCallOutcome(ctx context.Context, o model.CallOutcome) error {
	var statusCode any
	if o.StatusCode != 0 {
		statusCode = o.StatusCode
	}
	var errText any
	if o.Err != "" {
		errText = o.Err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_logs (id, request_id, ts, service_type, service_name, endpoint, latency_ms, status_code, timeout, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), o.RequestID, sqliteTime(o.At), string(o.Service), o.Backend, o.Endpoint,
		o.LatencyMS, statusCode, boolInt(o.TimedOut), errText,
	)
	return eris.Wrap(err, "sqlite: insert service log")
}

func (s *SQLiteStore) InsertAccessRecord(ctx context.Context, r model.AccessRecord) error {
	var identityJSON any
	if r.Identity != nil {
		b, err := json.Marshal(r.Identity)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal identity")
		}
		identityJSON = string(b)
	}
	candidates := r.Candidates
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO access_logs (id, request_id, ts, route, decision, identity, candidates, timing_ms, status_code, backends_queried, backend_timeouts, backend_errors, qa_used, image_sha256, image_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), r.RequestID, sqliteTime(r.At), r.Route, string(r.Decision), identityJSON, string(candidatesJSON),
		r.TimingMS, r.StatusCode, r.BackendsQueried, r.BackendTimeouts, r.BackendErrors, boolInt(r.QAUsed),
		r.ImageSHA256, r.ImageBytes,
	)
	return eris.Wrap(err, "sqlite: insert access log")
}

func (s *SQLiteStore) SummaryMetrics(ctx context.Context, since time.Time) (*model.SummaryMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(timing_ms), 0),
		       COALESCE(SUM(CASE WHEN status_code <> 200 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN qa_used <> 0 THEN 1 ELSE 0 END), 0)
		FROM access_logs WHERE ts >= ?`, sqliteTime(since))

	var total, errCount, qaCount int
	var avg float64
	if err := row.Scan(&total, &avg, &errCount, &qaCount); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary metrics")
	}

	latencies, err := s.orderedTimings(ctx, since)
	if err != nil {
		return nil, err
	}

	m := &model.SummaryMetrics{
		TotalRequests: total,
		AvgLatencyMS:  round2(avg),
		P50LatencyMS:  round2(percentile(latencies, 0.50)),
		P95LatencyMS:  round2(percentile(latencies, 0.95)),
	}
	if total > 0 {
		m.ErrorRate = float64(errCount) / float64(total)
		m.QAUsageRate = float64(qaCount) / float64(total)
	}
	return m, nil
}

// orderedTimings fetches request latencies ascending for percentile math;
// sqlite has no percentile aggregate.
func (s *SQLiteStore) orderedTimings(ctx context.Context, since time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timing_ms FROM access_logs WHERE ts >= ? ORDER BY timing_ms`, sqliteTime(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch timings")
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan timing")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: timings rows")
	}
	sort.Float64s(out)
	return out, nil
}

func (s *SQLiteStore) DecisionMetrics(ctx context.Context, since time.Time) ([]model.DecisionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision, COUNT(*)
		FROM access_logs WHERE ts >= ?
		GROUP BY decision ORDER BY COUNT(*) DESC`, sqliteTime(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: decision metrics")
	}
	defer rows.Close()

	var out []model.DecisionCount
	var total int
	for rows.Next() {
		var dc model.DecisionCount
		var decision string
		if err := rows.Scan(&decision, &dc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision metrics")
		}
		dc.Decision = model.Decision(decision)
		total += dc.Count
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: decision metrics rows")
	}

	applyDecisionPercentages(out, total)
	return out, nil
}

func (s *SQLiteStore) ServiceMetrics(ctx context.Context, since time.Time) ([]model.ServiceMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name,
		       MIN(service_type),
		       COUNT(*),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(CASE WHEN timeout <> 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN timeout = 0 AND error IS NOT NULL AND error <> '' THEN 1 ELSE 0 END), 0)
		FROM service_logs WHERE ts >= ?
		GROUP BY service_name ORDER BY COUNT(*) DESC`, sqliteTime(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: service metrics")
	}
	defer rows.Close()

	var out []model.ServiceMetrics
	for rows.Next() {
		var sm model.ServiceMetrics
		var serviceType string
		var avg float64
		if err := rows.Scan(&sm.Service, &serviceType, &sm.TotalCalls, &avg, &sm.TimeoutCount, &sm.ErrorCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan service metrics")
		}
		sm.Type = model.ServiceType(serviceType)
		sm.AvgLatencyMS = round2(avg)
		if sm.TotalCalls > 0 {
			sm.SuccessRate = float64(sm.TotalCalls-sm.TimeoutCount-sm.ErrorCount) / float64(sm.TotalCalls)
		}
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: service metrics rows")
}

func (s *SQLiteStore) TopTimeouts(ctx context.Context, since time.Time, limit int) ([]model.TimeoutRank, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN timeout <> 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM service_logs WHERE ts >= ? AND service_type = 'verify'
		GROUP BY service_name
		ORDER BY SUM(CASE WHEN timeout <> 0 THEN 1 ELSE 0 END) DESC
		LIMIT ?`, sqliteTime(since), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top timeouts")
	}
	defer rows.Close()

	var out []model.TimeoutRank
	for rows.Next() {
		var tr model.TimeoutRank
		var avg float64
		if err := rows.Scan(&tr.Service, &tr.TotalCalls, &tr.Timeouts, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan top timeouts")
		}
		tr.AvgLatencyMS = round2(avg)
		if tr.TotalCalls > 0 {
			tr.TimeoutRate = float64(tr.Timeouts) / float64(tr.TotalCalls)
		}
		out = append(out, tr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top timeouts rows")
}

func (s *SQLiteStore) HourlyVolume(ctx context.Context, since time.Time) ([]model.HourlyBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00Z', ts), COUNT(*), COALESCE(AVG(timing_ms), 0)
		FROM access_logs WHERE ts >= ?
		GROUP BY 1 ORDER BY 1`, sqliteTime(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: hourly volume")
	}
	defer rows.Close()

	var out []model.HourlyBucket
	for rows.Next() {
		var hb model.HourlyBucket
		var hour string
		var avg float64
		if err := rows.Scan(&hour, &hb.Requests, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan hourly volume")
		}
		t, err := time.Parse(time.RFC3339, hour)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse hour bucket")
		}
		hb.Hour = t
		hb.AvgLatencyMS = round2(avg)
		out = append(out, hb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: hourly volume rows")
}

// sqliteTime renders a timestamp in a fixed-width UTC form so range filters
// compare lexicographically and the date functions can parse it.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

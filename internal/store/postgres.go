package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/idfuse/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path insert queries to prepare on each
// new connection.
var preparedStatements = map[string]string{
	"insert_service_log": `INSERT INTO service_logs (id, request_id, ts, service_type, service_name, endpoint, latency_ms, status_code, timeout, error) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_access_log":  `INSERT INTO access_logs (id, request_id, ts, route, decision, identity, candidates, timing_ms, status_code, backends_queried, backend_timeouts, backend_errors, qa_used, image_sha256, image_bytes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS access_logs (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	route            TEXT NOT NULL,
	decision         TEXT NOT NULL,
	identity         JSONB,
	candidates       JSONB NOT NULL DEFAULT '[]',
	timing_ms        DOUBLE PRECISION NOT NULL,
	status_code      INT NOT NULL,
	backends_queried INT NOT NULL DEFAULT 0,
	backend_timeouts INT NOT NULL DEFAULT 0,
	backend_errors   INT NOT NULL DEFAULT 0,
	qa_used          BOOLEAN NOT NULL DEFAULT FALSE,
	image_sha256     TEXT,
	image_bytes      INT
);

CREATE TABLE IF NOT EXISTS service_logs (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	service_type TEXT NOT NULL,
	service_name TEXT NOT NULL,
	endpoint     TEXT NOT NULL,
	latency_ms   DOUBLE PRECISION NOT NULL,
	status_code  INT,
	timeout      BOOLEAN NOT NULL DEFAULT FALSE,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_access_logs_ts ON access_logs(ts DESC);
CREATE INDEX IF NOT EXISTS idx_access_logs_request_id ON access_logs(request_id);
CREATE INDEX IF NOT EXISTS idx_access_logs_decision ON access_logs(decision);
CREATE INDEX IF NOT EXISTS idx_service_logs_ts ON service_logs(ts DESC);
CREATE INDEX IF NOT EXISTS idx_service_logs_request_id ON service_logs(request_id);
CREATE INDEX IF NOT EXISTS idx_service_logs_service_name ON service_logs(service_name);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertCallOutcome(ctx context.Context, o model.CallOutcome) error {
	var statusCode any
	if o.StatusCode != 0 {
		statusCode = o.StatusCode
	}
	var errText any
	if o.Err != "" {
		errText = o.Err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO service_logs (id, request_id, ts, service_type, service_name, endpoint, latency_ms, status_code, timeout, error) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(), o.RequestID, o.At, string(o.Service), o.Backend, o.Endpoint, o.LatencyMS, statusCode, o.TimedOut, errText,
	)
	return eris.Wrap(err, "postgres: insert service log")
}

func (s *PostgresStore) InsertAccessRecord(ctx context.Context, r model.AccessRecord) error {
	var identityJSON any
	if r.Identity != nil {
		b, err := json.Marshal(r.Identity)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal identity")
		}
		identityJSON = b
	}
	candidates := r.Candidates
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO access_logs (id, request_id, ts, route, decision, identity, candidates, timing_ms, status_code, backends_queried, backend_timeouts, backend_errors, qa_used, image_sha256, image_bytes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.New().String(), r.RequestID, r.At, r.Route, string(r.Decision), identityJSON, candidatesJSON,
		r.TimingMS, r.StatusCode, r.BackendsQueried, r.BackendTimeouts, r.BackendErrors, r.QAUsed, r.ImageSHA256, r.ImageBytes,
	)
	return eris.Wrap(err, "postgres: insert access log")
}

func (s *PostgresStore) SummaryMetrics(ctx context.Context, since time.Time) (*model.SummaryMetrics, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(timing_ms), 0),
		       COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY timing_ms), 0),
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY timing_ms), 0),
		       COUNT(*) FILTER (WHERE status_code <> 200),
		       COUNT(*) FILTER (WHERE qa_used)
		FROM access_logs WHERE ts >= $1`, since)

	var total, errCount, qaCount int
	var avg, p50, p95 float64
	if err := row.Scan(&total, &avg, &p50, &p95, &errCount, &qaCount); err != nil {
		return nil, eris.Wrap(err, "postgres: summary metrics")
	}

	m := &model.SummaryMetrics{
		TotalRequests: total,
		AvgLatencyMS:  round2(avg),
		P50LatencyMS:  round2(p50),
		P95LatencyMS:  round2(p95),
	}
	if total > 0 {
		m.ErrorRate = float64(errCount) / float64(total)
		m.QAUsageRate = float64(qaCount) / float64(total)
	}
	return m, nil
}

func (s *PostgresStore) DecisionMetrics(ctx context.Context, since time.Time) ([]model.DecisionCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT decision, COUNT(*)
		FROM access_logs WHERE ts >= $1
		GROUP BY decision ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: decision metrics")
	}
	defer rows.Close()

	var out []model.DecisionCount
	var total int
	for rows.Next() {
		var dc model.DecisionCount
		if err := rows.Scan(&dc.Decision, &dc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision metrics")
		}
		total += dc.Count
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: decision metrics rows")
	}

	applyDecisionPercentages(out, total)
	return out, nil
}

func (s *PostgresStore) ServiceMetrics(ctx context.Context, since time.Time) ([]model.ServiceMetrics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_name,
		       MIN(service_type),
		       COUNT(*),
		       COALESCE(AVG(latency_ms), 0),
		       COUNT(*) FILTER (WHERE timeout),
		       COUNT(*) FILTER (WHERE NOT timeout AND error IS NOT NULL AND error <> '')
		FROM service_logs WHERE ts >= $1
		GROUP BY service_name ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: service metrics")
	}
	defer rows.Close()

	var out []model.ServiceMetrics
	for rows.Next() {
		var sm model.ServiceMetrics
		var avg float64
		if err := rows.Scan(&sm.Service, &sm.Type, &sm.TotalCalls, &avg, &sm.TimeoutCount, &sm.ErrorCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan service metrics")
		}
		sm.AvgLatencyMS = round2(avg)
		if sm.TotalCalls > 0 {
			sm.SuccessRate = float64(sm.TotalCalls-sm.TimeoutCount-sm.ErrorCount) / float64(sm.TotalCalls)
		}
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: service metrics rows")
}

func (s *PostgresStore) TopTimeouts(ctx context.Context, since time.Time, limit int) ([]model.TimeoutRank, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT service_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE timeout),
		       COALESCE(AVG(latency_ms), 0)
		FROM service_logs WHERE ts >= $1 AND service_type = 'verify'
		GROUP BY service_name
		ORDER BY COUNT(*) FILTER (WHERE timeout) DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top timeouts")
	}
	defer rows.Close()

	var out []model.TimeoutRank
	for rows.Next() {
		var tr model.TimeoutRank
		var avg float64
		if err := rows.Scan(&tr.Service, &tr.TotalCalls, &tr.Timeouts, &avg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan top timeouts")
		}
		tr.AvgLatencyMS = round2(avg)
		if tr.TotalCalls > 0 {
			tr.TimeoutRate = float64(tr.Timeouts) / float64(tr.TotalCalls)
		}
		out = append(out, tr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top timeouts rows")
}

func (s *PostgresStore) HourlyVolume(ctx context.Context, since time.Time) ([]model.HourlyBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('hour', ts), COUNT(*), COALESCE(AVG(timing_ms), 0)
		FROM access_logs WHERE ts >= $1
		GROUP BY 1 ORDER BY 1`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: hourly volume")
	}
	defer rows.Close()

	var out []model.HourlyBucket
	for rows.Next() {
		var hb model.HourlyBucket
		var avg float64
		if err := rows.Scan(&hb.Hour, &hb.Requests, &avg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan hourly volume")
		}
		hb.AvgLatencyMS = round2(avg)
		out = append(out, hb)
	}
	return out, eris.Wrap(rows.Err(), "postgres: hourly volume rows")
}

// applyDecisionPercentages fills in the share of each decision.
func applyDecisionPercentages(rows []model.DecisionCount, total int) {
	if total == 0 {
		return
	}
	for i := range rows {
		rows[i].Percentage = round2(float64(rows[i].Count) / float64(total) * 100)
	}
}

// Package health implements the /v1/system/health surface: a Postgres
// ping, per-projector watermark freshness, the dead-letter backlog size,
// and host resource stats, rolled up into an overall UP/DEGRADED/DOWN
// verdict. Reports are cached in Redis for a short TTL so a burst of
// probes doesn't hammer the database.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tidwall/gjson"

	"github.com/agentctl/core/internal/projector"
	"github.com/agentctl/core/pkg/config"
	"github.com/agentctl/core/pkg/logger"
)

// Status is the overall or per-check health verdict.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is one component's contribution to the report.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Latency int64  `json:"latency_ms"`
}

// Report is the full /v1/system/health response body.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
	Cached    bool      `json:"cached"`
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Checker computes and caches health reports.
type Checker struct {
	db         *sql.DB
	watermarks projector.WatermarkStore
	deadLetter projector.DeadLetterStore
	workspaces projector.WorkspaceLister
	projectors []string
	redis      *redis.Client
	cfg        config.HealthConfig
	log        *logger.Logger
	now        func() time.Time
}

// New constructs a health checker. redisClient may be nil, in which case
// every report is computed fresh with no caching layer.
func New(db *sql.DB, watermarks projector.WatermarkStore, deadLetter projector.DeadLetterStore,
	workspaces projector.WorkspaceLister, projectorNames []string, redisClient *redis.Client,
	cfg config.HealthConfig, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.NewDefault("health")
	}
	return &Checker{
		db: db, watermarks: watermarks, deadLetter: deadLetter, workspaces: workspaces,
		projectors: projectorNames, redis: redisClient, cfg: cfg, log: log, now: time.Now,
	}
}

// Check returns a health report, serving from the Redis cache when a
// fresh-enough entry exists.
func (c *Checker) Check(ctx context.Context) Report {
	cacheKey := "controlplane:health:report"

	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil && cacheIsFresh(cached) {
			var r Report
			if json.Unmarshal([]byte(cached), &r) == nil {
				r.Cached = true
				return r
			}
		}
	}

	report := c.compute(ctx)

	if c.redis != nil {
		if encoded, err := json.Marshal(report); err == nil {
			ttl := time.Duration(c.cfg.CacheTTLSec) * time.Second
			if ttl <= 0 {
				ttl = 10 * time.Second
			}
			if err := c.redis.Set(ctx, cacheKey, encoded, ttl).Err(); err != nil {
				c.log.WithField("component", "health").WithField("error", err.Error()).Warn("health cache write failed")
			}
		}
	}

	return report
}

// cacheIsFresh peeks at the cached report's top-level status field with
// gjson rather than fully unmarshaling into a Report just to decide
// whether the cache entry is usable: a cached "down" verdict is never
// served, even within its TTL, so an operator polling during an outage
// always sees a freshly recomputed report instead of a stale one.
func cacheIsFresh(cached string) bool {
	return gjson.Get(cached, "status").String() != string(StatusDown)
}

func (c *Checker) compute(ctx context.Context) Report {
	checks := make([]Check, 0, 4+len(c.projectors))
	overall := StatusUp

	dbCheck := c.checkDatabase(ctx)
	checks = append(checks, dbCheck)
	overall = worse(overall, dbCheck.Status)

	for _, p := range c.checkProjectors(ctx) {
		checks = append(checks, p)
		overall = worse(overall, p.Status)
	}

	dlqCheck := c.checkDeadLetter(ctx)
	checks = append(checks, dlqCheck)
	overall = worse(overall, dlqCheck.Status)

	hostCheck := c.checkHost(ctx)
	checks = append(checks, hostCheck)
	overall = worse(overall, hostCheck.Status)

	return Report{Status: overall, Timestamp: c.now(), Checks: checks}
}

func (c *Checker) checkDatabase(ctx context.Context) Check {
	start := time.Now()

	timeout := time.Duration(c.cfg.DBStatementTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.db == nil {
		return Check{Name: "database", Status: StatusDown, Detail: "no database configured"}
	}
	if err := c.db.PingContext(pingCtx); err != nil {
		return Check{Name: "database", Status: StatusDown, Detail: err.Error(), Latency: time.Since(start).Milliseconds()}
	}
	return Check{Name: "database", Status: StatusUp, Latency: time.Since(start).Milliseconds()}
}

// checkProjectors reports, per known projector, the worst freshness found
// across every workspace's watermark, collapsed into a single check per
// projector so the report doesn't grow unbounded with workspace count.
func (c *Checker) checkProjectors(ctx context.Context) []Check {
	if c.watermarks == nil || c.workspaces == nil || len(c.projectors) == 0 {
		return nil
	}

	workspaceIDs, err := c.workspaces.ListWorkspaceIDs(ctx)
	if err != nil {
		return []Check{{Name: "projectors", Status: StatusDegraded, Detail: "could not list workspaces: " + err.Error()}}
	}

	cronFreshness := time.Duration(c.cfg.DownCronFreshnessSec) * time.Second
	lagThreshold := time.Duration(c.cfg.DownProjectionLagSec) * time.Second
	now := c.now()

	checks := make([]Check, 0, len(c.projectors))
	for _, name := range c.projectors {
		status := StatusUp
		var worst time.Duration

		for _, wsID := range workspaceIDs {
			watermark, err := c.watermarks.Get(ctx, wsID, name)
			if err != nil {
				status = worse(status, StatusDegraded)
				continue
			}
			if watermark.IsZero() {
				continue
			}
			lag := now.Sub(watermark)
			if lag > worst {
				worst = lag
			}
		}

		if cronFreshness > 0 && worst > cronFreshness {
			status = worse(status, StatusDown)
		} else if lagThreshold > 0 && worst > lagThreshold {
			status = worse(status, StatusDegraded)
		}

		checks = append(checks, Check{Name: "projector:" + name, Status: status, Latency: worst.Milliseconds()})
	}
	return checks
}

func (c *Checker) checkDeadLetter(ctx context.Context) Check {
	if c.deadLetter == nil {
		return Check{Name: "dead_letter_queue", Status: StatusUp}
	}
	depth, err := c.deadLetter.Backlog(ctx)
	if err != nil {
		return Check{Name: "dead_letter_queue", Status: StatusDegraded, Detail: err.Error()}
	}
	status := StatusUp
	if depth > 0 {
		status = StatusDegraded
	}
	return Check{Name: "dead_letter_queue", Status: status, Detail: strconv.Itoa(depth) + " events queued"}
}

func (c *Checker) checkHost(ctx context.Context) Check {
	memStat, memErr := mem.VirtualMemoryWithContext(ctx)
	cpuPct, cpuErr := cpu.PercentWithContext(ctx, 0, false)

	if memErr != nil || cpuErr != nil {
		return Check{Name: "host", Status: StatusDegraded, Detail: "host stats unavailable"}
	}

	status := StatusUp
	if memStat.UsedPercent > 90 {
		status = StatusDegraded
	}
	if len(cpuPct) > 0 && cpuPct[0] > 95 {
		status = StatusDegraded
	}
	return Check{Name: "host", Status: status}
}

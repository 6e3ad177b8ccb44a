// Package app wires every store and domain engine into a single
// Application, the composition root cmd/controlplaned constructs once at
// startup and internal/httpapi's handlers read from on every request.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentctl/core/internal/agent"
	"github.com/agentctl/core/internal/approval"
	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/engine"
	"github.com/agentctl/core/internal/evidence"
	"github.com/agentctl/core/internal/experiment"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/health"
	"github.com/agentctl/core/internal/incident"
	"github.com/agentctl/core/internal/lease"
	"github.com/agentctl/core/internal/pipeline"
	"github.com/agentctl/core/internal/policy"
	"github.com/agentctl/core/internal/projector"
	"github.com/agentctl/core/internal/run"
	"github.com/agentctl/core/internal/skills"
	"github.com/agentctl/core/internal/storage/postgres"
	"github.com/agentctl/core/internal/trust"
	"github.com/agentctl/core/pkg/config"
	"github.com/agentctl/core/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// projectorNames lists every synchronous projector in its registration
// order. The pipeline projector is always last: it reads the rows its
// siblings just wrote (run, experiment, evidence, scorecard, incident,
// approval) within the same transaction, so it must observe their
// effects rather than race them.
var projectorNames = []string{
	"coreProjector", "agentProjector", "engineProjector", "capabilityProjector",
	"runProjector", "experimentProjector", "evidenceProjector", "incidentProjector",
	"approvalProjector", "skillProjector", "pipelineProjector",
}

// Application is the composition root: the database handle plus every
// Postgres-backed store and domain engine, each built by New.
type Application struct {
	DB     *sql.DB
	Events eventstore.Store
	Log    *logger.Logger
	Cfg    *config.Config

	Agents       *agent.Engine
	Engines      *engine.Manager
	Approvals    *approval.Engine
	Experiments  *experiment.Engine
	Incidents    *incident.Engine
	Evidence     *evidence.Engine
	Skills       *skills.Engine
	Trust        *trust.Engine
	Policy       *policy.Engine
	Runs         *run.Engine
	WorkItems    *lease.Manager
	RunLeases    *lease.RunManager
	Pipeline     *pipeline.Service
	EngineTokens *lease.EngineTokenVerifier
	Health       *health.Checker

	registry  *projector.Registry
	scheduler *projector.Scheduler

	runStore         *postgres.RunStore
	agentStore       *postgres.AgentStore
	engineStore      *postgres.EngineStore
	approvalStore    *postgres.ApprovalStore
	capabilityStore  *postgres.CapabilityStore
	evidenceStore    *postgres.EvidenceStore
	experimentStore  *postgres.ExperimentStore
	incidentStore    *postgres.IncidentStore
	skillStore       *postgres.SkillStore
	agentSkillStore  *postgres.AgentSkillStore
	trustStore       *postgres.TrustStore
	autonomyStore    *postgres.AutonomyRecommendationStore
	catchUpStore     *postgres.CatchUpStore
	pipelineStore    *postgres.PipelineStore
	supportStore     *postgres.SupportStore
	signalSources    *postgres.EventSignalSources
}

// New constructs every store and engine, applies schema migrations, and
// wires the synchronous projector registry onto the event store. db may
// be nil only in tests that exercise individual engines directly with
// their own fakes; a running server always supplies a live connection.
func New(ctx context.Context, db *sql.DB, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		cfg = config.New()
	}

	a := &Application{DB: db, Log: log, Cfg: cfg}

	a.runStore = postgres.NewRunStore(db)
	a.agentStore = postgres.NewAgentStore(db)
	a.engineStore = postgres.NewEngineStore(db)
	a.approvalStore = postgres.NewApprovalStore(db)
	a.capabilityStore = postgres.NewCapabilityStore(db)
	a.evidenceStore = postgres.NewEvidenceStore(db)
	a.experimentStore = postgres.NewExperimentStore(db)
	a.incidentStore = postgres.NewIncidentStore(db)
	a.skillStore = postgres.NewSkillStore(db)
	a.agentSkillStore = postgres.NewAgentSkillStore(db)
	a.trustStore = postgres.NewTrustStore(db)
	a.autonomyStore = postgres.NewAutonomyRecommendationStore(db)
	a.catchUpStore = postgres.NewCatchUpStore(db)
	a.pipelineStore = postgres.NewPipelineStore(db)
	a.supportStore = postgres.NewSupportStore(db)
	a.signalSources = postgres.NewEventSignalSources(db)

	if err := a.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	eventStore := postgres.NewEventStore(db)
	a.registry = projector.NewRegistry(log)
	for _, p := range []*projector.Projector{
		projector.NewCoreProjector(),
		projector.NewAgentProjector(),
		projector.NewEngineProjector(),
		projector.NewCapabilityProjector(),
		projector.NewRunProjector(),
		projector.NewExperimentProjector(),
		projector.NewEvidenceProjector(),
		projector.NewIncidentProjector(),
		projector.NewApprovalProjector(),
		projector.NewSkillProjector(),
	} {
		a.registry.Register(p)
	}
	// Registered last: it reads sibling-projected rows within the same tx.
	a.registry.Register(postgres.NewPipelineProjector())

	a.Events = eventStore.WithProjectors(a.registry)
	now := time.Now

	a.Agents = agent.NewEngine(a.agentStore, a.Events, now)
	a.Engines = engine.NewManager(a.engineStore, a.Events, now)
	a.Approvals = approval.NewEngine(db, a.Events, now)
	a.Experiments = experiment.NewEngine(a.experimentStore, a.runStore, a.Events, now)
	a.Incidents = incident.NewEngine(a.incidentStore, a.runStore, a.Events, now)
	a.Evidence = evidence.NewEngine(a.evidenceStore, a.Events, now)
	a.Skills = skills.NewEngine(a.skillStore, a.skillStore, a.agentSkillStore, a.Events, now)
	a.Trust = trust.NewEngine(a.signalSources, a.trustStore, a.Events, now)
	a.Policy = policy.NewEngine(a.Events, now)
	a.Runs = run.NewEngine(a.runStore, a.Events, now)

	a.WorkItems = lease.NewManager(db, a.Events, lease.Config{
		DurationSeconds:         nonZero(cfg.Lease.DurationSeconds, 300),
		HeartbeatMinIntervalSec: nonZero(cfg.Lease.HeartbeatMinIntervalSec, 15),
		Now:                     now,
	})
	a.RunLeases = lease.NewRunManager(db, a.Events, nonZero(cfg.Lease.DurationSeconds, 300), now)

	if cfg.Auth.EngineJWTSecret != "" {
		a.EngineTokens = lease.NewEngineTokenVerifier(cfg.Auth.EngineJWTSecret)
	}

	a.Pipeline = pipeline.NewService(a.pipelineStore)

	var redisClient *redis.Client
	if cfg.Health.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Health.RedisAddr})
	}
	a.Health = health.New(db, a.catchUpStore, a.catchUpStore, a.supportStore, projectorNames, redisClient, cfg.Health, log)

	worker := projector.NewCatchUpWorker(db, a.Events, a.registry, a.catchUpStore, a.catchUpStore, a.supportStore, projector.CatchUpConfig{
		MaxRetries: cfg.Projector.MaxRetries,
		Logger:     log,
	})
	scheduler, err := projector.NewScheduler(worker, cfg.Projector.CatchUpIntervalSec, log)
	if err != nil {
		return nil, fmt.Errorf("schedule catch-up worker: %w", err)
	}
	a.scheduler = scheduler

	return a, nil
}

func (a *Application) ensureSchema(ctx context.Context) error {
	type schemaOwner interface {
		EnsureSchema(ctx context.Context) error
	}
	owners := []schemaOwner{
		a.supportStore, a.runStore, a.agentStore, a.engineStore, a.approvalStore,
		a.capabilityStore, a.evidenceStore, a.experimentStore, a.incidentStore,
		a.skillStore, a.trustStore, a.autonomyStore, a.catchUpStore, a.pipelineStore,
	}
	for _, o := range owners {
		if err := o.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	// The event store's table must exist before the first append; it has
	// no foreign keys into the projection tables so ordering relative to
	// them doesn't matter.
	return postgres.NewEventStore(a.DB).EnsureSchema(ctx)
}

// ListRunAttempts returns the claim/release history for a run, used by
// GET /v1/runs/:id/attempts.
func (a *Application) ListRunAttempts(ctx context.Context, runID string) ([]domain.RunAttempt, error) {
	return a.runStore.ListAttempts(ctx, runID)
}

// AgentQuarantined reports whether agentID currently carries a
// quarantine, for the policy engine's agent-quarantined check.
func (a *Application) AgentQuarantined(ctx context.Context, workspaceID, agentID string) (bool, error) {
	ag, err := a.agentStore.Get(ctx, workspaceID, agentID)
	if err != nil {
		return false, err
	}
	return ag.Quarantined(), nil
}

// ActiveCapabilityTokenUnion resolves principalID's active capability
// tokens and folds them into the single union policy.Request.Token
// expects. Returns nil if the principal holds no active token.
func (a *Application) ActiveCapabilityTokenUnion(ctx context.Context, workspaceID, principalID string) (*domain.CapabilityToken, error) {
	tokens, err := a.capabilityStore.ActiveForPrincipal(ctx, workspaceID, principalID)
	if err != nil {
		return nil, err
	}
	return contract.MergeCapabilityTokens(tokens, time.Now()), nil
}

// Start begins the asynchronous catch-up worker. It does not block.
func (a *Application) Start(ctx context.Context) error {
	a.scheduler.Start()
	return nil
}

// Stop halts the catch-up worker and closes the database connection.
func (a *Application) Stop(ctx context.Context) error {
	a.scheduler.Stop()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

package projector

// EventKind enumerates the event types the projector registry knows how to
// apply. Dispatch is a compile-time switch over these constants rather than
// a dynamic string lookup, so adding an event kind without a case in every
// projector that should handle it is a build-visible gap during review.
type EventKind string

const (
	EventRoomCreated    EventKind = "room.created"
	EventThreadCreated  EventKind = "thread.created"
	EventMessageCreated EventKind = "message.created"

	EventRunCreated   EventKind = "run.created"
	EventRunStarted   EventKind = "run.started"
	EventRunCompleted EventKind = "run.completed"
	EventRunFailed    EventKind = "run.failed"
	EventStepCreated  EventKind = "step.created"

	EventApprovalRequested EventKind = "approval.requested"
	EventApprovalDecided   EventKind = "approval.decided"

	EventExperimentCreated EventKind = "experiment.created"
	EventExperimentUpdated EventKind = "experiment.updated"
	EventExperimentClosed  EventKind = "experiment.closed"

	EventIncidentOpened        EventKind = "incident.opened"
	EventIncidentRCAUpdated    EventKind = "incident.rca.updated"
	EventIncidentLearningLogged EventKind = "incident.learning.logged"
	EventIncidentClosed        EventKind = "incident.closed"

	EventAgentRegistered    EventKind = "agent.registered"
	EventAgentQuarantined   EventKind = "agent.quarantined"
	EventAgentTrustIncreased EventKind = "agent.trust.increased"
	EventAgentTrustDecreased EventKind = "agent.trust.decreased"

	EventSkillImported    EventKind = "skill.imported"
	EventSkillVerified    EventKind = "skill.verified"
	EventSkillQuarantined EventKind = "skill.quarantined"

	EventEvidenceCreated     EventKind = "evidence.created"
	EventEvidenceUnderReview EventKind = "evidence.under_review"
	EventEvidenceRejected    EventKind = "evidence.rejected"

	EventScorecardRecorded EventKind = "scorecard.recorded"

	EventCapabilityGranted EventKind = "agent.capability.granted"
	EventCapabilityRevoked EventKind = "agent.capability.revoked"

	EventEngineRegistered  EventKind = "engine.registered"
	EventEngineDeactivated EventKind = "engine.deactivated"
)

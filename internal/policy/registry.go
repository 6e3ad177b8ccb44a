package policy

// staticActionRegistry is the fixed action-metadata table §4.5 describes.
// A production deployment would source this from a workspace-configurable
// table; this module has no such admin surface, so the table is seeded
// with the action types spec.md's scenarios name plus the generic
// tool-call and data-access classes every workspace needs a default for.
var staticActionRegistry = []ActionRegistryRow{
	{
		ActionType: "external.write", Reversible: false, ZoneRequired: ZoneHighStakes,
		RequiresPreApproval: true, PostReviewRequired: true,
		CostImpact: CostImpactHigh, RecoveryDifficulty: RecoveryHard,
	},
	{
		ActionType: "internal.write", Reversible: true, ZoneRequired: ZoneSupervised,
		RequiresPreApproval: false, PostReviewRequired: true,
		CostImpact: CostImpactMedium, RecoveryDifficulty: RecoveryModerate,
	},
	{
		ActionType: "artifact.create", Reversible: true, ZoneRequired: ZoneSupervised,
		RequiresPreApproval: false, PostReviewRequired: false,
		CostImpact: CostImpactLow, RecoveryDifficulty: RecoveryEasy,
	},
	{
		ActionType: "tool.call.sandbox", Reversible: true, ZoneRequired: ZoneSandbox,
		RequiresPreApproval: false, PostReviewRequired: false,
		CostImpact: CostImpactLow, RecoveryDifficulty: RecoveryEasy,
	},
	{
		ActionType: "data.read", Reversible: true, ZoneRequired: ZoneSandbox,
		RequiresPreApproval: false, PostReviewRequired: false,
		CostImpact: CostImpactLow, RecoveryDifficulty: RecoveryEasy,
	},
	{
		ActionType: "data.write", Reversible: false, ZoneRequired: ZoneSupervised,
		RequiresPreApproval: true, PostReviewRequired: true,
		CostImpact: CostImpactMedium, RecoveryDifficulty: RecoveryHard,
	},
}

// defaultActionRow is returned for an action_type the static registry
// doesn't recognize: sandboxed, reversible, no pre-approval. An unknown
// action is treated as the least-trusted-but-unblocking case rather than
// denied outright, since outright denial would make onboarding a new
// action type a breaking change for every in-flight agent using it.
var defaultActionRow = ActionRegistryRow{
	Reversible: true, ZoneRequired: ZoneSandbox,
	RequiresPreApproval: false, PostReviewRequired: false,
	CostImpact: CostImpactLow, RecoveryDifficulty: RecoveryEasy,
}

// LookupAction resolves the static action-registry row for actionType,
// falling back to defaultActionRow for anything unregistered.
func LookupAction(actionType string) ActionRegistryRow {
	for _, row := range staticActionRegistry {
		if row.ActionType == actionType {
			return row
		}
	}
	row := defaultActionRow
	row.ActionType = actionType
	return row
}

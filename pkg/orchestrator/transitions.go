package orchestrator

import "github.com/opscart/cloud-cost-orchestrator/pkg/models"

// transitions is the lifecycle state machine. Terminal states have no
// outgoing edges; everything not listed here is rejected.
var transitions = map[models.LifecycleState][]models.LifecycleState{
	models.StateDiscovered: {
		models.StatePendingApproval,
		models.StateExpired,
	},
	models.StatePendingApproval: {
		models.StateApproved,
		models.StateRejected,
		models.StateExpired,
	},
	models.StateApproved: {
		models.StateExecuting,
		models.StateExpired,
	},
	models.StateExecuting: {
		models.StateVerifying,
		models.StateFailed,
		models.StateRolledBack,
	},
	models.StateVerifying: {
		models.StateCompleted,
		models.StateFailed,
	},
	models.StateFailed: {
		models.StateRolledBack,
		models.StateFailedUnrecoverable,
	},
}

// allowed reports whether from -> to is a legal lifecycle edge.
func allowed(from, to models.LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

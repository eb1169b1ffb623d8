package violation

import "github.com/ManuGH/ztc/internal/approval"

func decideBehindMachine(a *approval.PendingAction) approval.PendingAction {
	a.Disposition = approval.DispositionApproved
	a.Reason = "fine"
	return approval.PendingAction{ActionID: "x", DecidedBy: approval.ActorUser}
}

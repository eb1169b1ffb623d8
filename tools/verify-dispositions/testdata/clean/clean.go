package clean

import "github.com/ManuGH/ztc/internal/approval"

func describe(a approval.PendingAction) (string, approval.Disposition) {
	a.Reason = "read only"
	return a.ActionID, a.Disposition
}

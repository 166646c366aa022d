package autorole

// Join outcomes reported to an Observer.
const (
	OutcomeDisabled       = "disabled"
	OutcomeInvite         = "invite"
	OutcomeMain           = "main"
	OutcomeNone           = "none"
	OutcomePermissionLost = "permission_lost"
	OutcomeFetchFailed    = "fetch_failed"
	OutcomeError          = "error"
)

// Prune reasons reported to an Observer.
const (
	PruneInviteGone = "invite_gone"
	PruneStaleRole  = "stale_role"
	PruneAboveTop   = "above_top_role"
)

// Observer receives engine events. The metrics package implements it.
type Observer interface {
	JoinHandled(outcome string)
	RolesGranted(kind KeyKind, n int)
	LinksPruned(reason string, n int)
	RefreshFailed()
}

type nopObserver struct{}

func (nopObserver) JoinHandled(string)        {}
func (nopObserver) RolesGranted(KeyKind, int) {}
func (nopObserver) LinksPruned(string, int)   {}
func (nopObserver) RefreshFailed()            {}

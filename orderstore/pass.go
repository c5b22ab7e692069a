package orderstore

import "time"

// Phase is the progress of a completion pass.
type Phase string

const (
	// PhaseClaimed means a worker owns the pass and is calling the merge
	// service.
	PhaseClaimed Phase = "claimed"
	// PhaseMerged means the merge content is staged under ContentRef and
	// persist/delete are outstanding.
	PhaseMerged Phase = "merged"
	// PhaseDone means persist and delete ran. Terminal.
	PhaseDone Phase = "done"
	// PhaseFailed means the last merge attempt failed; the sweeper may
	// retry.
	PhaseFailed Phase = "failed"
	// PhaseDeadLetter means merge attempts are exhausted and an operator
	// must reset the pass.
	PhaseDeadLetter Phase = "dead_letter"
)

// Terminal reports whether no worker will touch the pass again on its own.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseDeadLetter
}

// Pass is the ledger entry for one order's completion pass.
type Pass struct {
	Key      string `json:"key"`
	Phase    Phase  `json:"phase"`
	PassID   string `json:"pass_id"`
	Attempts int    `json:"attempts"`
	// ContentRef names the staged merge content. The content itself never
	// goes into the ledger, whose values are size limited.
	ContentRef  string    `json:"content_ref,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Outputs     []string  `json:"outputs,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Stale reports whether a claim or merged record has gone without progress
// for longer than timeout, meaning its worker is presumed dead.
func (p Pass) Stale(now time.Time, timeout time.Duration) bool {
	if p.Phase != PhaseClaimed && p.Phase != PhaseMerged {
		return false
	}
	return now.Sub(p.UpdatedAt) > timeout
}

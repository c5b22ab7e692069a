package orderjoin

import (
	stderrors "errors"
	"time"

	"github.com/kevingbb/processorders/orderstore"
)

// Outcome classifies a finished completion pass.
type Outcome string

const (
	// OutcomeNotReady means the order is missing or incomplete.
	OutcomeNotReady Outcome = "not_ready"
	// OutcomeAlreadyDone means an earlier pass finished the order.
	OutcomeAlreadyDone Outcome = "already_done"
	// OutcomeInFlight means another worker holds a fresh claim.
	OutcomeInFlight Outcome = "in_flight"
	// OutcomeDeadLettered means merge attempts are exhausted.
	OutcomeDeadLettered Outcome = "dead_lettered"
	// OutcomeMergeFailed means this pass's merge call failed.
	OutcomeMergeFailed Outcome = "merge_failed"
	// OutcomeCompleted means merge, persist and delete ran.
	OutcomeCompleted Outcome = "completed"
	// OutcomeError means a store failure stopped the pass.
	OutcomeError Outcome = "error"
)

// PassResult describes one completion pass.
type PassResult struct {
	Key      string
	Outcome  Outcome
	PassID   string
	Attempts int
	// Resumed is set when the merge content came from the ledger.
	Resumed bool
	// Outputs holds the persist and delete outcome strings.
	Outputs []string
	// MergeErr is the merge failure for OutcomeMergeFailed and
	// OutcomeDeadLettered.
	MergeErr error
}

// errLostClaim stops a pass whose claim was taken over by another worker.
var errLostClaim = stderrors.New("orderjoin: pass claim lost")

type claimAction int

const (
	actionSkip   claimAction = iota // nothing to do, see outcome
	actionMerge                     // call the merge service
	actionResume                    // merged content recorded, finish persist/delete
)

type claimDecision struct {
	action  claimAction
	outcome Outcome
}

// decideClaim is the ledger transition run under compare-and-set. It returns
// the replacement record or orderstore.ErrUnchanged, and what the pass
// should do next.
func decideClaim(key, passID string, cur *orderstore.Pass, now time.Time, cfg Config) (*orderstore.Pass, claimDecision, error) {
	if cur == nil {
		next := &orderstore.Pass{
			Key:       key,
			Phase:     orderstore.PhaseClaimed,
			PassID:    passID,
			Attempts:  1,
			ClaimedAt: now,
			UpdatedAt: now,
		}
		return next, claimDecision{action: actionMerge}, nil
	}

	switch cur.Phase {
	case orderstore.PhaseDone:
		return nil, claimDecision{outcome: OutcomeAlreadyDone}, orderstore.ErrUnchanged

	case orderstore.PhaseDeadLetter:
		return nil, claimDecision{outcome: OutcomeDeadLettered}, orderstore.ErrUnchanged

	case orderstore.PhaseMerged:
		if !cur.Stale(now, cfg.ClaimTimeout) {
			return nil, claimDecision{outcome: OutcomeInFlight}, orderstore.ErrUnchanged
		}
		next := *cur
		next.PassID = passID
		next.ClaimedAt = now
		next.UpdatedAt = now
		return &next, claimDecision{action: actionResume}, nil

	case orderstore.PhaseClaimed:
		if !cur.Stale(now, cfg.ClaimTimeout) {
			return nil, claimDecision{outcome: OutcomeInFlight}, orderstore.ErrUnchanged
		}
		// The previous holder died somewhere in the merge call; count it.
		return retryOrDeadLetter(cur, passID, "claim expired without progress", now, cfg)

	case orderstore.PhaseFailed:
		return retryOrDeadLetter(cur, passID, cur.LastError, now, cfg)
	}

	// Unknown phase written by a newer version; leave it alone.
	return nil, claimDecision{outcome: OutcomeInFlight}, orderstore.ErrUnchanged
}

func retryOrDeadLetter(cur *orderstore.Pass, passID, reason string, now time.Time, cfg Config) (*orderstore.Pass, claimDecision, error) {
	next := *cur
	next.UpdatedAt = now
	if cur.Attempts >= cfg.MaxMergeAttempts {
		next.Phase = orderstore.PhaseDeadLetter
		next.LastError = reason
		return &next, claimDecision{outcome: OutcomeDeadLettered}, nil
	}
	next.Phase = orderstore.PhaseClaimed
	next.PassID = passID
	next.Attempts = cur.Attempts + 1
	next.ClaimedAt = now
	return &next, claimDecision{action: actionMerge}, nil
}

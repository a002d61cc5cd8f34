package catalog

import (
	"context"
	"fmt"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Board motion states
const (
	MotionProposed  lifecycle.State = "PROPOSED"
	MotionSeconded  lifecycle.State = "SECONDED"
	MotionVoting    lifecycle.State = "VOTING"
	MotionApproved  lifecycle.State = "APPROVED"
	MotionDenied    lifecycle.State = "DENIED"
	MotionWithdrawn lifecycle.State = "WITHDRAWN"
)

// Ballot states
const (
	BallotIssued      lifecycle.State = "ISSUED"
	BallotCastFor     lifecycle.State = "CAST_FOR"
	BallotCastAgainst lifecycle.State = "CAST_AGAINST"
	BallotSpoiled     lifecycle.State = "SPOILED"
)

// RegisterMotion installs the board motion lifecycle and the ballot
// lifecycle its vote tally is computed from. The caller asks for APPROVED or
// DENIED, but the tally over the linked ballots decides: the guard coerces
// the target state to the outcome the ballots actually carry.
func RegisterMotion(r Registrar) error {
	motion := lifecycle.NewTable(TypeMotion, MotionProposed).
		Permit(MotionProposed, MotionSeconded, MotionWithdrawn).
		Permit(MotionSeconded, MotionVoting, MotionWithdrawn).
		Permit(MotionVoting, MotionApproved, MotionDenied).
		Permit(MotionApproved).
		Permit(MotionDenied).
		Permit(MotionWithdrawn).
		MustBuild()
	if err := r.RegisterTransitionTable(motion); err != nil {
		return err
	}

	ballot := lifecycle.NewTable(TypeBallot, BallotIssued).
		Permit(BallotIssued, BallotCastFor, BallotCastAgainst, BallotSpoiled).
		Permit(BallotCastFor).
		Permit(BallotCastAgainst).
		Permit(BallotSpoiled).
		MustBuild()
	if err := r.RegisterTransitionTable(ballot); err != nil {
		return err
	}

	// Opening the vote needs a quorum of members present.
	if err := r.RegisterPrecondition(TypeMotion, MotionVoting,
		func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
			present := payloadInt(ec.Request.Payload, "members_present")
			quorum := payloadInt(ec.Request.Payload, "quorum")
			if quorum <= 0 {
				return lifecycle.Deny("a quorum threshold is required to open voting"), nil
			}
			if present < quorum {
				return lifecycle.Deny(fmt.Sprintf("quorum not met: %d present, %d required", present, quorum)), nil
			}
			return lifecycle.Allow(), nil
		}); err != nil {
		return err
	}

	for _, requested := range []lifecycle.State{MotionApproved, MotionDenied} {
		if err := r.RegisterPrecondition(TypeMotion, requested, tallyGuard); err != nil {
			return err
		}
	}
	return nil
}

// tallyGuard counts the cast ballots linked to the motion. No cast ballots
// blocks the close outright; otherwise the tally's outcome replaces whatever
// the caller requested.
func tallyGuard(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
	ballots, err := ec.Reader.ListLinked(ctx, ec.Entity.EntityType, ec.Entity.EntityID, TypeBallot)
	if err != nil {
		return lifecycle.Verdict{}, err
	}

	var votesFor, votesAgainst int
	for _, b := range ballots {
		switch b.Status {
		case BallotCastFor:
			votesFor++
		case BallotCastAgainst:
			votesAgainst++
		}
	}
	if votesFor+votesAgainst == 0 {
		return lifecycle.Deny("cannot close the vote with no ballots cast"), nil
	}

	detail := fmt.Sprintf("tally %d for, %d against", votesFor, votesAgainst)
	if votesFor > votesAgainst {
		return lifecycle.AllowAs(MotionApproved, detail), nil
	}
	return lifecycle.AllowAs(MotionDenied, detail), nil
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	default:
		return 0
	}
}

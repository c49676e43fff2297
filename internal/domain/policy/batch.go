package policy

import "time"

// BatchKind discriminates how a batch of independently-evaluated verdicts
// must be dispatched.
type BatchKind int

const (
	// BatchPerElement means no element required approval: each Forward
	// element proceeds independently and each Reject element produces its
	// own error entry alongside any successful elements.
	BatchPerElement BatchKind = iota
	// BatchApproval means at least one element required approval, so the
	// entire batch is upgraded to a single atomic approval — approvals win
	// over forwards, per the fixed batch-merge rule.
	BatchApproval
)

// BatchPlan is the outcome of merging a batch's independently-computed
// verdicts into one dispatch decision.
type BatchPlan struct {
	Kind    BatchKind
	Timeout time.Duration // set when Kind == BatchApproval: the highest-restriction deadline
}

// MergeVerdicts implements the fixed batch-merge rule: if any element's
// verdict is Approve, the whole batch is upgraded to BatchApproval using
// the longest of the contributing timeouts (the highest-restriction rule);
// otherwise each element is dispatched per its own verdict.
func MergeVerdicts(verdicts []Verdict) BatchPlan {
	var maxTimeout time.Duration
	hasApprove := false
	for _, v := range verdicts {
		if v.Kind == Approve {
			hasApprove = true
			if v.Timeout > maxTimeout {
				maxTimeout = v.Timeout
			}
		}
	}
	if hasApprove {
		return BatchPlan{Kind: BatchApproval, Timeout: maxTimeout}
	}
	return BatchPlan{Kind: BatchPerElement}
}

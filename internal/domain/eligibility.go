package domain

// Eligibility reasons, reported in the order the predicates run.
const (
	ReasonOrderNotFound          = "ORDER_NOT_FOUND"
	ReasonNotOrderParty          = "NOT_ORDER_PARTY"
	ReasonDirectionMismatch      = "DIRECTION_MISMATCH"
	ReasonOrderNotCompleted      = "ORDER_NOT_COMPLETED"
	ReasonEscrowNotReleased      = "ESCROW_NOT_RELEASED"
	ReasonDisputeOpen            = "DISPUTE_OPEN"
	ReasonReviewWindowExpired    = "REVIEW_WINDOW_EXPIRED"
	ReasonKYCInsufficient        = "KYC_INSUFFICIENT"
	ReasonAlreadyReviewed        = "ALREADY_REVIEWED"
	ReasonEligibilityCheckFailed = "ELIGIBILITY_CHECK_FAILED"
)

// EligibilityResult is the outcome of an eligibility check. On failure
// Reason names the first predicate that failed.
type EligibilityResult struct {
	Eligible      bool      `json:"eligible"`
	Reason        string    `json:"reason,omitempty"`
	OrderGroupID  string    `json:"order_group_id"`
	Direction     Direction `json:"direction"`
	ReviewerRole  Role      `json:"reviewer_role,omitempty"`
	SubjectUserID string    `json:"subject_user_id,omitempty"`
}

// Messages rendered with NOT_ELIGIBLE errors.
var reasonMessages = map[string]string{
	ReasonOrderNotFound:          "order not found",
	ReasonNotOrderParty:          "reviewer is not a party to this order",
	ReasonDirectionMismatch:      "review direction does not match the reviewer's role",
	ReasonOrderNotCompleted:      "order has not been delivered or completed",
	ReasonEscrowNotReleased:      "escrow has not been released",
	ReasonDisputeOpen:            "order has an open dispute",
	ReasonReviewWindowExpired:    "review window has expired",
	ReasonKYCInsufficient:        "identity verification level is too low",
	ReasonAlreadyReviewed:        "order already reviewed in this direction",
	ReasonEligibilityCheckFailed: "eligibility could not be verified, try again later",
}

// ReasonMessage returns a human readable message for an eligibility reason.
func ReasonMessage(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return "not eligible to review"
}

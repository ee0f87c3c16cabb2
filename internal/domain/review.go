package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// Direction says who reviews whom.
type Direction string

const (
	DirectionBuyerOnSeller Direction = "BUYER_ON_SELLER"
	DirectionSellerOnBuyer Direction = "SELLER_ON_BUYER"
)

// Directions lists every direction in a stable order.
var Directions = []Direction{DirectionBuyerOnSeller, DirectionSellerOnBuyer}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuyerOnSeller || d == DirectionSellerOnBuyer
}

// ParseDirection converts s into a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", apperrors.Validation("direction", "must be BUYER_ON_SELLER or SELLER_ON_BUYER")
	}
	return d, nil
}

// ModerationStatus is the moderation state of a review.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "PENDING"
	ModerationApproved ModerationStatus = "APPROVED"
	ModerationFlagged  ModerationStatus = "FLAGGED"
)

// Content limits.
const (
	MinRating      = 1
	MaxRating      = 5
	MaxTitleLen    = 120
	MaxBodyLen     = 5000
	MaxTags        = 10
	MaxTagLen      = 32
	MaxPhotos      = 10
	MaxPhotoURLLen = 2048
)

// Review is one party's review of the other party of an order.
type Review struct {
	ID               string           `json:"id"`
	OrderGroupID     string           `json:"order_group_id"`
	ReviewerUserID   string           `json:"reviewer_user_id"`
	SubjectUserID    string           `json:"subject_user_id"`
	Direction        Direction        `json:"direction"`
	Rating           int              `json:"rating"`
	Title            string           `json:"title"`
	Body             string           `json:"body"`
	Tags             []string         `json:"tags"`
	Photos           []string         `json:"photos"`
	ModerationStatus ModerationStatus `json:"moderation_status"`
	ToxicityScore    float64          `json:"toxicity_score"`
	BlindUntil       *time.Time       `json:"blind_until,omitempty"`
	EditableUntil    time.Time        `json:"editable_until"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewReviewParams holds the fields of a review about to be persisted.
type NewReviewParams struct {
	ID               string
	OrderGroupID     string
	ReviewerUserID   string
	SubjectUserID    string
	Direction        Direction
	Rating           int
	Title            string
	Body             string
	Tags             []string
	Photos           []string
	ModerationStatus ModerationStatus
	ToxicityScore    float64
	BlindUntil       *time.Time
	EditableUntil    time.Time
	Now              time.Time
}

// NewReview builds a Review, rejecting any value that breaks the review
// invariants. Tags are normalized.
func NewReview(p NewReviewParams) (*Review, error) {
	if !p.Direction.Valid() {
		return nil, apperrors.Validation("direction", "must be BUYER_ON_SELLER or SELLER_ON_BUYER")
	}
	if p.ReviewerUserID == "" || p.SubjectUserID == "" || p.OrderGroupID == "" {
		return nil, apperrors.InvalidInput("order, reviewer and subject are required")
	}
	if p.ReviewerUserID == p.SubjectUserID {
		return nil, apperrors.InvalidInput("reviewer and subject must differ")
	}
	if p.EditableUntil.IsZero() {
		return nil, apperrors.InvalidInput("editable_until is required")
	}

	content := Content{Rating: p.Rating, Title: p.Title, Body: p.Body, Tags: p.Tags, Photos: p.Photos}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	status := p.ModerationStatus
	if status == "" {
		status = ModerationPending
	}

	return &Review{
		ID:               p.ID,
		OrderGroupID:     p.OrderGroupID,
		ReviewerUserID:   p.ReviewerUserID,
		SubjectUserID:    p.SubjectUserID,
		Direction:        p.Direction,
		Rating:           p.Rating,
		Title:            strings.TrimSpace(p.Title),
		Body:             strings.TrimSpace(p.Body),
		Tags:             NormalizeTags(p.Tags),
		Photos:           clonePhotos(p.Photos),
		ModerationStatus: status,
		ToxicityScore:    clamp01(p.ToxicityScore),
		BlindUntil:       p.BlindUntil,
		EditableUntil:    p.EditableUntil,
		CreatedAt:        p.Now,
		UpdatedAt:        p.Now,
	}, nil
}

// Content is the user-supplied part of a review.
type Content struct {
	Rating int
	Title  string
	Body   string
	Tags   []string
	Photos []string
}

// Validate checks rating range and length limits.
func (c Content) Validate() error {
	if err := ValidateRating(c.Rating); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.Title)) > MaxTitleLen {
		return apperrors.Validation("title", "must be at most 120 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.Body)) > MaxBodyLen {
		return apperrors.Validation("body", "must be at most 5000 characters")
	}
	tags := NormalizeTags(c.Tags)
	if len(tags) > MaxTags {
		return apperrors.Validation("tags", "must contain at most 10 items")
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > MaxTagLen {
			return apperrors.Validation("tags", "items must be at most 32 characters")
		}
	}
	if len(c.Photos) > MaxPhotos {
		return apperrors.Validation("photos", "must contain at most 10 items")
	}
	for _, p := range c.Photos {
		if p == "" || len(p) > MaxPhotoURLLen {
			return apperrors.Validation("photos", "items must be non-empty URLs")
		}
	}
	return nil
}

// ValidateRating rejects ratings outside 1..5.
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return apperrors.Validation("rating", "must be between 1 and 5")
	}
	return nil
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags. Empty
// entries are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsBlindAt reports whether the review is still hidden at now.
func (r *Review) IsBlindAt(now time.Time) bool {
	return r.BlindUntil != nil && now.Before(*r.BlindUntil)
}

// EditableAt reports whether the review can still be changed by its author.
func (r *Review) EditableAt(now time.Time) bool {
	return !now.After(r.EditableUntil)
}

// VisibleTo reports whether viewerID may read the review at now. Authors
// always see their own review.
func (r *Review) VisibleTo(viewerID string, now time.Time) bool {
	if viewerID != "" && viewerID == r.ReviewerUserID {
		return true
	}
	return r.ModerationStatus == ModerationApproved && !r.IsBlindAt(now)
}

// Clone returns a deep copy.
func (r *Review) Clone() *Review {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	c.Photos = append([]string(nil), r.Photos...)
	if r.BlindUntil != nil {
		t := *r.BlindUntil
		c.BlindUntil = &t
	}
	return &c
}

func clonePhotos(photos []string) []string {
	out := make([]string, len(photos))
	copy(out, photos)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

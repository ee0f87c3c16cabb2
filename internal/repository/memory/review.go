package memory

import (
	"context"
	"sort"
	"time"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// ReviewRepository is the in-memory repository.ReviewRepository.
type ReviewRepository struct {
	v *view
}

func keyOf(r *domain.Review) tripleKey {
	return tripleKey{orderGroupID: r.OrderGroupID, reviewerID: r.ReviewerUserID, direction: r.Direction}
}

func (r *ReviewRepository) Create(_ context.Context, review *domain.Review) error {
	return r.v.write(func(st *state) error {
		key := keyOf(review)
		if _, ok := st.triples[key]; ok {
			return apperrors.AlreadyExists("review", "order_group_id", review.OrderGroupID)
		}
		if _, ok := st.reviews[review.ID]; ok {
			return apperrors.AlreadyExists("review", "id", review.ID)
		}
		st.reviews[review.ID] = review.Clone()
		st.triples[key] = review.ID
		return nil
	})
}

func (r *ReviewRepository) GetByID(_ context.Context, id string) (*domain.Review, error) {
	var out *domain.Review
	err := r.v.read(func(st *state) error {
		rv, ok := st.reviews[id]
		if !ok {
			return apperrors.NotFound("review", id)
		}
		out = rv.Clone()
		return nil
	})
	return out, err
}

func (r *ReviewRepository) Update(_ context.Context, review *domain.Review) error {
	return r.v.write(func(st *state) error {
		cur, ok := st.reviews[review.ID]
		if !ok {
			return apperrors.NotFound("review", review.ID)
		}
		next := review.Clone()
		// Identity columns are immutable.
		next.OrderGroupID = cur.OrderGroupID
		next.ReviewerUserID = cur.ReviewerUserID
		next.SubjectUserID = cur.SubjectUserID
		next.Direction = cur.Direction
		next.EditableUntil = cur.EditableUntil
		next.CreatedAt = cur.CreatedAt
		st.reviews[review.ID] = next
		return nil
	})
}

func (r *ReviewRepository) Delete(_ context.Context, id string) error {
	return r.v.write(func(st *state) error {
		cur, ok := st.reviews[id]
		if !ok {
			return apperrors.NotFound("review", id)
		}
		delete(st.triples, keyOf(cur))
		delete(st.reviews, id)
		return nil
	})
}

func (r *ReviewRepository) ListByOrder(_ context.Context, orderGroupID string) ([]domain.Review, error) {
	out := []domain.Review{}
	err := r.v.read(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.OrderGroupID == orderGroupID {
				out = append(out, *rv.Clone())
			}
		}
		return nil
	})
	sortOldestFirst(out)
	return out, err
}

// LockOrder is a no-op: WithinTx already runs transactions one at a time.
func (r *ReviewRepository) LockOrder(context.Context, string) error { return nil }

func (r *ReviewRepository) ExistsForTriple(_ context.Context, orderGroupID, reviewerID string, direction domain.Direction) (bool, error) {
	var exists bool
	err := r.v.read(func(st *state) error {
		_, exists = st.triples[tripleKey{orderGroupID: orderGroupID, reviewerID: reviewerID, direction: direction}]
		return nil
	})
	return exists, err
}

func (r *ReviewRepository) RevealOrder(_ context.Context, orderGroupID, exceptID string) ([]domain.Review, error) {
	out := []domain.Review{}
	err := r.v.write(func(st *state) error {
		for id, rv := range st.reviews {
			if rv.OrderGroupID != orderGroupID || id == exceptID || rv.BlindUntil == nil {
				continue
			}
			rv.BlindUntil = nil
			out = append(out, *rv.Clone())
		}
		return nil
	})
	sortOldestFirst(out)
	return out, err
}

func (r *ReviewRepository) ListApprovedForSubject(_ context.Context, subjectID string, direction domain.Direction) ([]domain.Review, error) {
	out := []domain.Review{}
	err := r.v.read(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.SubjectUserID == subjectID && rv.Direction == direction && rv.ModerationStatus == domain.ModerationApproved {
				out = append(out, *rv.Clone())
			}
		}
		return nil
	})
	sortOldestFirst(out)
	return out, err
}

func (r *ReviewRepository) ListVisibleForSubject(_ context.Context, f repository.SubjectFilter) ([]domain.Review, int, error) {
	var matched []domain.Review
	err := r.v.read(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.SubjectUserID == f.SubjectID && rv.Direction == f.Direction && rv.VisibleTo(f.ViewerID, f.Now) {
				matched = append(matched, *rv.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	page := make([]domain.Review, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (r *ReviewRepository) SummarizeApprovedSince(_ context.Context, direction domain.Direction, since time.Time) (domain.RatingSummary, error) {
	var sum, n int
	err := r.v.read(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.Direction == direction && rv.ModerationStatus == domain.ModerationApproved && !rv.CreatedAt.Before(since) {
				sum += rv.Rating
				n++
			}
		}
		return nil
	})
	if err != nil || n == 0 {
		return domain.RatingSummary{}, err
	}
	return domain.RatingSummary{Mean: float64(sum) / float64(n), Count: n}, nil
}

func (r *ReviewRepository) UnblindExpired(_ context.Context, now time.Time) (int64, error) {
	var changed int64
	err := r.v.write(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.ModerationStatus == domain.ModerationApproved && rv.BlindUntil != nil && !rv.BlindUntil.After(now) {
				rv.BlindUntil = nil
				changed++
			}
		}
		return nil
	})
	return changed, err
}

func (r *ReviewRepository) ListSubjects(_ context.Context, direction domain.Direction) ([]string, error) {
	seen := map[string]struct{}{}
	err := r.v.read(func(st *state) error {
		for _, rv := range st.reviews {
			if rv.Direction == direction {
				seen[rv.SubjectUserID] = struct{}{}
			}
		}
		return nil
	})
	return sortedKeys(seen), err
}

func sortOldestFirst(rs []domain.Review) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package registration

import "context"

// SubmissionRepository persists the kiosk submission log.
type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	List(ctx context.Context, limit, offset int) ([]*Submission, int, error)
}

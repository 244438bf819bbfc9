package registration

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clicare/kiosk/internal/platform/db"
)

type submissionRepoPG struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepoPG{pool: pool}
}

func (r *submissionRepoPG) conn(ctx context.Context) (db.Querier, error) {
	return db.Conn(ctx, r.pool)
}

const submissionColumns = `id, session_id, flow, patient_id, visit_id, department, queue_number,
	symptoms, intake, temp_registration_id, printed, created_at`

func (r *submissionRepoPG) Create(ctx context.Context, s *Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Symptoms == nil {
		s.Symptoms = []string{}
	}
	q, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO kiosk_submission (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.SessionID, string(s.Flow), s.PatientID, s.VisitID, s.Department, s.QueueNumber,
		s.Symptoms, s.Intake, s.TempRegistrationID, s.Printed, s.CreatedAt,
	)
	return err
}

func (r *submissionRepoPG) List(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	q, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM kiosk_submission`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+submissionColumns+` FROM kiosk_submission ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		var (
			s    Submission
			flow string
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &flow, &s.PatientID, &s.VisitID, &s.Department, &s.QueueNumber,
			&s.Symptoms, &s.Intake, &s.TempRegistrationID, &s.Printed, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		s.Flow = Kind(flow)
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

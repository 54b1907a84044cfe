package repository

import "context"

// CourseCatalog is the read side of the course catalog needed to price a purchase.
type CourseCatalog interface {
	// PriceMinor returns the course price in minor units, or pgx.ErrNoRows for an unknown course.
	PriceMinor(ctx context.Context, courseID string) (int64, error)
}

type courseCatalog struct {
	db DBTX
}

// NewCourseCatalog returns a Postgres-backed catalog.
func NewCourseCatalog(db DBTX) CourseCatalog {
	return &courseCatalog{db: db}
}

func (r *courseCatalog) PriceMinor(ctx context.Context, courseID string) (int64, error) {
	const query = `SELECT price_minor FROM courses WHERE id=$1`
	var price int64
	if err := r.db.QueryRow(ctx, query, courseID).Scan(&price); err != nil {
		return 0, err
	}
	return price, nil
}

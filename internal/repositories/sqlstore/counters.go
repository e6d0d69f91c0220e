package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

type counterRepository struct{ s *Store }

// Next is a single upsert; the WHERE clause refuses to move past limit, which surfaces as
// no returned row.
func (r counterRepository) Next(ctx context.Context, counterID string, limit int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if limit <= 0 {
		limit = math.MaxInt64
	}
	var value int64
	err := r.s.conn(ctx).QueryRowContext(ctx, `INSERT INTO counters (id, value, updated_at) VALUES ($1, 1, $2)
		ON CONFLICT (id) DO UPDATE SET value = counters.value + 1, updated_at = excluded.updated_at
		WHERE counters.value < $3
		RETURNING value`, id, r.s.now().UTC(), limit).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s reached %d", id, limit), nil)
	}
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}

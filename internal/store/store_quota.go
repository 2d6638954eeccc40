package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relato/internal/services"
)

// EnsureUser inserts a user if absent and seeds one quota state per kind
// from the configured defaults. Existing rows are left untouched.
func (s *Store) EnsureUser(ctx context.Context, user User) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username, is_admin, can_stylize, created_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(id) DO NOTHING`,
			user.ID, user.Username, user.IsAdmin, user.CanStylize, formatTime(now))
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		for _, kind := range []QuotaKind{QuotaScript, QuotaStylize, QuotaRecordingSeconds} {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO quota_states (user_id, kind, quota_limit, used_in_window, window_started_at, window_length_seconds)
                 VALUES (?, ?, ?, 0, ?, ?)
                 ON CONFLICT(user_id, kind) DO NOTHING`,
				user.ID, kind, s.defaultLimitFor(kind), formatTime(now),
				int64(s.quotaDefaults.windowLength.Seconds()))
			if err != nil {
				return fmt.Errorf("seed quota state %s: %w", kind, err)
			}
		}
		return nil
	})
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, is_admin, can_stylize, created_at FROM users WHERE id = ?`, id)
	var (
		user      User
		createdAt string
	)
	err := row.Scan(&user.ID, &user.Username, &user.IsAdmin, &user.CanStylize, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

// SetQuotaLimit overrides the limit for one user and kind. A nil limit means
// unlimited.
func (s *Store) SetQuotaLimit(ctx context.Context, userID string, kind QuotaKind, limit *int64) error {
	var value any
	if limit != nil {
		value = *limit
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE quota_states SET quota_limit = ? WHERE user_id = ? AND kind = ?`,
		value, userID, kind)
	if err != nil {
		return fmt.Errorf("set quota limit: %w", err)
	}
	return nil
}

// QuotaStateFor reads the current window state for one user and kind.
func (s *Store) QuotaStateFor(ctx context.Context, userID string, kind QuotaKind) (*QuotaState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, kind, quota_limit, used_in_window, window_started_at, window_length_seconds
         FROM quota_states WHERE user_id = ? AND kind = ?`, userID, kind)
	state, err := scanQuotaState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: quota state %s/%s", services.ErrNotFound, userID, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}
	return state, nil
}

// Reserve claims one unit of the user's windowed quota for a kind. Admin
// users always succeed with no bookkeeping. An expired window resets before
// evaluation. The read-check-increment runs in a single transaction so two
// concurrent reservations cannot both pass the cap.
func (s *Store) Reserve(ctx context.Context, userID string, kind QuotaKind) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		admin, err := isAdmin(ctx, tx, userID)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}

		state, err := lockQuotaState(ctx, tx, s, userID, kind, now)
		if err != nil {
			return err
		}

		if state.Limit == nil {
			return nil
		}

		used, windowStart := windowedUsage(state, now)
		if *state.Limit <= 0 || used >= *state.Limit {
			return fmt.Errorf("%w: %s quota exhausted for user %s (%d/%d)",
				services.ErrQuotaExceeded, kind, userID, used, *state.Limit)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE quota_states SET used_in_window = ?, window_started_at = ?
             WHERE user_id = ? AND kind = ?`,
			used+1, formatTime(windowStart), userID, kind)
		if err != nil {
			return fmt.Errorf("increment quota: %w", err)
		}
		return nil
	})
}

// Release returns one reserved unit, compensating a reservation that was
// never consumed. The counter floors at zero.
func (s *Store) Release(ctx context.Context, userID string, kind QuotaKind) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		admin, err := isAdmin(ctx, tx, userID)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE quota_states SET used_in_window = MAX(used_in_window - 1, 0)
             WHERE user_id = ? AND kind = ?`,
			userID, kind)
		if err != nil {
			return fmt.Errorf("release quota: %w", err)
		}
		return nil
	})
}

// ConsumeRecordingSeconds adds to the metered recording counter. Unlike
// Reserve there is no cap check; the window still resets when expired.
func (s *Store) ConsumeRecordingSeconds(ctx context.Context, userID string, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		admin, err := isAdmin(ctx, tx, userID)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}

		state, err := lockQuotaState(ctx, tx, s, userID, QuotaRecordingSeconds, now)
		if err != nil {
			return err
		}

		used, windowStart := windowedUsage(state, now)
		_, err = tx.ExecContext(ctx,
			`UPDATE quota_states SET used_in_window = ?, window_started_at = ?
             WHERE user_id = ? AND kind = ?`,
			used+seconds, formatTime(windowStart), userID, QuotaRecordingSeconds)
		if err != nil {
			return fmt.Errorf("consume recording seconds: %w", err)
		}
		return nil
	})
}

func isAdmin(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	var admin bool
	err := tx.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = ?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: user %s", services.ErrNotFound, userID)
	}
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return admin, nil
}

// lockQuotaState reads the quota row inside the transaction, seeding it from
// the configured defaults when the user predates the kind.
func lockQuotaState(ctx context.Context, tx *sql.Tx, s *Store, userID string, kind QuotaKind, now time.Time) (*QuotaState, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, kind, quota_limit, used_in_window, window_started_at, window_length_seconds
         FROM quota_states WHERE user_id = ? AND kind = ?`, userID, kind)
	state, err := scanQuotaState(row)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO quota_states (user_id, kind, quota_limit, used_in_window, window_started_at, window_length_seconds)
             VALUES (?, ?, ?, 0, ?, ?)`,
			userID, kind, s.defaultLimitFor(kind), formatTime(now),
			int64(s.quotaDefaults.windowLength.Seconds()))
		if err != nil {
			return nil, fmt.Errorf("seed quota state: %w", err)
		}
		limit := s.defaultLimitFor(kind)
		return &QuotaState{
			UserID:          userID,
			Kind:            kind,
			Limit:           &limit,
			WindowStartedAt: now,
			WindowLength:    s.quotaDefaults.windowLength,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quota state: %w", err)
	}
	return state, nil
}

// windowedUsage applies the reset rule: once a full window has elapsed the
// usage restarts at zero from now.
func windowedUsage(state *QuotaState, now time.Time) (used int64, windowStart time.Time) {
	if state.WindowLength > 0 && now.Sub(state.WindowStartedAt) >= state.WindowLength {
		return 0, now
	}
	return state.UsedInWindow, state.WindowStartedAt
}

func (s *Store) defaultLimitFor(kind QuotaKind) int64 {
	switch kind {
	case QuotaScript:
		return s.quotaDefaults.scriptLimit
	case QuotaStylize:
		return s.quotaDefaults.stylizeLimit
	case QuotaRecordingSeconds:
		return s.quotaDefaults.recordingSeconds
	default:
		return 0
	}
}

func scanQuotaState(row rowScanner) (*QuotaState, error) {
	var (
		state         QuotaState
		limit         sql.NullInt64
		windowStarted string
		windowSeconds int64
	)
	err := row.Scan(&state.UserID, &state.Kind, &limit, &state.UsedInWindow,
		&windowStarted, &windowSeconds)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		value := limit.Int64
		state.Limit = &value
	}
	state.WindowStartedAt = parseTime(windowStarted)
	state.WindowLength = time.Duration(windowSeconds) * time.Second
	return &state, nil
}

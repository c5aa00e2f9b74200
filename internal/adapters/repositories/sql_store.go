package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/ports"
	"strings"
)

// SQL-backed implementation of the Store port, shared by the postgres and
// sqlite dialects. Queries are written with `?` placeholders and rebound
// per dialect.
type SQLStore struct {
	DB *sql.DB
	d  dialect
}

// dialect carries the per-backend differences: placeholder style, the row
// lock clause, id column DDL, and unique-violation detection.
type dialect struct {
	name        string
	rebind      func(string) string
	lockSuffix  string
	serialPK    string
	isUniqueErr func(error) bool
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if s.DB == nil {
		return errors.New("sql store: DB is nil")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql store: begin tx: %w", err)
	}

	if err := fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql store: commit tx: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

// LockPartition creates the counter row on first use, then takes the row
// lock that serializes all counter and recycle-pool access for the
// partition. Rows for other partitions stay unlocked.
func (t *sqlTx) LockPartition(ctx context.Context, p domain.Partition) error {
	insert := t.d.rebind(`
	INSERT INTO daily_counters (carrier, date, last_seq)
	VALUES (?, ?, 0)
	ON CONFLICT (carrier, date) DO NOTHING;
	`)
	if _, err := t.tx.ExecContext(ctx, insert, p.Carrier, p.Date); err != nil {
		return fmt.Errorf("lock partition: ensure counter row: %w", err)
	}

	query := t.d.rebind(`
	SELECT last_seq
	FROM daily_counters
	WHERE carrier = ? AND date = ?`) + t.d.lockSuffix + ";"

	var seq int
	if err := t.tx.QueryRowContext(ctx, query, p.Carrier, p.Date).Scan(&seq); err != nil {
		return fmt.Errorf("lock partition: lock counter row: %w", err)
	}
	return nil
}

func (t *sqlTx) PopSmallestRecycled(ctx context.Context, p domain.Partition) (string, bool, error) {
	// Fixed-width zero padding makes the lexicographic minimum the
	// numeric minimum.
	query := t.d.rebind(`
	SELECT queue_number
	FROM recycled_numbers
	WHERE carrier = ? AND date = ?
	ORDER BY queue_number ASC
	LIMIT 1`) + t.d.lockSuffix + ";"

	var queue string
	err := t.tx.QueryRowContext(ctx, query, p.Carrier, p.Date).Scan(&queue)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop recycled: query pool: %w", err)
	}

	del := t.d.rebind(`
	DELETE FROM recycled_numbers
	WHERE carrier = ? AND date = ? AND queue_number = ?;
	`)
	if _, err := t.tx.ExecContext(ctx, del, p.Carrier, p.Date, queue); err != nil {
		return "", false, fmt.Errorf("pop recycled: remove %q: %w", queue, err)
	}
	return queue, true, nil
}

func (t *sqlTx) PushRecycled(ctx context.Context, p domain.Partition, queue string) error {
	// The composite primary key enforces "in the pool at most once".
	insert := t.d.rebind(`
	INSERT INTO recycled_numbers (carrier, date, queue_number)
	VALUES (?, ?, ?);
	`)
	if _, err := t.tx.ExecContext(ctx, insert, p.Carrier, p.Date, queue); err != nil {
		return fmt.Errorf("push recycled %q: %w", queue, err)
	}
	return nil
}

func (t *sqlTx) IncrementSeq(ctx context.Context, p domain.Partition) (int, error) {
	query := t.d.rebind(`
	UPDATE daily_counters
	SET last_seq = last_seq + 1
	WHERE carrier = ? AND date = ?
	RETURNING last_seq;
	`)

	var seq int
	err := t.tx.QueryRowContext(ctx, query, p.Carrier, p.Date).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment seq: counter row missing for %s/%s (partition not locked)", p.Carrier, p.Date)
	}
	if err != nil {
		return 0, fmt.Errorf("increment seq: %w", err)
	}
	return seq, nil
}

func (t *sqlTx) LastSeq(ctx context.Context, p domain.Partition) (int, error) {
	query := t.d.rebind(`
	SELECT last_seq
	FROM daily_counters
	WHERE carrier = ? AND date = ?;
	`)

	var seq int
	err := t.tx.QueryRowContext(ctx, query, p.Carrier, p.Date).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func (t *sqlTx) InsertParcel(ctx context.Context, p *domain.Parcel) error {
	query := t.d.rebind(`
	INSERT INTO parcels (
		tracking_number,
		carrier,
		queue_number,
		status,
		recipient_name,
		recipient_phone,
		created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	RETURNING id;
	`)

	err := t.tx.QueryRowContext(ctx, query,
		p.TrackingNumber, p.Carrier, p.QueueNumber, string(p.Status),
		p.RecipientName, p.RecipientPhone, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if t.d.isUniqueErr(err) {
			return fmt.Errorf("insert parcel %q: %w", p.TrackingNumber, domain.ErrDuplicateTracking)
		}
		return fmt.Errorf("insert parcel %q: %w", p.TrackingNumber, err)
	}
	return nil
}

func (t *sqlTx) GetParcelByTracking(ctx context.Context, tracking string) (*domain.Parcel, error) {
	query := t.d.rebind(`
	SELECT
		id,
		tracking_number,
		carrier,
		queue_number,
		status,
		recipient_name,
		recipient_phone,
		created_at
	FROM parcels
	WHERE tracking_number = ?;
	`)

	p := &domain.Parcel{}
	var status string
	err := t.tx.QueryRowContext(ctx, query, tracking).Scan(
		&p.ID, &p.TrackingNumber, &p.Carrier, &p.QueueNumber,
		&status, &p.RecipientName, &p.RecipientPhone, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get parcel %q: %w", tracking, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get parcel %q: %w", tracking, err)
	}
	p.Status = domain.Status(status)
	return p, nil
}

func (t *sqlTx) UpdateParcel(ctx context.Context, p *domain.Parcel) error {
	query := t.d.rebind(`
	UPDATE parcels
	SET status = ?, recipient_name = ?, recipient_phone = ?
	WHERE id = ?;
	`)
	if _, err := t.tx.ExecContext(ctx, query, string(p.Status), p.RecipientName, p.RecipientPhone, p.ID); err != nil {
		return fmt.Errorf("update parcel id=%d: %w", p.ID, err)
	}
	return nil
}

func (t *sqlTx) DeleteParcel(ctx context.Context, id int64) error {
	query := t.d.rebind(`DELETE FROM parcels WHERE id = ?;`)
	if _, err := t.tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete parcel id=%d: %w", id, err)
	}
	return nil
}

func (t *sqlTx) DeleteParcels(ctx context.Context, ids []int64, trackings []string) (int, error) {
	deleted := 0

	// Slices cannot be bound into IN (...) directly; only the placeholder
	// structure is interpolated, all values stay parameterized.
	if len(ids) > 0 {
		args := make([]any, 0, len(ids))
		ph := make([]string, 0, len(ids))
		for _, id := range ids {
			args = append(args, id)
			ph = append(ph, "?")
		}
		query := t.d.rebind(fmt.Sprintf(`DELETE FROM parcels WHERE id IN (%s);`, strings.Join(ph, ",")))
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk delete by id: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("bulk delete by id: rows affected: %w", err)
		}
		deleted += int(n)
	}

	if len(trackings) > 0 {
		args := make([]any, 0, len(trackings))
		ph := make([]string, 0, len(trackings))
		for _, tr := range trackings {
			args = append(args, tr)
			ph = append(ph, "?")
		}
		query := t.d.rebind(fmt.Sprintf(`DELETE FROM parcels WHERE tracking_number IN (%s);`, strings.Join(ph, ",")))
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk delete by tracking: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("bulk delete by tracking: rows affected: %w", err)
		}
		deleted += int(n)
	}

	return deleted, nil
}

func (t *sqlTx) ListParcels(ctx context.Context, limit int) ([]*domain.Parcel, error) {
	query := t.d.rebind(`
	SELECT
		id,
		tracking_number,
		carrier,
		queue_number,
		status,
		recipient_name,
		recipient_phone,
		created_at
	FROM parcels
	ORDER BY created_at DESC, id DESC
	LIMIT ?;
	`)

	rows, err := t.tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list parcels: query: %w", err)
	}
	defer rows.Close()

	parcels := make([]*domain.Parcel, 0, limit)
	for rows.Next() {
		p := &domain.Parcel{}
		var status string
		if err := rows.Scan(
			&p.ID, &p.TrackingNumber, &p.Carrier, &p.QueueNumber,
			&status, &p.RecipientName, &p.RecipientPhone, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list parcels: scan row: %w", err)
		}
		p.Status = domain.Status(status)
		parcels = append(parcels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parcels: row iteration: %w", err)
	}
	return parcels, nil
}

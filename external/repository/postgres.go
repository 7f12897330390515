package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, guild_id, channel_id, engine, started_at, ended_at, status, stop_reason, audio_seconds`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	err := row.Scan(&s.ID, &s.GuildID, &s.ChannelID, &s.Engine, &s.StartedAt, &s.EndedAt, &s.Status, &s.StopReason, &s.AudioSeconds)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO recordings (guild_id, channel_id, engine, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING `+sessionColumns,
		input.GuildID, input.ChannelID, input.Engine, input.StartedAt)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recordings SET status = 'completed', ended_at = $2, stop_reason = $3, audio_seconds = $4 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason, input.AudioSeconds)
	if err != nil {
		return fmt.Errorf("failed to complete recording: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRunningSessionByChannel(ctx context.Context, guildID, channelID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM recordings WHERE guild_id = $1 AND channel_id = $2 AND status = 'running'
		 LIMIT 1`,
		guildID, channelID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query running recording: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO recording_segments (recording_id, content, segment_index, spoken_at, is_you, speaker_id, channel)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		input.SessionID, input.Content, input.SegmentIndex, input.SpokenAt, input.IsYou, input.SpeakerID, input.Channel)
	if err != nil {
		return fmt.Errorf("failed to insert segment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recording_id, content, segment_index, spoken_at, is_you, speaker_id, channel, created_at
		 FROM recording_segments WHERE recording_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.SpokenAt, &seg.IsYou, &seg.SpeakerID, &seg.Channel, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

// Shutdown closes the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}

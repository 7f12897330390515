package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE recording_status AS ENUM ('running', 'completed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS recordings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status recording_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		audio_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recordings_running ON recordings (guild_id, channel_id) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS recording_segments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		recording_id UUID NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		spoken_at TIMESTAMPTZ NOT NULL,
		is_you BOOLEAN NOT NULL,
		speaker_id INTEGER,
		channel SMALLINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(recording_id, segment_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recording_segments_recording ON recording_segments (recording_id, segment_index)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}

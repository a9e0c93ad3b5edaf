package postgres

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_streak_tables", UpSQL: migration001Up},
		{Version: 2, Name: "create_micro_tasks", UpSQL: migration002Up},
		{Version: 3, Name: "create_timetable", UpSQL: migration003Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEDGERS AND GRACE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS streak_ledgers (
    user_id TEXT PRIMARY KEY,

    attendance_current INTEGER NOT NULL DEFAULT 0,
    attendance_longest INTEGER NOT NULL DEFAULT 0,
    attendance_last_updated DATE,

    task_current INTEGER NOT NULL DEFAULT 0,
    task_longest INTEGER NOT NULL DEFAULT 0,
    task_last_updated DATE,

    total_points INTEGER NOT NULL DEFAULT 0,
    restorations INTEGER NOT NULL DEFAULT 0,

    -- append-only list of {name, description, earned_at, icon}
    badges JSONB NOT NULL DEFAULT '[]'::jsonb,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_attendance CHECK (attendance_current >= 0 AND attendance_longest >= attendance_current),
    CONSTRAINT valid_task CHECK (task_current >= 0 AND task_longest >= task_current),
    CONSTRAINT valid_points CHECK (total_points >= 0)
);

CREATE TABLE IF NOT EXISTS grace_states (
    user_id TEXT PRIMARY KEY,
    used_this_week BOOLEAN NOT NULL DEFAULT FALSE,
    last_grace_date DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_grace_states_used ON grace_states(user_id) WHERE used_this_week;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: MICRO-TASKS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS micro_tasks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    related_class_id TEXT NOT NULL DEFAULT '',
    type VARCHAR(20) NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    estimated_minutes INTEGER NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    streak_restore_eligible BOOLEAN NOT NULL DEFAULT TRUE,

    CONSTRAINT valid_type CHECK (type IN ('read_slides', 'watch_clip', 'do_mcqs', 'summarize', 'voice_note')),
    CONSTRAINT valid_estimate CHECK (estimated_minutes BETWEEN 5 AND 30),
    CONSTRAINT completed_has_time CHECK (NOT completed OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_micro_tasks_user_created ON micro_tasks(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_micro_tasks_user_completed ON micro_tasks(user_id, completed_at)
    WHERE completed AND streak_restore_eligible;

-- at most one task per missed class
CREATE UNIQUE INDEX IF NOT EXISTS idx_micro_tasks_user_class ON micro_tasks(user_id, related_class_id)
    WHERE related_class_id <> '';
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TIMETABLE FEED AND PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS missed_classes (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    class_ref TEXT NOT NULL,
    class_title TEXT NOT NULL DEFAULT '',
    scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_missed_classes_scheduled ON missed_classes(scheduled_at);

CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT PRIMARY KEY,
    persona VARCHAR(20) NOT NULL DEFAULT '',
    motivation_style TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

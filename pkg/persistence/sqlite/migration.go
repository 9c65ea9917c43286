package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE threads (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'suspended', 'completed', 'human_review', 'failed', 'cancelled')),
				last_checkpoint_id TEXT NOT NULL DEFAULT '',
				metadata TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX idx_threads_user_id ON threads(user_id);
			CREATE INDEX idx_threads_status ON threads(status);

			CREATE TABLE checkpoints (
				thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
				checkpoint_id TEXT NOT NULL,
				parent_checkpoint_id TEXT NOT NULL DEFAULT '',
				seq INTEGER NOT NULL,
				state_data TEXT NOT NULL,
				metadata TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (thread_id, checkpoint_id),
				UNIQUE (thread_id, seq)
			);
		`,
		2: `
			CREATE TABLE guideline_profiles (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('brand', 'regulatory')),
				name TEXT NOT NULL,
				body TEXT NOT NULL
			);

			CREATE INDEX idx_guideline_profiles_owner ON guideline_profiles(user_id, kind);

			CREATE TABLE learned_preferences (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				guideline_profile_id TEXT NOT NULL DEFAULT '',
				conflict_type TEXT NOT NULL,
				preferred_agent_type TEXT NOT NULL,
				apply_to_future INTEGER NOT NULL DEFAULT 1,
				usage_count INTEGER NOT NULL DEFAULT 0,
				last_used_at DATETIME,
				created_at DATETIME NOT NULL
			);

			CREATE INDEX idx_learned_preferences_lookup ON learned_preferences(user_id, conflict_type);
		`,
	}
}

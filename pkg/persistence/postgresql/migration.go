package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Threads are resumable runs; last_checkpoint_id is the head used for compare-and-swap
			CREATE TABLE threads (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				session_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'processing', 'suspended', 'completed', 'human_review', 'failed', 'cancelled')),
				last_checkpoint_id VARCHAR(255) NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_threads_user_id ON threads(user_id);
			CREATE INDEX idx_threads_status ON threads(status);

			CREATE TABLE checkpoints (
				thread_id VARCHAR(255) NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
				checkpoint_id VARCHAR(255) NOT NULL,
				parent_checkpoint_id VARCHAR(255) NOT NULL DEFAULT '',
				seq BIGINT NOT NULL,
				state_data JSONB NOT NULL,
				metadata JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (thread_id, checkpoint_id),
				UNIQUE (thread_id, seq)
			);

			CREATE INDEX idx_checkpoints_created_at ON checkpoints(thread_id, created_at);
		`,
		2: `
			CREATE TABLE guideline_profiles (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('brand', 'regulatory')),
				name VARCHAR(255) NOT NULL,
				body JSONB NOT NULL
			);

			CREATE INDEX idx_guideline_profiles_owner ON guideline_profiles(user_id, kind);

			CREATE TABLE learned_preferences (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				guideline_profile_id VARCHAR(255) NOT NULL DEFAULT '',
				conflict_type VARCHAR(255) NOT NULL,
				preferred_agent_type VARCHAR(50) NOT NULL,
				apply_to_future BOOLEAN NOT NULL DEFAULT true,
				usage_count INT NOT NULL DEFAULT 0,
				last_used_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_learned_preferences_lookup ON learned_preferences(user_id, conflict_type);
		`,
	}
}

package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				allowed_users JSONB,
				allowed_groups JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id VARCHAR(36) PRIMARY KEY,
				definition_id VARCHAR(36) NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				started_by VARCHAR(255) NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_instances_definition ON workflow_instances (definition_id);
			CREATE INDEX IF NOT EXISTS idx_instances_status ON workflow_instances (status);

			CREATE TABLE IF NOT EXISTS tasks (
				id VARCHAR(36) PRIMARY KEY,
				instance_id VARCHAR(36) NOT NULL,
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(32) NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				assignees JSONB,
				status VARCHAR(32) NOT NULL,
				priority VARCHAR(32) NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE,
				task_data JSONB,
				decision VARCHAR(32) NOT NULL DEFAULT '',
				form_schema JSONB,
				form_data JSONB,
				form_progress INTEGER NOT NULL DEFAULT 0,
				locked_by VARCHAR(255) NOT NULL DEFAULT '',
				locked_at TIMESTAMP WITH TIME ZONE,
				submitted_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);
			CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks (instance_id);
			CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks (assigned_to);
			CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
			CREATE INDEX IF NOT EXISTS idx_tasks_node ON tasks (instance_id, node_id);

			CREATE TABLE IF NOT EXISTS history_entries (
				id VARCHAR(36) PRIMARY KEY,
				instance_id VARCHAR(36) NOT NULL,
				step VARCHAR(255) NOT NULL DEFAULT '',
				action VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_history_instance ON history_entries (instance_id, created_at);

			CREATE TABLE IF NOT EXISTS notifications (
				id VARCHAR(36) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				category VARCHAR(64) NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				data JSONB,
				read BOOLEAN NOT NULL DEFAULT FALSE,
				read_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);

			CREATE TABLE IF NOT EXISTS subscriptions (
				id VARCHAR(36) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				instance_id VARCHAR(36) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (user_id, instance_id)
			);

			CREATE TABLE IF NOT EXISTS timers (
				id VARCHAR(36) PRIMARY KEY,
				instance_id VARCHAR(36) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				fired_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_timers_due ON timers (due_at) WHERE fired_at IS NULL;
		`,
	}
}

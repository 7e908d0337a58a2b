package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				graph_json TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_name ON workflows(name);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_updated_at ON workflows(updated_at);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL DEFAULT '',
				ticket_id VARCHAR(255) NOT NULL DEFAULT '',
				state VARCHAR(50) NOT NULL CHECK (state IN ('pending', 'running', 'suspended', 'completed', 'failed')),
				trace JSONB NOT NULL DEFAULT '[]',
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id, started_at DESC);
			CREATE INDEX idx_executions_finished_at ON executions(finished_at);
		`,
		3: `
			ALTER TABLE executions ADD COLUMN context JSONB NOT NULL DEFAULT '{}';
			ALTER TABLE executions ADD COLUMN output JSONB;
		`,
	}
}

package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				project_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL DEFAULT 1,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_project_id ON workflow_definitions(project_id);
			CREATE INDEX idx_workflow_definitions_enabled ON workflow_definitions(enabled);

			CREATE TABLE workflow_nodes (
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL,
				config JSONB DEFAULT '{}',
				position_x INT DEFAULT 0,
				position_y INT DEFAULT 0,
				PRIMARY KEY (definition_id, id)
			);

			CREATE TABLE workflow_edges (
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_id VARCHAR(255) NOT NULL,
				target_id VARCHAR(255) NOT NULL,
				condition JSONB,
				label VARCHAR(50) NOT NULL DEFAULT '',
				sort_order INT NOT NULL DEFAULT 0,
				PRIMARY KEY (definition_id, id)
			);

			CREATE INDEX idx_workflow_edges_source ON workflow_edges(definition_id, source_id);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				trigger_node_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(50),
				entity_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'completed', 'failed', 'cancelled')),
				context JSONB DEFAULT '{}',
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_definition ON workflow_executions(definition_id);
			CREATE INDEX idx_workflow_executions_entity ON workflow_executions(entity_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);

			CREATE TABLE node_executions (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped', 'waiting')),
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_node_executions_execution ON node_executions(execution_id);
			CREATE INDEX idx_node_executions_status ON node_executions(status);
		`,
	}
}

package db

// schemaSQL is the complete schema for fresh Cadence installs.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS restaurants (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	contact_name TEXT,
	email TEXT,
	phone TEXT,
	cuisine TEXT,
	city TEXT,
	notes TEXT,
	painpoints_json TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_restaurants_org ON restaurants(org_id);

CREATE TABLE IF NOT EXISTS sequence_templates (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sequence_templates_org ON sequence_templates(org_id);

CREATE TABLE IF NOT EXISTS sequence_steps (
	id TEXT PRIMARY KEY,
	template_id TEXT NOT NULL REFERENCES sequence_templates(id) ON DELETE CASCADE,
	step_order INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	task_type TEXT NOT NULL CHECK(task_type IN ('email', 'call', 'linkedin', 'demo_meeting', 'other')),
	priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high')),
	message TEXT,
	subject TEXT,
	blueprint_id TEXT,
	delay_value INTEGER NOT NULL DEFAULT 0 CHECK(delay_value >= 0),
	delay_unit TEXT NOT NULL DEFAULT 'days' CHECK(delay_unit IN ('minutes', 'hours', 'days')),
	UNIQUE(template_id, step_order)
);

-- Instances snapshot their template at start; template_id is kept for
-- reporting but is not a foreign key, so finished history survives
-- template deletion.
CREATE TABLE IF NOT EXISTS sequence_instances (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	template_id TEXT NOT NULL,
	restaurant_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('active', 'paused', 'completed', 'cancelled')),
	current_step_order INTEGER NOT NULL DEFAULT 1,
	total_steps INTEGER NOT NULL,
	assigned_owner TEXT,
	created_by TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT
);

-- At most one live instance per (template, restaurant).
CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_one_live
	ON sequence_instances(template_id, restaurant_id)
	WHERE status IN ('active', 'paused');

CREATE INDEX IF NOT EXISTS idx_instances_restaurant ON sequence_instances(org_id, restaurant_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	restaurant_id TEXT,
	name TEXT NOT NULL,
	description TEXT,
	task_type TEXT NOT NULL CHECK(task_type IN ('email', 'call', 'linkedin', 'demo_meeting', 'other')),
	priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high')),
	message TEXT,
	subject TEXT,
	status TEXT NOT NULL CHECK(status IN ('pending', 'active', 'completed', 'cancelled')),
	due_date TEXT,
	sequence_instance_id TEXT REFERENCES sequence_instances(id),
	sequence_step_order INTEGER,
	delay_value INTEGER NOT NULL DEFAULT 0,
	delay_unit TEXT NOT NULL DEFAULT 'days',
	assigned_owner TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT
);

-- Step orders are unique within an instance (snapshot of the template).
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_instance_step
	ON tasks(sequence_instance_id, sequence_step_order)
	WHERE sequence_instance_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_tasks_instance_status ON tasks(sequence_instance_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_org_restaurant ON tasks(org_id, restaurant_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	type TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload_json TEXT,
	metadata_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id, timestamp);
`

package db

import (
	"context"
	"database/sql"
)

// DB is the shared database/sql handle (lib/pq driver).
type DB struct {
	*sql.DB
}

const schemaMigration = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS organizations (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    name text NOT NULL,
    is_active boolean NOT NULL DEFAULT true,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    username text,
    email text NOT NULL,
    email_verified boolean NOT NULL DEFAULT false,
    display_name text NOT NULL DEFAULT '',
    current_org_id uuid REFERENCES organizations(id) ON DELETE SET NULL,
    status text NOT NULL DEFAULT 'active',
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_unique
ON users (LOWER(email));

CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_unique
ON users (LOWER(username)) WHERE username IS NOT NULL;

CREATE TABLE IF NOT EXISTS credentials (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id uuid NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
    password_hash text NOT NULL,
    hash_version text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS identities (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    provider text NOT NULL,
    provider_user_id text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW(),
    CONSTRAINT identities_provider_unique
        UNIQUE (provider, provider_user_id)
);

CREATE INDEX IF NOT EXISTS identities_user_id_idx
ON identities (user_id);

CREATE TABLE IF NOT EXISTS roles (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    organization_id uuid NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    name text NOT NULL,
    permissions text[] NOT NULL DEFAULT '{}',
    is_system boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    CONSTRAINT roles_org_name_unique UNIQUE (organization_id, name)
);

-- at most one system owner role per organization
CREATE UNIQUE INDEX IF NOT EXISTS roles_system_owner_unique
ON roles (organization_id) WHERE is_system AND name = 'owner';

CREATE TABLE IF NOT EXISTS role_assignments (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id uuid NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    organization_id uuid NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    is_active boolean NOT NULL DEFAULT true,
    assigned_at timestamptz NOT NULL DEFAULT NOW(),
    assigned_by text NOT NULL DEFAULT '',
    CONSTRAINT role_assignments_unique
        UNIQUE (user_id, role_id, organization_id)
);

CREATE INDEX IF NOT EXISTS role_assignments_user_idx
ON role_assignments (user_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS sessions (
    id uuid PRIMARY KEY,
    session_token text NOT NULL,
    refresh_token text,
    user_id text NOT NULL,
    current_org_id text NOT NULL DEFAULT '',
    status text NOT NULL,
    expires_at timestamptz NOT NULL,
    last_access_at timestamptz NOT NULL,
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL,
    revoked_at timestamptz,
    available_org_ids jsonb NOT NULL DEFAULT '[]',
    permissions jsonb NOT NULL DEFAULT '[]',
    roles jsonb NOT NULL DEFAULT '[]',
    user_summary jsonb,
    current_org jsonb,
    remember_me boolean NOT NULL DEFAULT false,
    login_method text NOT NULL DEFAULT '',
    device_fingerprint text NOT NULL DEFAULT '',
    device_name text NOT NULL DEFAULT '',
    is_trusted boolean NOT NULL DEFAULT false,
    risk_score integer NOT NULL DEFAULT 0,
    ip_address text NOT NULL DEFAULT '',
    user_agent text NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_session_token_unique
ON sessions (session_token);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_refresh_token_unique
ON sessions (refresh_token) WHERE refresh_token IS NOT NULL;

CREATE INDEX IF NOT EXISTS sessions_user_id_idx
ON sessions (user_id);

CREATE INDEX IF NOT EXISTS sessions_active_expiry_idx
ON sessions (expires_at) WHERE status = 'active';
`

func RunMigration(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaMigration)
	return err
}

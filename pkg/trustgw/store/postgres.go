package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Postgres is the production relationship store, speaking SQL through
// the pgx stdlib driver. State-machine transitions are persisted under
// serializable transactions so concurrent approvals cannot race.
type Postgres struct {
	db *sql.DB
}

var (
	_ trust.RelationshipStore = (*Postgres)(nil)
	_ GroupStore              = (*Postgres)(nil)
)

// OpenPostgres connects to the database at dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing database handle; used by tests.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
create table if not exists trust_relationships (
	id text primary key,
	source_org text not null,
	target_org text not null,
	kind text not null,
	group_id text,
	level text not null,
	status text not null,
	bilateral boolean not null default false,
	valid_from timestamptz not null,
	valid_until timestamptz,
	approved_by_source boolean not null default false,
	approved_by_target boolean not null default false,
	source_approver text,
	target_approver text,
	anonymization_override text not null default 'custom',
	access_override text not null default 'full',
	notes jsonb,
	created_by text,
	last_modified_by text,
	revoked_by text,
	created_at timestamptz not null,
	activated_at timestamptz,
	revoked_at timestamptz
);
create unique index if not exists trust_relationships_live_pair
	on trust_relationships(source_org, target_org)
	where status in ('pending', 'active', 'suspended');

create table if not exists trust_groups (
	id text primary key,
	name text not null unique,
	type text not null,
	public boolean not null default false,
	requires_approval boolean not null default false,
	default_level text not null,
	admin_orgs jsonb,
	active boolean not null default true,
	created_by text,
	created_at timestamptz not null
);

create table if not exists trust_group_memberships (
	group_id text not null references trust_groups(id),
	org_id text not null,
	role text not null,
	active boolean not null default true,
	joined_at timestamptz not null,
	left_at timestamptz,
	invited_by text,
	approved_by text,
	primary key (group_id, org_id)
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure trust schema: %w", err)
	}
	return nil
}

const relationshipColumns = `id, source_org, target_org, kind, coalesce(group_id, ''), level, status,
	bilateral, valid_from, valid_until, approved_by_source, approved_by_target,
	coalesce(source_approver, ''), coalesce(target_approver, ''),
	anonymization_override, access_override, notes,
	coalesce(created_by, ''), coalesce(last_modified_by, ''), coalesce(revoked_by, ''),
	created_at, activated_at, revoked_at`

// FindDirect returns the relationship for the exact ordered pair. When
// several historical rows exist for the pair, the live one wins, then
// the most recent.
func (p *Postgres) FindDirect(ctx context.Context, sourceOrg, targetOrg string) (*trust.TrustRelationship, error) {
	row := p.db.QueryRowContext(ctx, `
		select `+relationshipColumns+`
		from trust_relationships
		where source_org = $1 and target_org = $2
		order by (status in ('pending', 'active', 'suspended')) desc, created_at desc
		limit 1
	`, sourceOrg, targetOrg)

	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// FindGroupLink returns an active group in which both organizations
// hold active memberships.
func (p *Postgres) FindGroupLink(ctx context.Context, orgA, orgB string) (*trust.TrustGroup, error) {
	row := p.db.QueryRowContext(ctx, `
		select g.id, g.name, g.type, g.public, g.requires_approval, g.default_level,
			g.admin_orgs, g.active, coalesce(g.created_by, ''), g.created_at
		from trust_groups g
		join trust_group_memberships ma on ma.group_id = g.id and ma.org_id = $1 and ma.active
		join trust_group_memberships mb on mb.group_id = g.id and mb.org_id = $2 and mb.active
		where g.active
		order by g.created_at
		limit 1
	`, orgA, orgB)

	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Get returns a relationship by id, nil when unknown.
func (p *Postgres) Get(ctx context.Context, id string) (*trust.TrustRelationship, error) {
	row := p.db.QueryRowContext(ctx, `
		select `+relationshipColumns+`
		from trust_relationships
		where id = $1
	`, id)

	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// Save upserts a relationship under a serializable transaction,
// re-checking the unique live ordered pair inside the transaction.
func (p *Postgres) Save(ctx context.Context, rel *trust.TrustRelationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("relationship requires an id")
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if isLive(rel.Status) {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			select id from trust_relationships
			where source_org = $1 and target_org = $2 and id <> $3
				and status in ('pending', 'active', 'suspended')
			limit 1
		`, rel.SourceOrg, rel.TargetOrg, rel.ID).Scan(&existingID)
		if err == nil {
			return &trust.InvalidRelationshipError{
				Reason: fmt.Sprintf("a live relationship already exists for %s -> %s", rel.SourceOrg, rel.TargetOrg),
			}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check for duplicate relationship: %w", err)
		}
	}

	notes, err := json.Marshal(rel.Notes)
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into trust_relationships (
			id, source_org, target_org, kind, group_id, level, status,
			bilateral, valid_from, valid_until, approved_by_source, approved_by_target,
			source_approver, target_approver, anonymization_override, access_override,
			notes, created_by, last_modified_by, revoked_by, created_at, activated_at, revoked_at
		) values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		on conflict (id) do update set
			status = excluded.status,
			approved_by_source = excluded.approved_by_source,
			approved_by_target = excluded.approved_by_target,
			source_approver = excluded.source_approver,
			target_approver = excluded.target_approver,
			anonymization_override = excluded.anonymization_override,
			access_override = excluded.access_override,
			notes = excluded.notes,
			last_modified_by = excluded.last_modified_by,
			revoked_by = excluded.revoked_by,
			activated_at = excluded.activated_at,
			revoked_at = excluded.revoked_at
	`,
		rel.ID, rel.SourceOrg, rel.TargetOrg, string(rel.Kind), rel.GroupID, rel.Level, string(rel.Status),
		rel.Bilateral, rel.ValidFrom, rel.ValidUntil, rel.ApprovedBySource, rel.ApprovedByTarget,
		rel.SourceApprover, rel.TargetApprover, string(rel.AnonymizationOverride), string(rel.AccessOverride),
		notes, rel.CreatedBy, rel.LastModifiedBy, rel.RevokedBy, rel.CreatedAt, rel.ActivatedAt, rel.RevokedAt,
	); err != nil {
		return fmt.Errorf("failed to save relationship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relationship: %w", err)
	}
	return nil
}

// AddGroup upserts a trust group.
func (p *Postgres) AddGroup(ctx context.Context, group *trust.TrustGroup) error {
	if group == nil || group.ID == "" {
		return fmt.Errorf("trust group requires an id")
	}
	admins, err := json.Marshal(group.AdminOrgs)
	if err != nil {
		return fmt.Errorf("failed to marshal admin orgs: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `
		insert into trust_groups (id, name, type, public, requires_approval, default_level, admin_orgs, active, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (id) do update set
			public = excluded.public,
			requires_approval = excluded.requires_approval,
			default_level = excluded.default_level,
			admin_orgs = excluded.admin_orgs,
			active = excluded.active
	`, group.ID, group.Name, string(group.Type), group.Public, group.RequiresApproval,
		group.DefaultLevel, admins, group.Active, group.CreatedBy, group.CreatedAt); err != nil {
		return fmt.Errorf("failed to save trust group: %w", err)
	}
	return nil
}

// AddMembership upserts the membership for the (group, org) pair.
func (p *Postgres) AddMembership(ctx context.Context, m *trust.GroupMembership) error {
	if m == nil || m.GroupID == "" || m.OrgID == "" {
		return fmt.Errorf("membership requires group and organization ids")
	}
	if _, err := p.db.ExecContext(ctx, `
		insert into trust_group_memberships (group_id, org_id, role, active, joined_at, left_at, invited_by, approved_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (group_id, org_id) do update set
			role = excluded.role,
			active = excluded.active,
			left_at = excluded.left_at,
			approved_by = excluded.approved_by
	`, m.GroupID, m.OrgID, string(m.Role), m.Active, m.JoinedAt, m.LeftAt, m.InvitedBy, m.ApprovedBy); err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

// GetGroup returns a group by id, nil when unknown.
func (p *Postgres) GetGroup(ctx context.Context, id string) (*trust.TrustGroup, error) {
	row := p.db.QueryRowContext(ctx, `
		select id, name, type, public, requires_approval, default_level,
			admin_orgs, active, coalesce(created_by, ''), created_at
		from trust_groups
		where id = $1
	`, id)

	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

func scanRelationship(row *sql.Row) (*trust.TrustRelationship, error) {
	var rel trust.TrustRelationship
	var kind, status, anonOverride, accessOverride string
	var validUntil, activatedAt, revokedAt sql.NullTime
	var notes []byte

	err := row.Scan(
		&rel.ID, &rel.SourceOrg, &rel.TargetOrg, &kind, &rel.GroupID, &rel.Level, &status,
		&rel.Bilateral, &rel.ValidFrom, &validUntil, &rel.ApprovedBySource, &rel.ApprovedByTarget,
		&rel.SourceApprover, &rel.TargetApprover, &anonOverride, &accessOverride, &notes,
		&rel.CreatedBy, &rel.LastModifiedBy, &rel.RevokedBy, &rel.CreatedAt, &activatedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	rel.Kind = trust.RelationshipKind(kind)
	rel.Status = trust.RelationshipStatus(status)
	rel.AnonymizationOverride = trust.AnonymizationTier(anonOverride)
	rel.AccessOverride = trust.AccessTier(accessOverride)
	if validUntil.Valid {
		t := validUntil.Time
		rel.ValidUntil = &t
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		rel.ActivatedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rel.RevokedAt = &t
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &rel.Notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
	}
	return &rel, nil
}

func scanGroup(row *sql.Row) (*trust.TrustGroup, error) {
	var group trust.TrustGroup
	var groupType string
	var admins []byte

	err := row.Scan(
		&group.ID, &group.Name, &groupType, &group.Public, &group.RequiresApproval,
		&group.DefaultLevel, &admins, &group.Active, &group.CreatedBy, &group.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	group.Type = trust.GroupType(groupType)
	if len(admins) > 0 {
		if err := json.Unmarshal(admins, &group.AdminOrgs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal admin orgs: %w", err)
		}
	}
	return &group, nil
}

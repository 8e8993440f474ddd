package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct. Inside Transaction, tx is set and every
// method runs on that transaction.
type DB struct {
	db *sql.DB
	tx *sql.Tx
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	maxBusyRetries = 5
	txTimeout      = 30 * time.Second
)

// GetDB returns the process-wide database, opening it on first use
func GetDB(path string) *DB {
	dbOnce.Do(func() {
		db, err := Open(path)
		if err != nil {
			panic(err)
		}
		dbInstance = db
	})
	return dbInstance
}

// Open opens the sqlite database at path and brings the schema up to date
func Open(path string) (*DB, error) {
	log.Printf("Using database at: %s", path)

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) q() querier {
	if db.tx != nil {
		return db.tx
	}
	return db.db
}

// Transaction runs f with a DB bound to a single transaction.
// Nested calls join the outer transaction.
func (db *DB) Transaction(f func(tx *DB) error) error {
	if db.tx != nil {
		return f(db)
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return f(&DB{db: db.db, tx: tx})
	})
}

func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	if db.tx != nil {
		return f(db.tx)
	}

	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err = db.runTx(f)
		if !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	log.Printf("error in transaction after %d busy retries: %s", maxBusyRetries, err)
	return err
}

func (db *DB) runTx(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		if !isBusy(err) && !errors.Is(err, domain.ErrDuplicate) && !errors.Is(err, domain.ErrStaleObject) {
			log.Printf("error in transaction: %s", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Printf("error committing transaction: %s", err)
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlitelib.SQLITE_BUSY || serr.Code() == sqlitelib.SQLITE_LOCKED
	}
	return false
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// insert maps uniqueness violations to domain.ErrDuplicate
func (db *DB) insert(query string, args ...any) error {
	_, err := db.q().Exec(query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	}
	return err
}

func (db *DB) exec(query string, args ...any) error {
	_, err := db.q().Exec(query, args...)
	return err
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(ns sql.NullString) *uuid.UUID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func parseNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func marshalList[T any](list []T) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList[T any](raw sql.NullString) []T {
	var list []T
	if !raw.Valid || raw.String == "" {
		return list
	}
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		log.Printf("Warning: Failed to decode list column: %v", err)
	}
	return list
}

// noRows turns sql.ErrNoRows into a nil result
func noRows[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// Accounts
const (
	sqlAccountColumns = `id, username, domain, uri, url, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, featured_uri,
		public_key_pem, private_key_pem, display_name, actor_type, locked, silenced, suspended, instance_actor,
		moved_to_account_id, also_known_as, last_fetched_at, created_at`
	sqlInsertAccount = `INSERT INTO accounts(id, username, domain, uri, url, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, featured_uri,
		public_key_pem, private_key_pem, display_name, actor_type, locked, silenced, suspended, instance_actor,
		moved_to_account_id, also_known_as, last_fetched_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateAccount = `UPDATE accounts SET url = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, followers_uri = ?, featured_uri = ?,
		public_key_pem = ?, display_name = ?, actor_type = ?, locked = ?, silenced = ?, suspended = ?,
		moved_to_account_id = ?, also_known_as = ?, last_fetched_at = ? WHERE id = ?`
	sqlSelectAccountById            = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE id = ?`
	sqlSelectAccountByURI           = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE uri = ?`
	sqlSelectLocalAccountByUsername = `SELECT ` + sqlAccountColumns + ` FROM accounts WHERE domain = '' AND username = ? COLLATE NOCASE`
	sqlInsertDomainBlock            = `INSERT INTO domain_blocks(id, account_id, domain, created_at) VALUES (?, ?, ?, ?)`
	sqlCountDomainBlock             = `SELECT COUNT(*) FROM domain_blocks WHERE account_id = ? AND domain = ?`
)

func scanAccount(row scanner) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	var url, inbox, sharedInbox, outbox, followers, featured, pubKey, privKey, displayName, actorType, movedTo, aka sql.NullString
	var lastFetched, createdAt sql.NullTime
	err := row.Scan(&idStr, &acc.Username, &acc.Domain, &acc.URI, &url, &inbox, &sharedInbox, &outbox, &followers, &featured,
		&pubKey, &privKey, &displayName, &actorType, &acc.Locked, &acc.Silenced, &acc.Suspended, &acc.InstanceActor,
		&movedTo, &aka, &lastFetched, &createdAt)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	acc.URL = url.String
	acc.InboxURI = inbox.String
	acc.SharedInboxURI = sharedInbox.String
	acc.OutboxURI = outbox.String
	acc.FollowersURI = followers.String
	acc.FeaturedURI = featured.String
	acc.PublicKeyPem = pubKey.String
	acc.PrivateKeyPem = privKey.String
	acc.DisplayName = displayName.String
	acc.ActorType = actorType.String
	acc.MovedToAccountId = parseNullUUID(movedTo)
	acc.AlsoKnownAs = unmarshalList[string](aka)
	acc.LastFetchedAt = lastFetched.Time
	acc.CreatedAt = createdAt.Time
	return &acc, nil
}

func (db *DB) CreateAccount(acc *domain.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertAccount,
		acc.Id.String(), acc.Username, acc.Domain, acc.URI, acc.URL, acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI,
		acc.FollowersURI, acc.FeaturedURI, acc.PublicKeyPem, acc.PrivateKeyPem, acc.DisplayName, acc.ActorType,
		acc.Locked, acc.Silenced, acc.Suspended, acc.InstanceActor,
		nullUUID(acc.MovedToAccountId), marshalList(acc.AlsoKnownAs), acc.LastFetchedAt.UTC(), acc.CreatedAt.UTC(),
	)
}

func (db *DB) UpdateAccount(acc *domain.Account) error {
	return db.exec(sqlUpdateAccount,
		acc.URL, acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI, acc.FollowersURI, acc.FeaturedURI,
		acc.PublicKeyPem, acc.DisplayName, acc.ActorType, acc.Locked, acc.Silenced, acc.Suspended,
		nullUUID(acc.MovedToAccountId), marshalList(acc.AlsoKnownAs), acc.LastFetchedAt.UTC(), acc.Id.String(),
	)
}

func (db *DB) ReadAccountById(id uuid.UUID) (*domain.Account, error) {
	return noRows(scanAccount(db.q().QueryRow(sqlSelectAccountById, id.String())))
}

func (db *DB) ReadAccountByURI(uri string) (*domain.Account, error) {
	return noRows(scanAccount(db.q().QueryRow(sqlSelectAccountByURI, uri)))
}

func (db *DB) ReadLocalAccountByUsername(username string) (*domain.Account, error) {
	return noRows(scanAccount(db.q().QueryRow(sqlSelectLocalAccountByUsername, username)))
}

func (db *DB) CreateDomainBlock(block *domain.DomainBlock) error {
	return db.insert(sqlInsertDomainBlock, block.Id.String(), block.AccountId.String(), strings.ToLower(block.Domain), time.Now().UTC())
}

func (db *DB) IsDomainBlocked(accountId uuid.UUID, host string) (bool, error) {
	var count int
	err := db.q().QueryRow(sqlCountDomainBlock, accountId.String(), strings.ToLower(host)).Scan(&count)
	return count > 0, err
}

// Follows
const (
	sqlFollowColumns        = `id, account_id, target_account_id, uri, state, created_at, updated_at`
	sqlInsertFollow         = `INSERT INTO follows(id, account_id, target_account_id, uri, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateFollow         = `UPDATE follows SET uri = ?, state = ?, updated_at = ? WHERE id = ?`
	sqlDeleteFollow         = `DELETE FROM follows WHERE id = ?`
	sqlSelectFollow         = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowByURI    = `SELECT ` + sqlFollowColumns + ` FROM follows WHERE uri = ?`
	sqlSelectLocalFollowers = `SELECT f.id, f.account_id, f.target_account_id, f.uri, f.state, f.created_at, f.updated_at
		FROM follows f
		INNER JOIN accounts a ON a.id = f.account_id
		WHERE f.target_account_id = ? AND f.state = 'accepted' AND a.domain = ''`
	sqlCountLocalFollowers = `SELECT COUNT(*) FROM follows f
		INNER JOIN accounts a ON a.id = f.account_id
		WHERE f.target_account_id = ? AND f.state = 'accepted' AND a.domain = ''`
	sqlSelectRemoteFollowerInboxes = `SELECT DISTINCT COALESCE(NULLIF(a.shared_inbox_uri, ''), a.inbox_uri)
		FROM follows f
		INNER JOIN accounts a ON a.id = f.account_id
		WHERE f.target_account_id = ? AND f.state = 'accepted' AND a.domain != '' AND a.suspended = 0`
)

func scanFollow(row scanner) (*domain.Follow, error) {
	var f domain.Follow
	var idStr, accountIdStr, targetIdStr, state string
	var uri sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &uri, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.Id, _ = uuid.Parse(idStr)
	f.AccountId, _ = uuid.Parse(accountIdStr)
	f.TargetAccountId, _ = uuid.Parse(targetIdStr)
	f.URI = uri.String
	f.State = domain.FollowState(state)
	f.CreatedAt = createdAt.Time
	f.UpdatedAt = updatedAt.Time
	return &f, nil
}

func (db *DB) CreateFollow(follow *domain.Follow) error {
	now := time.Now()
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = now
	}
	follow.UpdatedAt = now
	return db.insert(sqlInsertFollow,
		follow.Id.String(), follow.AccountId.String(), follow.TargetAccountId.String(),
		follow.URI, string(follow.State), follow.CreatedAt.UTC(), follow.UpdatedAt.UTC(),
	)
}

func (db *DB) UpdateFollow(follow *domain.Follow) error {
	follow.UpdatedAt = time.Now()
	return db.exec(sqlUpdateFollow, follow.URI, string(follow.State), follow.UpdatedAt.UTC(), follow.Id.String())
}

func (db *DB) DeleteFollow(id uuid.UUID) error {
	return db.exec(sqlDeleteFollow, id.String())
}

func (db *DB) ReadFollow(accountId, targetAccountId uuid.UUID) (*domain.Follow, error) {
	return noRows(scanFollow(db.q().QueryRow(sqlSelectFollow, accountId.String(), targetAccountId.String())))
}

func (db *DB) ReadFollowByURI(uri string) (*domain.Follow, error) {
	return noRows(scanFollow(db.q().QueryRow(sqlSelectFollowByURI, uri)))
}

// ReadLocalFollowers returns accepted follows of accountId whose follower is local
func (db *DB) ReadLocalFollowers(accountId uuid.UUID) ([]domain.Follow, error) {
	rows, err := db.q().Query(sqlSelectLocalFollowers, accountId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *f)
	}
	return follows, rows.Err()
}

func (db *DB) HasLocalFollowers(accountId uuid.UUID) (bool, error) {
	var count int
	err := db.q().QueryRow(sqlCountLocalFollowers, accountId.String()).Scan(&count)
	return count > 0, err
}

// ReadRemoteFollowerInboxes returns the distinct delivery inboxes of accepted remote followers
func (db *DB) ReadRemoteFollowerInboxes(accountId uuid.UUID) ([]string, error) {
	return db.readStrings(sqlSelectRemoteFollowerInboxes, accountId.String())
}

func (db *DB) readStrings(query string, args ...any) ([]string, error) {
	rows, err := db.q().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return out, err
		}
		if s.String != "" {
			out = append(out, s.String)
		}
	}
	return out, rows.Err()
}

// Blocks
const (
	sqlInsertBlock = `INSERT INTO blocks(id, account_id, target_account_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteBlock = `DELETE FROM blocks WHERE id = ?`
	sqlSelectBlock = `SELECT id, account_id, target_account_id, uri, created_at FROM blocks WHERE account_id = ? AND target_account_id = ?`
)

func (db *DB) CreateBlock(block *domain.Block) error {
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertBlock, block.Id.String(), block.AccountId.String(), block.TargetAccountId.String(), block.URI, block.CreatedAt.UTC())
}

func (db *DB) DeleteBlock(id uuid.UUID) error {
	return db.exec(sqlDeleteBlock, id.String())
}

func (db *DB) ReadBlock(accountId, targetAccountId uuid.UUID) (*domain.Block, error) {
	var b domain.Block
	var idStr, accountIdStr, targetIdStr string
	var uri sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectBlock, accountId.String(), targetAccountId.String()).
		Scan(&idStr, &accountIdStr, &targetIdStr, &uri, &createdAt)
	if err != nil {
		return noRows(&b, err)
	}
	b.Id, _ = uuid.Parse(idStr)
	b.AccountId, _ = uuid.Parse(accountIdStr)
	b.TargetAccountId, _ = uuid.Parse(targetIdStr)
	b.URI = uri.String
	b.CreatedAt = createdAt.Time
	return &b, nil
}

// Relays
const (
	sqlRelayColumns                = `id, inbox_uri, follow_activity_id, state, created_at, updated_at`
	sqlInsertRelay                 = `INSERT INTO relays(id, inbox_uri, follow_activity_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateRelay                 = `UPDATE relays SET follow_activity_id = ?, state = ?, updated_at = ? WHERE id = ?`
	sqlSelectRelayByFollowActivity = `SELECT ` + sqlRelayColumns + ` FROM relays WHERE follow_activity_id = ?`
	sqlSelectRelayByInboxURI       = `SELECT ` + sqlRelayColumns + ` FROM relays WHERE inbox_uri = ?`
)

func scanRelay(row scanner) (*domain.Relay, error) {
	var r domain.Relay
	var idStr, state string
	var followId sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&idStr, &r.InboxURI, &followId, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Id, _ = uuid.Parse(idStr)
	r.FollowActivityId = followId.String
	r.State = domain.RelayState(state)
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	return &r, nil
}

func (db *DB) CreateRelay(relay *domain.Relay) error {
	now := time.Now()
	relay.CreatedAt, relay.UpdatedAt = now, now
	return db.insert(sqlInsertRelay, relay.Id.String(), relay.InboxURI, relay.FollowActivityId, string(relay.State), now.UTC(), now.UTC())
}

func (db *DB) UpdateRelay(relay *domain.Relay) error {
	relay.UpdatedAt = time.Now()
	return db.exec(sqlUpdateRelay, relay.FollowActivityId, string(relay.State), relay.UpdatedAt.UTC(), relay.Id.String())
}

func (db *DB) ReadRelayByFollowActivityId(activityId string) (*domain.Relay, error) {
	return noRows(scanRelay(db.q().QueryRow(sqlSelectRelayByFollowActivity, activityId)))
}

func (db *DB) ReadRelayByInboxURI(inboxURI string) (*domain.Relay, error) {
	return noRows(scanRelay(db.q().QueryRow(sqlSelectRelayByInboxURI, inboxURI)))
}

// Groups
const (
	sqlInsertGroup               = `INSERT INTO group_actors(id, account_id, uri, inbox_uri, locked, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectGroupById           = `SELECT id, account_id, uri, inbox_uri, locked, local, created_at FROM group_actors WHERE id = ?`
	sqlMembershipColumns         = `id, account_id, group_id, uri, state, created_at, updated_at`
	sqlInsertMembership          = `INSERT INTO group_memberships(id, account_id, group_id, uri, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateMembership          = `UPDATE group_memberships SET uri = ?, state = ?, updated_at = ? WHERE id = ?`
	sqlDeleteMembership          = `DELETE FROM group_memberships WHERE id = ?`
	sqlSelectMembership          = `SELECT ` + sqlMembershipColumns + ` FROM group_memberships WHERE account_id = ? AND group_id = ?`
	sqlSelectMembershipByURI     = `SELECT ` + sqlMembershipColumns + ` FROM group_memberships WHERE uri = ?`
	sqlSelectRemoteMemberInboxes = `SELECT DISTINCT COALESCE(NULLIF(a.shared_inbox_uri, ''), a.inbox_uri)
		FROM group_memberships m
		INNER JOIN accounts a ON a.id = m.account_id
		WHERE m.group_id = ? AND m.state = 'accepted' AND a.domain != ''`
)

func (db *DB) CreateGroup(group *domain.Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertGroup, group.Id.String(), group.AccountId.String(), group.URI, group.InboxURI, group.Locked, group.Local, group.CreatedAt.UTC())
}

func (db *DB) ReadGroupById(id uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	var idStr, accountIdStr string
	var inbox sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectGroupById, id.String()).Scan(&idStr, &accountIdStr, &g.URI, &inbox, &g.Locked, &g.Local, &createdAt)
	if err != nil {
		return noRows(&g, err)
	}
	g.Id, _ = uuid.Parse(idStr)
	g.AccountId, _ = uuid.Parse(accountIdStr)
	g.InboxURI = inbox.String
	g.CreatedAt = createdAt.Time
	return &g, nil
}

func scanMembership(row scanner) (*domain.GroupMembership, error) {
	var m domain.GroupMembership
	var idStr, accountIdStr, groupIdStr, state string
	var uri sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&idStr, &accountIdStr, &groupIdStr, &uri, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Id, _ = uuid.Parse(idStr)
	m.AccountId, _ = uuid.Parse(accountIdStr)
	m.GroupId, _ = uuid.Parse(groupIdStr)
	m.URI = uri.String
	m.State = domain.FollowState(state)
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return &m, nil
}

func (db *DB) CreateGroupMembership(m *domain.GroupMembership) error {
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	return db.insert(sqlInsertMembership, m.Id.String(), m.AccountId.String(), m.GroupId.String(), m.URI, string(m.State), now.UTC(), now.UTC())
}

func (db *DB) UpdateGroupMembership(m *domain.GroupMembership) error {
	m.UpdatedAt = time.Now()
	return db.exec(sqlUpdateMembership, m.URI, string(m.State), m.UpdatedAt.UTC(), m.Id.String())
}

func (db *DB) DeleteGroupMembership(id uuid.UUID) error {
	return db.exec(sqlDeleteMembership, id.String())
}

func (db *DB) ReadGroupMembership(accountId, groupId uuid.UUID) (*domain.GroupMembership, error) {
	return noRows(scanMembership(db.q().QueryRow(sqlSelectMembership, accountId.String(), groupId.String())))
}

func (db *DB) ReadGroupMembershipByURI(uri string) (*domain.GroupMembership, error) {
	return noRows(scanMembership(db.q().QueryRow(sqlSelectMembershipByURI, uri)))
}

// ReadRemoteGroupMemberInboxes returns delivery inboxes of accepted remote members
func (db *DB) ReadRemoteGroupMemberInboxes(groupId uuid.UUID) ([]string, error) {
	return db.readStrings(sqlSelectRemoteMemberInboxes, groupId.String())
}

// Devices
const (
	sqlInsertDevice           = `INSERT INTO devices(id, account_id, device_id, name, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectDevice           = `SELECT id, account_id, device_id, name, created_at FROM devices WHERE account_id = ? AND device_id = ?`
	sqlInsertEncryptedMessage = `INSERT INTO encrypted_messages(id, device_id, from_account_id, from_device_id, type, body, digest, message_franking, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

func (db *DB) CreateDevice(d *domain.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertDevice, d.Id.String(), d.AccountId.String(), d.DeviceId, d.Name, d.CreatedAt.UTC())
}

func (db *DB) ReadDevice(accountId uuid.UUID, deviceId string) (*domain.Device, error) {
	var d domain.Device
	var idStr, accountIdStr string
	var name sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectDevice, accountId.String(), deviceId).Scan(&idStr, &accountIdStr, &d.DeviceId, &name, &createdAt)
	if err != nil {
		return noRows(&d, err)
	}
	d.Id, _ = uuid.Parse(idStr)
	d.AccountId, _ = uuid.Parse(accountIdStr)
	d.Name = name.String
	d.CreatedAt = createdAt.Time
	return &d, nil
}

func (db *DB) CreateEncryptedMessage(m *domain.EncryptedMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertEncryptedMessage,
		m.Id.String(), m.DeviceId.String(), m.FromAccountId.String(), m.FromDeviceId,
		m.Type, m.Body, m.Digest, m.MessageFranking, m.CreatedAt.UTC(),
	)
}

// Instance statistics

const (
	sqlCountLocalAccounts = `SELECT COUNT(*) FROM accounts WHERE domain = ''`
	sqlCountLocalStatuses = `SELECT COUNT(*) FROM statuses WHERE local = 1 AND reblog_of_id IS NULL`
	sqlCountKnownDomains  = `SELECT COUNT(DISTINCT domain) FROM accounts WHERE domain != ''`
)

func (db *DB) count(query string) (int, error) {
	var n int
	if err := db.q().QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// CountLocalAccounts returns the number of accounts hosted on this server
func (db *DB) CountLocalAccounts() (int, error) {
	return db.count(sqlCountLocalAccounts)
}

// CountLocalStatuses returns the number of original statuses posted locally
func (db *DB) CountLocalStatuses() (int, error) {
	return db.count(sqlCountLocalStatuses)
}

// CountKnownDomains returns the number of remote domains we have accounts from
func (db *DB) CountKnownDomains() (int, error) {
	return db.count(sqlCountKnownDomains)
}

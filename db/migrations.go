package db

import (
	"database/sql"
	"log"
)

// Schema for the inbox engine
const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		uri TEXT UNIQUE NOT NULL,
		url TEXT,
		inbox_uri TEXT,
		shared_inbox_uri TEXT,
		outbox_uri TEXT,
		followers_uri TEXT,
		featured_uri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		display_name TEXT,
		actor_type TEXT DEFAULT 'Person',
		locked INTEGER DEFAULT 0,
		silenced INTEGER DEFAULT 0,
		suspended INTEGER DEFAULT 0,
		instance_actor INTEGER DEFAULT 0,
		moved_to_account_id TEXT,
		also_known_as TEXT,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_uri ON accounts(uri);
		CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain);
	`

	sqlCreateDomainBlocksTable = `CREATE TABLE IF NOT EXISTS domain_blocks (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, domain)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT,
		state TEXT NOT NULL DEFAULT 'requested',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateStatusesTable = `CREATE TABLE IF NOT EXISTS statuses (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		url TEXT,
		account_id TEXT NOT NULL,
		text TEXT,
		spoiler_text TEXT,
		language TEXT,
		sensitive INTEGER DEFAULT 0,
		visibility TEXT NOT NULL DEFAULT 'public',
		in_reply_to_id TEXT,
		in_reply_to_uri TEXT,
		in_reply_to_account_id TEXT,
		reblog_of_id TEXT,
		poll_id TEXT,
		group_id TEXT,
		approval_status TEXT,
		quote_id TEXT,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateStatusesIndices = `
		CREATE INDEX IF NOT EXISTS idx_statuses_account_id ON statuses(account_id);
		CREATE INDEX IF NOT EXISTS idx_statuses_in_reply_to_id ON statuses(in_reply_to_id);
		CREATE INDEX IF NOT EXISTS idx_statuses_created_at ON statuses(created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_statuses_reblog ON statuses(account_id, reblog_of_id) WHERE reblog_of_id IS NOT NULL;
	`

	sqlCreateStatusEditsTable = `CREATE TABLE IF NOT EXISTS status_edits (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		text TEXT,
		spoiler_text TEXT,
		sensitive INTEGER DEFAULT 0,
		media_attachment_ids TEXT,
		poll_options TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStatusEditsIndices = `
		CREATE INDEX IF NOT EXISTS idx_status_edits_status ON status_edits(status_id, created_at);
	`

	sqlCreateTombstonesTable = `CREATE TABLE IF NOT EXISTS tombstones (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT NOT NULL,
		account_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(uri, account_id)
	)`

	sqlCreateMentionsTable = `CREATE TABLE IF NOT EXISTS mentions (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		silent INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(status_id, account_id)
	)`

	sqlCreateTagsTable = `CREATE TABLE IF NOT EXISTS tags (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStatusTagsTable = `CREATE TABLE IF NOT EXISTS status_tags (
		status_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY(status_id, tag_id)
	)`

	sqlCreateCustomEmojisTable = `CREATE TABLE IF NOT EXISTS custom_emojis (
		id TEXT NOT NULL PRIMARY KEY,
		shortcode TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		uri TEXT,
		image_remote_url TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(shortcode, domain)
	)`

	sqlCreateMediaAttachmentsTable = `CREATE TABLE IF NOT EXISTS media_attachments (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		remote_url TEXT NOT NULL,
		type TEXT,
		description TEXT,
		blurhash TEXT,
		downloaded INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		options TEXT NOT NULL,
		cached_tallies TEXT NOT NULL,
		multiple INTEGER DEFAULT 0,
		expires_at TIMESTAMP,
		voters_count INTEGER DEFAULT 0,
		lock_version INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePollVotesTable = `CREATE TABLE IF NOT EXISTS poll_votes (
		id TEXT NOT NULL PRIMARY KEY,
		poll_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(poll_id, account_id, choice)
	)`

	sqlCreateFavouritesTable = `CREATE TABLE IF NOT EXISTS favourites (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, status_id)
	)`

	sqlCreateEmojiReactionsTable = `CREATE TABLE IF NOT EXISTS emoji_reactions (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		name TEXT NOT NULL,
		custom_emoji_id TEXT,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, status_id, name)
	)`

	sqlCreateQuotesTable = `CREATE TABLE IF NOT EXISTS quotes (
		id TEXT NOT NULL PRIMARY KEY,
		status_id TEXT,
		quoted_status_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		quoted_account_id TEXT NOT NULL,
		activity_uri TEXT,
		approval_uri TEXT,
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateQuotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_quotes_activity_uri ON quotes(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_quotes_status_id ON quotes(status_id);
	`

	sqlCreateGroupActorsTable = `CREATE TABLE IF NOT EXISTS group_actors (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT,
		locked INTEGER DEFAULT 0,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateGroupMembershipsTable = `CREATE TABLE IF NOT EXISTS group_memberships (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		uri TEXT,
		state TEXT NOT NULL DEFAULT 'requested',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, group_id)
	)`

	sqlCreateRelaysTable = `CREATE TABLE IF NOT EXISTS relays (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT UNIQUE NOT NULL,
		follow_activity_id TEXT,
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateReportsTable = `CREATE TABLE IF NOT EXISTS reports (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		status_ids TEXT,
		comment TEXT,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDevicesTable = `CREATE TABLE IF NOT EXISTS devices (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		name TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, device_id)
	)`

	sqlCreateEncryptedMessagesTable = `CREATE TABLE IF NOT EXISTS encrypted_messages (
		id TEXT NOT NULL PRIMARY KEY,
		device_id TEXT NOT NULL,
		from_account_id TEXT NOT NULL,
		from_device_id TEXT,
		type INTEGER,
		body TEXT,
		digest TEXT,
		message_franking TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStatusPinsTable = `CREATE TABLE IF NOT EXISTS status_pins (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, status_id)
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		from_account_id TEXT NOT NULL,
		status_id TEXT,
		read INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_account_id ON notifications(account_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_processed ON activities(processed);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreateFeedEntriesTable = `CREATE TABLE IF NOT EXISTS feed_entries (
		account_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(account_id, status_id)
	)`

	sqlCreateStatusTrendsTable = `CREATE TABLE IF NOT EXISTS status_trends (
		status_id TEXT NOT NULL PRIMARY KEY,
		score INTEGER DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
)

type tableDef struct {
	name    string
	create  string
	indices string
}

var schema = []tableDef{
	{"accounts", sqlCreateAccountsTable, sqlCreateAccountsIndices},
	{"domain_blocks", sqlCreateDomainBlocksTable, ""},
	{"follows", sqlCreateFollowsTable, sqlCreateFollowsIndices},
	{"blocks", sqlCreateBlocksTable, ""},
	{"statuses", sqlCreateStatusesTable, sqlCreateStatusesIndices},
	{"status_edits", sqlCreateStatusEditsTable, sqlCreateStatusEditsIndices},
	{"tombstones", sqlCreateTombstonesTable, ""},
	{"mentions", sqlCreateMentionsTable, ""},
	{"tags", sqlCreateTagsTable, ""},
	{"status_tags", sqlCreateStatusTagsTable, ""},
	{"custom_emojis", sqlCreateCustomEmojisTable, ""},
	{"media_attachments", sqlCreateMediaAttachmentsTable, ""},
	{"polls", sqlCreatePollsTable, ""},
	{"poll_votes", sqlCreatePollVotesTable, ""},
	{"favourites", sqlCreateFavouritesTable, ""},
	{"emoji_reactions", sqlCreateEmojiReactionsTable, ""},
	{"quotes", sqlCreateQuotesTable, sqlCreateQuotesIndices},
	{"group_actors", sqlCreateGroupActorsTable, ""},
	{"group_memberships", sqlCreateGroupMembershipsTable, ""},
	{"relays", sqlCreateRelaysTable, ""},
	{"reports", sqlCreateReportsTable, ""},
	{"devices", sqlCreateDevicesTable, ""},
	{"encrypted_messages", sqlCreateEncryptedMessagesTable, ""},
	{"status_pins", sqlCreateStatusPinsTable, ""},
	{"notifications", sqlCreateNotificationsTable, sqlCreateNotificationsIndices},
	{"activities", sqlCreateActivitiesTable, sqlCreateActivitiesIndices},
	{"delivery_queue", sqlCreateDeliveryQueueTable, sqlCreateDeliveryQueueIndices},
	{"feed_entries", sqlCreateFeedEntriesTable, ""},
	{"status_trends", sqlCreateStatusTrendsTable, ""},
}

// RunMigrations creates every table and index that does not exist yet
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, table := range schema {
			if err := db.createTableIfNotExists(tx, table.create, table.name); err != nil {
				return err
			}
		}

		for _, table := range schema {
			if table.indices == "" {
				continue
			}
			if _, err := tx.Exec(table.indices); err != nil {
				log.Printf("Warning: Failed to create %s indices: %v", table.name, err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}

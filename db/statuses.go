package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// Statuses
const (
	sqlStatusColumns = `id, uri, url, account_id, text, spoiler_text, language, sensitive, visibility,
		in_reply_to_id, in_reply_to_uri, in_reply_to_account_id, reblog_of_id, poll_id, group_id,
		approval_status, quote_id, local, created_at, edited_at`
	sqlInsertStatus = `INSERT INTO statuses(id, uri, url, account_id, text, spoiler_text, language, sensitive, visibility,
		in_reply_to_id, in_reply_to_uri, in_reply_to_account_id, reblog_of_id, poll_id, group_id,
		approval_status, quote_id, local, created_at, edited_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateStatus = `UPDATE statuses SET text = ?, spoiler_text = ?, sensitive = ?, visibility = ?,
		in_reply_to_id = ?, in_reply_to_account_id = ?, poll_id = ?, approval_status = ?, quote_id = ?, edited_at = ? WHERE id = ?`
	sqlSelectStatusById  = `SELECT ` + sqlStatusColumns + ` FROM statuses WHERE id = ?`
	sqlSelectStatusByURI = `SELECT ` + sqlStatusColumns + ` FROM statuses WHERE uri = ?`
	sqlSelectReblog      = `SELECT ` + sqlStatusColumns + ` FROM statuses WHERE account_id = ? AND reblog_of_id = ?`
)

// Rows removed together with a status
var statusCascade = []string{
	`DELETE FROM mentions WHERE status_id = ?`,
	`DELETE FROM status_edits WHERE status_id = ?`,
	`DELETE FROM status_tags WHERE status_id = ?`,
	`DELETE FROM media_attachments WHERE status_id = ?`,
	`DELETE FROM poll_votes WHERE poll_id IN (SELECT id FROM polls WHERE status_id = ?)`,
	`DELETE FROM polls WHERE status_id = ?`,
	`DELETE FROM favourites WHERE status_id = ?`,
	`DELETE FROM emoji_reactions WHERE status_id = ?`,
	`DELETE FROM status_pins WHERE status_id = ?`,
	`DELETE FROM quotes WHERE status_id = ?`,
	`DELETE FROM feed_entries WHERE status_id = ?`,
	`DELETE FROM status_trends WHERE status_id = ?`,
	`DELETE FROM notifications WHERE status_id = ?`,
	`DELETE FROM feed_entries WHERE status_id IN (SELECT id FROM statuses WHERE reblog_of_id = ?)`,
	`DELETE FROM statuses WHERE reblog_of_id = ?`,
	`DELETE FROM statuses WHERE id = ?`,
}

func scanStatus(row scanner) (*domain.Status, error) {
	var s domain.Status
	var idStr, accountIdStr, visibility string
	var url, text, spoiler, language, replyURI, approval sql.NullString
	var replyId, replyAccountId, reblogId, pollId, groupId, quoteId sql.NullString
	var createdAt, editedAt sql.NullTime
	err := row.Scan(&idStr, &s.URI, &url, &accountIdStr, &text, &spoiler, &language, &s.Sensitive, &visibility,
		&replyId, &replyURI, &replyAccountId, &reblogId, &pollId, &groupId,
		&approval, &quoteId, &s.Local, &createdAt, &editedAt)
	if err != nil {
		return nil, err
	}
	s.Id, _ = uuid.Parse(idStr)
	s.AccountId, _ = uuid.Parse(accountIdStr)
	s.URL = url.String
	s.Text = text.String
	s.SpoilerText = spoiler.String
	s.Language = language.String
	s.Visibility = domain.Visibility(visibility)
	s.InReplyToId = parseNullUUID(replyId)
	s.InReplyToURI = replyURI.String
	s.InReplyToAccountId = parseNullUUID(replyAccountId)
	s.ReblogOfId = parseNullUUID(reblogId)
	s.PollId = parseNullUUID(pollId)
	s.GroupId = parseNullUUID(groupId)
	s.ApprovalStatus = approval.String
	s.QuoteId = parseNullUUID(quoteId)
	s.CreatedAt = createdAt.Time
	s.EditedAt = parseNullTime(editedAt)
	return &s, nil
}

func (db *DB) CreateStatus(s *domain.Status) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertStatus,
		s.Id.String(), s.URI, s.URL, s.AccountId.String(), s.Text, s.SpoilerText, s.Language, s.Sensitive, string(s.Visibility),
		nullUUID(s.InReplyToId), s.InReplyToURI, nullUUID(s.InReplyToAccountId), nullUUID(s.ReblogOfId),
		nullUUID(s.PollId), nullUUID(s.GroupId), s.ApprovalStatus, nullUUID(s.QuoteId), s.Local,
		s.CreatedAt.UTC(), nullTime(s.EditedAt),
	)
}

func (db *DB) UpdateStatus(s *domain.Status) error {
	return db.exec(sqlUpdateStatus,
		s.Text, s.SpoilerText, s.Sensitive, string(s.Visibility),
		nullUUID(s.InReplyToId), nullUUID(s.InReplyToAccountId), nullUUID(s.PollId), s.ApprovalStatus, nullUUID(s.QuoteId),
		nullTime(s.EditedAt), s.Id.String(),
	)
}

func (db *DB) ReadStatusById(id uuid.UUID) (*domain.Status, error) {
	return noRows(scanStatus(db.q().QueryRow(sqlSelectStatusById, id.String())))
}

func (db *DB) ReadStatusByURI(uri string) (*domain.Status, error) {
	return noRows(scanStatus(db.q().QueryRow(sqlSelectStatusByURI, uri)))
}

// ReadReblog returns the reblog of statusId by accountId, if any
func (db *DB) ReadReblog(accountId, statusId uuid.UUID) (*domain.Status, error) {
	return noRows(scanStatus(db.q().QueryRow(sqlSelectReblog, accountId.String(), statusId.String())))
}

// DeleteStatus removes a status with its reblogs and every dependent row
func (db *DB) DeleteStatus(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range statusCascade {
			if _, err := tx.Exec(stmt, id.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Edit history
const (
	sqlInsertStatusEdit = `INSERT INTO status_edits(id, status_id, account_id, text, spoiler_text, sensitive, media_attachment_ids, poll_options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectStatusEdits = `SELECT id, status_id, account_id, text, spoiler_text, sensitive, media_attachment_ids, poll_options, created_at
		FROM status_edits WHERE status_id = ? ORDER BY created_at ASC`
)

func (db *DB) CreateStatusEdit(e *domain.StatusEdit) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var pollOptions any
	if e.PollOptions != nil {
		pollOptions = marshalList(e.PollOptions)
	}
	return db.insert(sqlInsertStatusEdit, e.Id.String(), e.StatusId.String(), e.AccountId.String(), e.Text, e.SpoilerText,
		e.Sensitive, marshalList(e.MediaAttachmentIds), pollOptions, e.CreatedAt.UTC())
}

// ReadStatusEdits returns the revisions of a status, oldest first
func (db *DB) ReadStatusEdits(statusId uuid.UUID) ([]domain.StatusEdit, error) {
	rows, err := db.q().Query(sqlSelectStatusEdits, statusId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edits []domain.StatusEdit
	for rows.Next() {
		var e domain.StatusEdit
		var idStr, statusIdStr, accountIdStr string
		var text, spoiler, mediaIds, pollOptions sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&idStr, &statusIdStr, &accountIdStr, &text, &spoiler, &e.Sensitive, &mediaIds, &pollOptions, &createdAt); err != nil {
			return edits, err
		}
		e.Id, _ = uuid.Parse(idStr)
		e.StatusId, _ = uuid.Parse(statusIdStr)
		e.AccountId, _ = uuid.Parse(accountIdStr)
		e.Text = text.String
		e.SpoilerText = spoiler.String
		e.MediaAttachmentIds = unmarshalList[uuid.UUID](mediaIds)
		if pollOptions.Valid {
			e.PollOptions = unmarshalList[string](pollOptions)
		}
		e.CreatedAt = createdAt.Time
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// Tombstones
const (
	sqlInsertTombstone = `INSERT INTO tombstones(id, uri, account_id, created_at) VALUES (?, ?, ?, ?)`
	sqlCountTombstone  = `SELECT COUNT(*) FROM tombstones WHERE uri = ?`
)

func (db *DB) CreateTombstone(t *domain.Tombstone) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertTombstone, t.Id.String(), t.URI, t.AccountId.String(), t.CreatedAt.UTC())
}

func (db *DB) TombstoneExists(uri string) (bool, error) {
	var count int
	err := db.q().QueryRow(sqlCountTombstone, uri).Scan(&count)
	return count > 0, err
}

// Mentions and tags
const (
	sqlInsertMention  = `INSERT INTO mentions(id, status_id, account_id, silent, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectMentions = `SELECT id, status_id, account_id, silent, created_at FROM mentions WHERE status_id = ?`
	sqlUpdateMention  = `UPDATE mentions SET silent = ? WHERE id = ?`
	sqlInsertTag      = `INSERT INTO tags(id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`
	sqlSelectTag      = `SELECT id, name, created_at FROM tags WHERE name = ?`
	sqlLinkStatusTag  = `INSERT INTO status_tags(status_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlUnlinkTags     = `DELETE FROM status_tags WHERE status_id = ?`
	sqlSelectTagNames = `SELECT t.name FROM tags t JOIN status_tags st ON st.tag_id = t.id WHERE st.status_id = ? ORDER BY t.name`
)

func (db *DB) CreateMention(m *domain.Mention) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertMention, m.Id.String(), m.StatusId.String(), m.AccountId.String(), m.Silent, m.CreatedAt.UTC())
}

// UpdateMention switches a mention between explicit and silent
func (db *DB) UpdateMention(m *domain.Mention) error {
	return db.exec(sqlUpdateMention, m.Silent, m.Id.String())
}

func (db *DB) ReadMentions(statusId uuid.UUID) ([]domain.Mention, error) {
	rows, err := db.q().Query(sqlSelectMentions, statusId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var idStr, statusIdStr, accountIdStr string
		var createdAt sql.NullTime
		if err := rows.Scan(&idStr, &statusIdStr, &accountIdStr, &m.Silent, &createdAt); err != nil {
			return mentions, err
		}
		m.Id, _ = uuid.Parse(idStr)
		m.StatusId, _ = uuid.Parse(statusIdStr)
		m.AccountId, _ = uuid.Parse(accountIdStr)
		m.CreatedAt = createdAt.Time
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// FindOrCreateTag returns the tag with the normalized name, inserting it when missing
func (db *DB) FindOrCreateTag(name string) (*domain.Tag, error) {
	name = strings.ToLower(name)
	if err := db.exec(sqlInsertTag, uuid.New().String(), name, time.Now().UTC()); err != nil {
		return nil, err
	}
	var tag domain.Tag
	var idStr string
	var createdAt sql.NullTime
	if err := db.q().QueryRow(sqlSelectTag, name).Scan(&idStr, &tag.Name, &createdAt); err != nil {
		return nil, err
	}
	tag.Id, _ = uuid.Parse(idStr)
	tag.CreatedAt = createdAt.Time
	return &tag, nil
}

func (db *DB) LinkStatusTag(statusId, tagId uuid.UUID) error {
	return db.exec(sqlLinkStatusTag, statusId.String(), tagId.String())
}

// UnlinkStatusTags detaches every hashtag from a status
func (db *DB) UnlinkStatusTags(statusId uuid.UUID) error {
	return db.exec(sqlUnlinkTags, statusId.String())
}

// ReadStatusTagNames returns the hashtags of a status in name order
func (db *DB) ReadStatusTagNames(statusId uuid.UUID) ([]string, error) {
	rows, err := db.q().Query(sqlSelectTagNames, statusId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Custom emojis
const (
	sqlSelectCustomEmoji = `SELECT id, shortcode, domain, uri, image_remote_url, updated_at FROM custom_emojis WHERE shortcode = ? AND domain = ?`
	sqlUpsertCustomEmoji = `INSERT INTO custom_emojis(id, shortcode, domain, uri, image_remote_url, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shortcode, domain) DO UPDATE SET uri = excluded.uri, image_remote_url = excluded.image_remote_url, updated_at = excluded.updated_at`
)

func (db *DB) ReadCustomEmoji(shortcode, host string) (*domain.CustomEmoji, error) {
	var e domain.CustomEmoji
	var idStr string
	var uri, image sql.NullString
	var updatedAt sql.NullTime
	err := db.q().QueryRow(sqlSelectCustomEmoji, shortcode, host).Scan(&idStr, &e.Shortcode, &e.Domain, &uri, &image, &updatedAt)
	if err != nil {
		return noRows(&e, err)
	}
	e.Id, _ = uuid.Parse(idStr)
	e.URI = uri.String
	e.ImageRemoteURL = image.String
	e.UpdatedAt = updatedAt.Time
	return &e, nil
}

// SaveCustomEmoji inserts the emoji or refreshes the stored copy
func (db *DB) SaveCustomEmoji(e *domain.CustomEmoji) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	return db.exec(sqlUpsertCustomEmoji, e.Id.String(), e.Shortcode, e.Domain, e.URI, e.ImageRemoteURL, e.UpdatedAt.UTC())
}

// Media attachments
const (
	sqlInsertMedia     = `INSERT INTO media_attachments(id, status_id, account_id, remote_url, type, description, blurhash, downloaded, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateMedia     = `UPDATE media_attachments SET downloaded = ?, description = ?, blurhash = ? WHERE id = ?`
	sqlMediaColumns    = `id, status_id, account_id, remote_url, type, description, blurhash, downloaded, created_at`
	sqlSelectMediaById = `SELECT ` + sqlMediaColumns + ` FROM media_attachments WHERE id = ?`
	sqlSelectMedia     = `SELECT ` + sqlMediaColumns + ` FROM media_attachments WHERE status_id = ? ORDER BY created_at ASC, id ASC`
	sqlDeleteMedia     = `DELETE FROM media_attachments WHERE id = ?`
)

func (db *DB) CreateMediaAttachment(m *domain.MediaAttachment) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertMedia, m.Id.String(), m.StatusId.String(), m.AccountId.String(), m.RemoteURL,
		m.Type, m.Description, m.Blurhash, m.Downloaded, m.CreatedAt.UTC())
}

func (db *DB) UpdateMediaAttachment(m *domain.MediaAttachment) error {
	return db.exec(sqlUpdateMedia, m.Downloaded, m.Description, m.Blurhash, m.Id.String())
}

func scanMedia(row scanner) (*domain.MediaAttachment, error) {
	var m domain.MediaAttachment
	var idStr, statusIdStr, accountIdStr string
	var mediaType, description, blurhash sql.NullString
	var createdAt sql.NullTime
	err := row.Scan(&idStr, &statusIdStr, &accountIdStr, &m.RemoteURL, &mediaType, &description, &blurhash, &m.Downloaded, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Id, _ = uuid.Parse(idStr)
	m.StatusId, _ = uuid.Parse(statusIdStr)
	m.AccountId, _ = uuid.Parse(accountIdStr)
	m.Type = mediaType.String
	m.Description = description.String
	m.Blurhash = blurhash.String
	m.CreatedAt = createdAt.Time
	return &m, nil
}

func (db *DB) ReadMediaAttachmentById(id uuid.UUID) (*domain.MediaAttachment, error) {
	return noRows(scanMedia(db.q().QueryRow(sqlSelectMediaById, id.String())))
}

// ReadMediaAttachments returns the attachments of a status in display order
func (db *DB) ReadMediaAttachments(statusId uuid.UUID) ([]domain.MediaAttachment, error) {
	rows, err := db.q().Query(sqlSelectMedia, statusId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []domain.MediaAttachment
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return media, err
		}
		media = append(media, *m)
	}
	return media, rows.Err()
}

func (db *DB) DeleteMediaAttachment(id uuid.UUID) error {
	return db.exec(sqlDeleteMedia, id.String())
}

// Polls
const (
	sqlInsertPoll = `INSERT INTO polls(id, status_id, account_id, options, cached_tallies, multiple, expires_at, voters_count, lock_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPollById = `SELECT id, status_id, account_id, options, cached_tallies, multiple, expires_at, voters_count, lock_version, created_at FROM polls WHERE id = ?`
	// Compare-and-swap on lock_version
	sqlUpdatePollCounters = `UPDATE polls SET cached_tallies = ?, voters_count = ?, expires_at = ?, lock_version = lock_version + 1
		WHERE id = ? AND lock_version = ?`
	sqlInsertPollVote  = `INSERT INTO poll_votes(id, poll_id, account_id, choice, uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlCountPollVotes  = `SELECT COUNT(*) FROM poll_votes WHERE poll_id = ? AND account_id = ?`
	sqlDeletePollVotes = `DELETE FROM poll_votes WHERE poll_id = ?`
	sqlDeletePoll      = `DELETE FROM polls WHERE id = ?`
)

func (db *DB) CreatePoll(p *domain.Poll) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertPoll, p.Id.String(), p.StatusId.String(), p.AccountId.String(),
		marshalList(p.Options), marshalList(p.CachedTallies), p.Multiple, nullTime(p.ExpiresAt),
		p.VotersCount, p.LockVersion, p.CreatedAt.UTC())
}

func (db *DB) ReadPollById(id uuid.UUID) (*domain.Poll, error) {
	var p domain.Poll
	var idStr, statusIdStr, accountIdStr string
	var options, tallies sql.NullString
	var expiresAt, createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectPollById, id.String()).
		Scan(&idStr, &statusIdStr, &accountIdStr, &options, &tallies, &p.Multiple, &expiresAt, &p.VotersCount, &p.LockVersion, &createdAt)
	if err != nil {
		return noRows(&p, err)
	}
	p.Id, _ = uuid.Parse(idStr)
	p.StatusId, _ = uuid.Parse(statusIdStr)
	p.AccountId, _ = uuid.Parse(accountIdStr)
	p.Options = unmarshalList[string](options)
	p.CachedTallies = unmarshalList[int](tallies)
	p.ExpiresAt = parseNullTime(expiresAt)
	p.CreatedAt = createdAt.Time
	return &p, nil
}

// UpdatePollCounters writes tallies and voter count if nobody else updated the
// poll since it was read. Returns domain.ErrStaleObject when the swap loses.
func (db *DB) UpdatePollCounters(p *domain.Poll) error {
	res, err := db.q().Exec(sqlUpdatePollCounters, marshalList(p.CachedTallies), p.VotersCount, nullTime(p.ExpiresAt), p.Id.String(), p.LockVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStaleObject
	}
	p.LockVersion++
	return nil
}

// DeletePoll removes a poll together with its votes
func (db *DB) DeletePoll(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeletePollVotes, id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeletePoll, id.String())
		return err
	})
}

func (db *DB) CreatePollVote(v *domain.PollVote) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertPollVote, v.Id.String(), v.PollId.String(), v.AccountId.String(), v.Choice, v.URI, v.CreatedAt.UTC())
}

func (db *DB) HasPollVote(pollId, accountId uuid.UUID) (bool, error) {
	var count int
	err := db.q().QueryRow(sqlCountPollVotes, pollId.String(), accountId.String()).Scan(&count)
	return count > 0, err
}

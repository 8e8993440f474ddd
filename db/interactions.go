package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/google/uuid"
)

// Favourites and emoji reactions
const (
	sqlInsertFavourite     = `INSERT INTO favourites(id, account_id, status_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteFavourite     = `DELETE FROM favourites WHERE id = ?`
	sqlSelectFavourite     = `SELECT id, account_id, status_id, uri, created_at FROM favourites WHERE account_id = ? AND status_id = ?`
	sqlInsertEmojiReaction = `INSERT INTO emoji_reactions(id, account_id, status_id, name, custom_emoji_id, uri, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlDeleteEmojiReaction = `DELETE FROM emoji_reactions WHERE id = ?`
	sqlSelectEmojiReaction = `SELECT id, account_id, status_id, name, custom_emoji_id, uri, created_at FROM emoji_reactions WHERE account_id = ? AND status_id = ? AND name = ?`
)

func (db *DB) CreateFavourite(f *domain.Favourite) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertFavourite, f.Id.String(), f.AccountId.String(), f.StatusId.String(), f.URI, f.CreatedAt.UTC())
}

func (db *DB) DeleteFavourite(id uuid.UUID) error {
	return db.exec(sqlDeleteFavourite, id.String())
}

func (db *DB) ReadFavourite(accountId, statusId uuid.UUID) (*domain.Favourite, error) {
	var f domain.Favourite
	var idStr, accountIdStr, statusIdStr string
	var uri sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectFavourite, accountId.String(), statusId.String()).
		Scan(&idStr, &accountIdStr, &statusIdStr, &uri, &createdAt)
	if err != nil {
		return noRows(&f, err)
	}
	f.Id, _ = uuid.Parse(idStr)
	f.AccountId, _ = uuid.Parse(accountIdStr)
	f.StatusId, _ = uuid.Parse(statusIdStr)
	f.URI = uri.String
	f.CreatedAt = createdAt.Time
	return &f, nil
}

func (db *DB) CreateEmojiReaction(r *domain.EmojiReaction) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertEmojiReaction, r.Id.String(), r.AccountId.String(), r.StatusId.String(), r.Name,
		nullUUID(r.CustomEmojiId), r.URI, r.CreatedAt.UTC())
}

func (db *DB) DeleteEmojiReaction(id uuid.UUID) error {
	return db.exec(sqlDeleteEmojiReaction, id.String())
}

func (db *DB) ReadEmojiReaction(accountId, statusId uuid.UUID, name string) (*domain.EmojiReaction, error) {
	var r domain.EmojiReaction
	var idStr, accountIdStr, statusIdStr string
	var emojiId, uri sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectEmojiReaction, accountId.String(), statusId.String(), name).
		Scan(&idStr, &accountIdStr, &statusIdStr, &r.Name, &emojiId, &uri, &createdAt)
	if err != nil {
		return noRows(&r, err)
	}
	r.Id, _ = uuid.Parse(idStr)
	r.AccountId, _ = uuid.Parse(accountIdStr)
	r.StatusId, _ = uuid.Parse(statusIdStr)
	r.CustomEmojiId = parseNullUUID(emojiId)
	r.URI = uri.String
	r.CreatedAt = createdAt.Time
	return &r, nil
}

// Quotes
const (
	sqlQuoteColumns             = `id, status_id, quoted_status_id, account_id, quoted_account_id, activity_uri, approval_uri, state, created_at, updated_at`
	sqlInsertQuote              = `INSERT INTO quotes(id, status_id, quoted_status_id, account_id, quoted_account_id, activity_uri, approval_uri, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateQuote              = `UPDATE quotes SET status_id = ?, activity_uri = ?, approval_uri = ?, state = ?, updated_at = ? WHERE id = ?`
	sqlSelectQuoteById          = `SELECT ` + sqlQuoteColumns + ` FROM quotes WHERE id = ?`
	sqlSelectQuoteByActivityURI = `SELECT ` + sqlQuoteColumns + ` FROM quotes WHERE activity_uri = ?`
)

func scanQuote(row scanner) (*domain.Quote, error) {
	var q domain.Quote
	var idStr, quotedStatusIdStr, accountIdStr, quotedAccountIdStr, state string
	var statusId, activityURI, approvalURI sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&idStr, &statusId, &quotedStatusIdStr, &accountIdStr, &quotedAccountIdStr, &activityURI, &approvalURI, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	q.Id, _ = uuid.Parse(idStr)
	q.StatusId = parseNullUUID(statusId)
	q.QuotedStatusId, _ = uuid.Parse(quotedStatusIdStr)
	q.AccountId, _ = uuid.Parse(accountIdStr)
	q.QuotedAccountId, _ = uuid.Parse(quotedAccountIdStr)
	q.ActivityURI = activityURI.String
	q.ApprovalURI = approvalURI.String
	q.State = domain.QuoteState(state)
	q.CreatedAt = createdAt.Time
	q.UpdatedAt = updatedAt.Time
	return &q, nil
}

func (db *DB) CreateQuote(q *domain.Quote) error {
	now := time.Now()
	q.CreatedAt, q.UpdatedAt = now, now
	return db.insert(sqlInsertQuote, q.Id.String(), nullUUID(q.StatusId), q.QuotedStatusId.String(), q.AccountId.String(),
		q.QuotedAccountId.String(), q.ActivityURI, q.ApprovalURI, string(q.State), now.UTC(), now.UTC())
}

func (db *DB) UpdateQuote(q *domain.Quote) error {
	q.UpdatedAt = time.Now()
	return db.exec(sqlUpdateQuote, nullUUID(q.StatusId), q.ActivityURI, q.ApprovalURI, string(q.State), q.UpdatedAt.UTC(), q.Id.String())
}

func (db *DB) ReadQuoteById(id uuid.UUID) (*domain.Quote, error) {
	return noRows(scanQuote(db.q().QueryRow(sqlSelectQuoteById, id.String())))
}

func (db *DB) ReadQuoteByActivityURI(uri string) (*domain.Quote, error) {
	return noRows(scanQuote(db.q().QueryRow(sqlSelectQuoteByActivityURI, uri)))
}

// Pins, reports and trends
const (
	sqlInsertStatusPin  = `INSERT INTO status_pins(id, account_id, status_id, created_at) VALUES (?, ?, ?, ?)`
	sqlDeleteStatusPin  = `DELETE FROM status_pins WHERE id = ?`
	sqlSelectStatusPin  = `SELECT id, account_id, status_id, created_at FROM status_pins WHERE account_id = ? AND status_id = ?`
	sqlInsertReport     = `INSERT INTO reports(id, account_id, target_account_id, status_ids, comment, uri, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlRegisterTrend    = `INSERT INTO status_trends(status_id, score, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(status_id) DO UPDATE SET score = score + 1, updated_at = excluded.updated_at`
	sqlSelectTrendScore = `SELECT score FROM status_trends WHERE status_id = ?`
)

func (db *DB) CreateStatusPin(p *domain.StatusPin) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertStatusPin, p.Id.String(), p.AccountId.String(), p.StatusId.String(), p.CreatedAt.UTC())
}

func (db *DB) DeleteStatusPin(id uuid.UUID) error {
	return db.exec(sqlDeleteStatusPin, id.String())
}

func (db *DB) ReadStatusPin(accountId, statusId uuid.UUID) (*domain.StatusPin, error) {
	var p domain.StatusPin
	var idStr, accountIdStr, statusIdStr string
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectStatusPin, accountId.String(), statusId.String()).Scan(&idStr, &accountIdStr, &statusIdStr, &createdAt)
	if err != nil {
		return noRows(&p, err)
	}
	p.Id, _ = uuid.Parse(idStr)
	p.AccountId, _ = uuid.Parse(accountIdStr)
	p.StatusId, _ = uuid.Parse(statusIdStr)
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func (db *DB) CreateReport(r *domain.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	statusIds := make([]string, 0, len(r.StatusIds))
	for _, id := range r.StatusIds {
		statusIds = append(statusIds, id.String())
	}
	return db.insert(sqlInsertReport, r.Id.String(), r.AccountId.String(), r.TargetAccountId.String(),
		marshalList(statusIds), r.Comment, r.URI, r.CreatedAt.UTC())
}

// RegisterTrend bumps the interaction score of a status
func (db *DB) RegisterTrend(statusId uuid.UUID) error {
	return db.exec(sqlRegisterTrend, statusId.String(), time.Now().UTC())
}

func (db *DB) ReadTrendScore(statusId uuid.UUID) (int, error) {
	var score int
	err := db.q().QueryRow(sqlSelectTrendScore, statusId.String()).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return score, err
}

// Feeds and notifications
const (
	sqlInsertFeedEntry     = `INSERT INTO feed_entries(account_id, status_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlCountFeedEntries    = `SELECT COUNT(*) FROM feed_entries WHERE account_id = ?`
	sqlInsertNotification  = `INSERT INTO notifications(id, account_id, notification_type, from_account_id, status_id, read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT id, account_id, notification_type, from_account_id, status_id, read, created_at
		FROM notifications WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
)

// InsertFeedEntries adds statusId to the home feed of every account
func (db *DB) InsertFeedEntries(statusId uuid.UUID, accountIds []uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, accountId := range accountIds {
			if _, err := tx.Exec(sqlInsertFeedEntry, accountId.String(), statusId.String(), now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) CountFeedEntries(accountId uuid.UUID) (int, error) {
	var count int
	err := db.q().QueryRow(sqlCountFeedEntries, accountId.String()).Scan(&count)
	return count, err
}

func (db *DB) CreateNotification(n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertNotification, n.Id.String(), n.AccountId.String(), string(n.NotificationType),
		n.FromAccountId.String(), nullUUID(n.StatusId), n.Read, n.CreatedAt.UTC())
}

func (db *DB) ReadNotificationsByAccountId(accountId uuid.UUID, limit int) ([]domain.Notification, error) {
	rows, err := db.q().Query(sqlSelectNotifications, accountId.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var idStr, accountIdStr, notificationType, fromIdStr string
		var statusId sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&idStr, &accountIdStr, &notificationType, &fromIdStr, &statusId, &n.Read, &createdAt); err != nil {
			return notifications, err
		}
		n.Id, _ = uuid.Parse(idStr)
		n.AccountId, _ = uuid.Parse(accountIdStr)
		n.NotificationType = domain.NotificationType(notificationType)
		n.FromAccountId, _ = uuid.Parse(fromIdStr)
		n.StatusId = parseNullUUID(statusId)
		n.CreatedAt = createdAt.Time
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// Activities log
const (
	sqlInsertActivity      = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity      = `UPDATE activities SET processed = ? WHERE id = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at FROM activities WHERE activity_uri = ?`
)

func (db *DB) CreateActivity(a *domain.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return db.insert(sqlInsertActivity, a.Id.String(), a.ActivityURI, a.ActivityType, a.ActorURI, a.ObjectURI, a.RawJSON, a.Processed, a.CreatedAt.UTC())
}

func (db *DB) UpdateActivity(a *domain.Activity) error {
	return db.exec(sqlUpdateActivity, a.Processed, a.Id.String())
}

func (db *DB) ReadActivityByURI(uri string) (*domain.Activity, error) {
	var a domain.Activity
	var idStr string
	var objectURI sql.NullString
	var createdAt sql.NullTime
	err := db.q().QueryRow(sqlSelectActivityByURI, uri).
		Scan(&idStr, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &objectURI, &a.RawJSON, &a.Processed, &createdAt)
	if err != nil {
		return noRows(&a, err)
	}
	a.Id, _ = uuid.Parse(idStr)
	a.ObjectURI = objectURI.String
	a.CreatedAt = createdAt.Time
	return &a, nil
}

// Delivery queue
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, account_id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, account_id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = item.CreatedAt
	}
	return db.insert(sqlInsertDeliveryQueue,
		item.Id.String(),
		item.AccountId.String(),
		item.InboxURI,
		item.ActivityJSON,
		item.Attempts,
		item.NextRetryAt.UTC(),
		item.CreatedAt.UTC(),
	)
}

func (db *DB) ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.q().Query(sqlSelectPendingDeliveries, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, accountIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return items, err
		}
		item.Id, _ = uuid.Parse(idStr)
		item.AccountId, _ = uuid.Parse(accountIdStr)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.exec(sqlUpdateDeliveryAttempt, attempts, nextRetry.UTC(), id.String())
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.exec(sqlDeleteDelivery, id.String())
}

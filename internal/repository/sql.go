package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/database"
	"github.com/nikhil/eavenchat/internal/models"
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	DB      *sql.DB
	Dialect database.Dialect
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{DB: db, Dialect: dialect}
}

var _ Store = (*SQLStore)(nil)

const messageColumns = `id, channel_kind, scope_id, peer_id, sub_channel, author_id, author_name, author_role,
	author_avatar, body, message_kind, attachment_name, attachment_size, attachment_type, attachment_ref,
	attachment_url, created_at, edited, edited_at, deleted, client_ref`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		m         models.Message
		kind      string
		sub       string
		msgKind   string
		deleted   string
		att       models.Attachment
		clientRef sql.NullString
	)
	err := row.Scan(
		&m.ID, &kind, &m.Channel.ScopeID, &m.Channel.PeerID, &sub, &m.AuthorID, &m.Author.Name, &m.Author.Role,
		&m.Author.Avatar, &m.Body, &msgKind, &att.Name, &att.Size, &att.MediaType, &att.Ref,
		&att.URL, &m.CreatedAt, &m.Edited, &m.EditedAt, &deleted, &clientRef,
	)
	if err != nil {
		return models.Message{}, err
	}
	m.Channel.Kind = models.ChannelKind(kind)
	m.Channel.SubChannel = models.SubChannel(sub)
	m.Room = m.Channel.RoomName()
	m.Kind = models.MessageKind(msgKind)
	m.Deleted = models.DeleteScope(deleted)
	if att.Ref != "" {
		m.Attachment = &att
	}
	if clientRef.Valid {
		m.ClientRef = clientRef.String
	}
	return m, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func attachmentArgs(a *models.Attachment) (string, int64, string, string, string) {
	if a == nil {
		return "", 0, "", "", ""
	}
	return a.Name, a.Size, a.MediaType, a.Ref, a.URL
}

// Insert stores a new message row.
func (s *SQLStore) Insert(ctx context.Context, m models.Message) (models.Message, error) {
	name, size, mediaType, ref, url := attachmentArgs(m.Attachment)
	query := `
		INSERT INTO messages (channel_key, channel_kind, scope_id, peer_id, sub_channel, author_id, author_name,
			author_role, author_avatar, body, message_kind, attachment_name, attachment_size, attachment_type,
			attachment_ref, attachment_url, created_at, edited, edited_at, deleted, client_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.DB.ExecContext(ctx, query,
		m.Channel.Key(), string(m.Channel.Kind), m.Channel.ScopeID, m.Channel.PeerID, string(m.Channel.SubChannel),
		m.AuthorID, m.Author.Name, m.Author.Role, m.Author.Avatar, m.Body, string(m.Kind),
		name, size, mediaType, ref, url, m.CreatedAt, m.Edited, m.EditedAt, string(m.Deleted), nullable(m.ClientRef),
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to get message id: %w", err)
	}
	m.ID = id
	m.Room = m.Channel.RoomName()
	return m, nil
}

// Get loads a message by id.
func (s *SQLStore) Get(ctx context.Context, id int64) (models.Message, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, chaterr.NotFound("message %d not found", id)
		}
		return models.Message{}, fmt.Errorf("failed to load message: %w", err)
	}
	return m, nil
}

// FindByClientRef looks up an earlier append carrying the same idempotency key.
func (s *SQLStore) FindByClientRef(ctx context.Context, channelKey string, authorID int64, ref string) (models.Message, bool, error) {
	if ref == "" {
		return models.Message{}, false, nil
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE channel_key = ? AND author_id = ? AND client_ref = ?`,
		channelKey, authorID, ref)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, false, nil
		}
		return models.Message{}, false, fmt.Errorf("failed to look up client ref: %w", err)
	}
	return m, true, nil
}

// List returns one page in (created_at, id) order.
func (s *SQLStore) List(ctx context.Context, q ListQuery) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_key = ?
			AND (created_at > ? OR (created_at = ? AND id > ?))
			AND NOT (deleted = 'for_author' AND author_id = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	rows, err := s.DB.QueryContext(ctx, query,
		q.ChannelKey, q.After.CreatedAt, q.After.CreatedAt, q.After.ID, q.ViewerID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// Update rewrites body, attachment, edit and delete state in a single statement.
func (s *SQLStore) Update(ctx context.Context, m models.Message) error {
	name, size, mediaType, ref, url := attachmentArgs(m.Attachment)
	query := `
		UPDATE messages SET body = ?, message_kind = ?, attachment_name = ?, attachment_size = ?,
			attachment_type = ?, attachment_ref = ?, attachment_url = ?, edited = ?, edited_at = ?, deleted = ?
		WHERE id = ?
	`
	result, err := s.DB.ExecContext(ctx, query,
		m.Body, string(m.Kind), name, size, mediaType, ref, url, m.Edited, m.EditedAt, string(m.Deleted), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify update: %w", err)
	}
	if affected == 0 {
		return chaterr.NotFound("message %d not found", m.ID)
	}
	return nil
}

// MaxID returns the newest message id of the channel, or 0.
func (s *SQLStore) MaxID(ctx context.Context, channelKey string) (int64, error) {
	var id sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM messages WHERE channel_key = ?`, channelKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read newest message id: %w", err)
	}
	return id.Int64, nil
}

// CountUnread counts badge-relevant messages after a marker.
func (s *SQLStore) CountUnread(ctx context.Context, channelKey string, afterID, userID int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM messages
		WHERE channel_key = ? AND id > ? AND author_id <> ? AND deleted <> 'for_everyone'
	`
	if err := s.DB.QueryRowContext(ctx, query, channelKey, afterID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// DirectChannels lists the direct conversations of userID.
func (s *SQLStore) DirectChannels(ctx context.Context, userID int64) ([]models.Channel, error) {
	query := `
		SELECT DISTINCT scope_id, peer_id FROM messages
		WHERE channel_kind = 'direct' AND (scope_id = ? OR peer_id = ?)
		ORDER BY scope_id, peer_id
	`
	rows, err := s.DB.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query direct channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan direct channel: %w", err)
		}
		channels = append(channels, models.DirectChannel(a, b))
	}
	return channels, rows.Err()
}

// GetMarker loads a read marker.
func (s *SQLStore) GetMarker(ctx context.Context, userID int64, channelKey string) (models.ReadMarker, bool, error) {
	marker := models.ReadMarker{UserID: userID, ChannelKey: channelKey}
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_read_id, read_at FROM read_markers WHERE user_id = ? AND channel_key = ?`,
		userID, channelKey).Scan(&marker.LastReadID, &marker.ReadAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return marker, false, nil
		}
		return marker, false, fmt.Errorf("failed to load read marker: %w", err)
	}
	return marker, true, nil
}

// AdvanceMarker upserts the marker; the dialect keeps it monotonic.
func (s *SQLStore) AdvanceMarker(ctx context.Context, marker models.ReadMarker) error {
	_, err := s.DB.ExecContext(ctx, s.Dialect.UpsertMarker,
		marker.UserID, marker.ChannelKey, marker.LastReadID, marker.ReadAt)
	if err != nil {
		return fmt.Errorf("failed to advance read marker: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	client_id  TEXT NOT NULL DEFAULT '',
	payload    TEXT,
	ts         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);
`

// SQLiteStore 关系型历史存储
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（或创建）sqlite 数据库，path 可为 ":memory:"
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 内存库每个连接各自独立，只能用单连接
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.Exec(`PRAGMA journal_mode = WAL;`)
	_, _ = db.Exec(`PRAGMA synchronous = NORMAL;`)
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)
	return db, nil
}

// Append 追加一条消息
func (ss *SQLiteStore) Append(ctx context.Context, sessionID string, msg protocol.HistoryMessage) error {
	var payload sql.NullString
	if len(msg.Payload) > 0 {
		payload = sql.NullString{String: string(msg.Payload), Valid: true}
	}
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, type, client_id, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Type), msg.ClientID, payload, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("写入历史消息失败: %w", err)
	}
	return nil
}

// LoadHistory 返回最近 limit 条消息，按写入顺序（最早的在前）
func (ss *SQLiteStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]protocol.HistoryMessage, error) {
	if limit <= 0 {
		limit = -1 // sqlite: 不限制
	}
	rows, err := ss.db.QueryContext(ctx, `
SELECT id, type, client_id, payload, ts FROM (
	SELECT seq, id, type, client_id, payload, ts FROM chat_messages
	WHERE session_id = ? ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("读取历史消息失败: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []protocol.HistoryMessage
	for rows.Next() {
		var (
			msg     protocol.HistoryMessage
			msgType string
			payload sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msgType, &msg.ClientID, &payload, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Type = protocol.MessageType(msgType)
		if payload.Valid {
			msg.Payload = []byte(payload.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close 关闭数据库
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/matt0x6f/cascade-core/internal/logger"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("storage is closed")

const insertMessage = `INSERT INTO messages (network, target, user, message, message_type, outgoing, timestamp)
          VALUES (:network, :target, :user, :message, :message_type, :outgoing, :timestamp)`

// Storage handles database operations
type Storage struct {
	db            *sqlx.DB
	writeBuffer   chan Message
	flushInterval time.Duration
	mu            sync.Mutex // serializes flushes
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool
	closedMu      sync.RWMutex
}

// NewStorage creates a new storage instance
func NewStorage(dbPath string, bufferSize int, flushInterval time.Duration) (*Storage, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection in WAL mode
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	storage := &Storage{
		db:            db,
		writeBuffer:   make(chan Message, bufferSize),
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	storage.wg.Add(1)
	go storage.flushLoop()

	return storage, nil
}

// Close stops the flush loop, writes buffered messages, and closes the database.
func (s *Storage) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return s.db.Close()
}

// flushLoop periodically flushes the write buffer
func (s *Storage) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flushBuffer()
			return
		case <-ticker.C:
			s.flushBuffer()
		}
	}
}

// flushBuffer writes all buffered messages in one batch
func (s *Storage) flushBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, 0, len(s.writeBuffer))
	for {
		select {
		case msg := <-s.writeBuffer:
			messages = append(messages, msg)
			continue
		default:
		}
		break
	}
	if len(messages) == 0 {
		return
	}

	if _, err := s.db.NamedExec(insertMessage, messages); err != nil {
		logger.Log.Error().Err(err).Int("count", len(messages)).Msg("Error flushing messages")
	}
}

// WriteMessage queues a message for batch insertion
func (s *Storage) WriteMessage(msg Message) error {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case s.writeBuffer <- msg:
		return nil
	default:
	}

	// Buffer full, flush immediately
	s.flushBuffer()
	select {
	case s.writeBuffer <- msg:
		return nil
	default:
		return fmt.Errorf("write buffer full and flush failed")
	}
}

// Flush writes buffered messages now.
func (s *Storage) Flush() {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if !s.closed {
		s.flushBuffer()
	}
}

// GetMessages returns the latest limit messages for a target, oldest first
func (s *Storage) GetMessages(network, target string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Select(&messages,
		`SELECT * FROM messages
		 WHERE network = ? AND target = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		network, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// SaveChannel records a joined channel. An existing row keeps its key unless
// a new non-empty key is given.
func (s *Storage) SaveChannel(network, name, key string) error {
	_, err := s.db.Exec(
		`INSERT INTO channels (network, name, channel_key, created_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(network, name) DO UPDATE SET
		   channel_key = CASE WHEN excluded.channel_key != '' THEN excluded.channel_key ELSE channel_key END,
		   updated_at = CURRENT_TIMESTAMP`,
		network, name, key)
	if err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

// GetChannels retrieves channels for a network
func (s *Storage) GetChannels(network string) ([]Channel, error) {
	var channels []Channel
	err := s.db.Select(&channels, "SELECT * FROM channels WHERE network = ? ORDER BY name", network)
	if err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	return channels, nil
}

// GetAutoJoinChannels retrieves channels to join after registration
func (s *Storage) GetAutoJoinChannels(network string) ([]Channel, error) {
	var channels []Channel
	err := s.db.Select(&channels,
		"SELECT * FROM channels WHERE network = ? AND auto_join = 1 ORDER BY name", network)
	if err != nil {
		return nil, fmt.Errorf("failed to get auto-join channels: %w", err)
	}
	return channels, nil
}

// GetChannelByName retrieves a channel; names compare case-insensitively
func (s *Storage) GetChannelByName(network, name string) (*Channel, error) {
	var channel Channel
	err := s.db.Get(&channel, "SELECT * FROM channels WHERE network = ? AND name = ?", network, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &channel, nil
}

// SetChannelAutoJoin updates the auto-join flag for a channel
func (s *Storage) SetChannelAutoJoin(network, name string, autoJoin bool) error {
	_, err := s.db.Exec("UPDATE channels SET auto_join = ?, updated_at = CURRENT_TIMESTAMP WHERE network = ? AND name = ?",
		autoJoin, network, name)
	return err
}

// UpdateChannelTopic updates the topic for a channel
func (s *Storage) UpdateChannelTopic(network, name, topic string) error {
	_, err := s.db.Exec("UPDATE channels SET topic = ?, updated_at = CURRENT_TIMESTAMP WHERE network = ? AND name = ?",
		topic, network, name)
	return err
}

// DeleteChannel forgets a channel
func (s *Storage) DeleteChannel(network, name string) error {
	_, err := s.db.Exec("DELETE FROM channels WHERE network = ? AND name = ?", network, name)
	return err
}

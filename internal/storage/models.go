package storage

import "time"

// Message types stored in history
const (
	MessageTypePrivmsg = "privmsg"
	MessageTypeNotice  = "notice"
	MessageTypeAction  = "action"
)

// Message represents one line of chat history. Target is the channel, or the
// other party of a private conversation.
type Message struct {
	ID          int64     `db:"id" json:"id"`
	Network     string    `db:"network" json:"network"`
	Target      string    `db:"target" json:"target"`
	User        string    `db:"user" json:"user"`
	Message     string    `db:"message" json:"message"`
	MessageType string    `db:"message_type" json:"message_type"`
	Outgoing    bool      `db:"outgoing" json:"outgoing"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// Channel represents a channel the user has joined on a network
type Channel struct {
	ID         int64      `db:"id" json:"id"`
	Network    string     `db:"network" json:"network"`
	Name       string     `db:"name" json:"name"`
	ChannelKey string     `db:"channel_key" json:"channel_key"`
	Topic      string     `db:"topic" json:"topic"`
	AutoJoin   bool       `db:"auto_join" json:"auto_join"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updated_at"`
}

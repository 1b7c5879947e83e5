package content

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Message is an inbound channel message as delivered by the message source.

type Message struct {
	MessageID int64
	ChannelID int64
	Date      time.Time
	Text      string
	File      *File
}

// File describes an attachment carried by a message. Payload may be nil when
// the source delivers metadata only; hashing is skipped in that case.
type File struct {
	FileID    int64
	Name      string
	Size      int64
	MimeType  string
	Duration  int
	Width     int
	Height    int
	Payload   []byte
}

// Extension returns the lowercased file extension without the leading dot,
// or an empty string when the file has none.
func (f *File) Extension() string {
	if f == nil {
		return ""
	}
	ext := filepath.Ext(f.Name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MessageSource fetches messages from a channel in monotonic message_id
// order, starting after the given cursor. Implemented by the external chat
// client; deployments wire a concrete source in main.
type MessageSource interface {
	Fetch(ctx context.Context, channelID int64, sinceMessageID int64, limit int) ([]Message, error)
}

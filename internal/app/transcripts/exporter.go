package transcripts

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"inquirydesk/internal/domain/inquiry"
)

var ErrNoArchive = errors.New("transcripts: archive is not configured")

const ContentType = "text/csv"

var header = []string{"timestamp", "sender", "sender_id", "message", "read"}

// Archive stores a rendered transcript and returns a download link.
type Archive interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
}

type Exporter struct {
	Archive Archive
	Logger  *slog.Logger
	Now     func() time.Time
}

// WriteCSV renders the visible messages of conv, oldest first.
func WriteCSV(w io.Writer, conv inquiry.Conversation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, msg := range conv.Messages {
		ts := ""
		if msg.Timestamp != nil {
			ts = msg.Timestamp.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{ts, msg.Sender.Label(), msg.SenderID, msg.Text, strconv.FormatBool(msg.Read)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName is the download name of a conversation transcript.
func FileName(conv inquiry.Conversation) string {
	return fmt.Sprintf("inquiry-%s.csv", conv.ID)
}

// Publish renders conv and stores it in the archive.
func (e *Exporter) Publish(ctx context.Context, conv inquiry.Conversation) (string, error) {
	if e == nil || e.Archive == nil {
		return "", ErrNoArchive
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, conv); err != nil {
		return "", err
	}
	key := fmt.Sprintf("transcripts/%s/%s", e.now().UTC().Format("2006/01/02"), FileName(conv))
	size := int64(buf.Len())
	link, err := e.Archive.Put(ctx, key, &buf, size, ContentType)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Error("transcript upload failed", "conversation_id", conv.ID, "error", err)
		}
		return "", err
	}
	return link, nil
}

func (e *Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

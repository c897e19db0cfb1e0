package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"voicechat/internal/domain"
)

// transcriptLog is append-only; entries never change after append.
type transcriptLog struct {
	entries []domain.TranscriptEntry
}

func (l *transcriptLog) append(text string, speaker domain.Speaker, isFinal bool, at time.Time) domain.TranscriptEntry {
	if speaker == "" {
		speaker = domain.SpeakerUser
	}
	entry := domain.TranscriptEntry{
		ID:        uuid.NewString(),
		Text:      text,
		Speaker:   speaker,
		IsFinal:   isFinal,
		Timestamp: at,
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *transcriptLog) snapshot() []domain.TranscriptEntry {
	return append([]domain.TranscriptEntry(nil), l.entries...)
}

func (l *transcriptLog) clear() {
	l.entries = nil
}

// text renders the final user and agent lines, one per row.
func (l *transcriptLog) text() string {
	var b strings.Builder
	for _, entry := range l.entries {
		if !entry.IsFinal {
			continue
		}
		var label string
		switch entry.Speaker {
		case domain.SpeakerUser:
			label = "You"
		case domain.SpeakerAgent:
			label = "Agent"
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(entry.Text))
	}
	return b.String()
}

// logRing keeps the most recent diagnostic lines.
type logRing struct {
	capacity int
	entries  []domain.LogEntry
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 20
	}
	return &logRing{capacity: capacity}
}

func (r *logRing) append(message string, at time.Time) domain.LogEntry {
	entry := domain.LogEntry{Timestamp: at, Message: message}
	r.entries = append(r.entries, entry)
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
	return entry
}

func (r *logRing) snapshot() []domain.LogEntry {
	return append([]domain.LogEntry(nil), r.entries...)
}

func (r *logRing) clear() {
	r.entries = nil
}

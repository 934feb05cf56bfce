package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is the payload handed to the notifier collaborator. The
// engine guarantees at most one dispatch per rule per run; delivery beyond
// that is the notifier's concern.
type Notification struct {
	Rule       string
	Recipient  string
	Subject    string
	Body       string
	RunID      uuid.UUID
	FailedStep string
}

// Notifier delivers notifications to the outside world.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogNotifier appends notifications to a log file, one line per dispatch.
type LogNotifier struct {
	Path string
	mu   sync.Mutex
}

// Dispatch implements Notifier.
func (l *LogNotifier) Dispatch(ctx context.Context, n Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Dir(l.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create notifications directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notifications log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] NOTIFY %s -> email: %s subject: %s body: %s (run %s, failed step %s)\n",
		time.Now().Format("2006-01-02 15:04:05"), n.Rule, n.Recipient, n.Subject, n.Body, n.RunID, n.FailedStep)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileNotifier appends one JSON line per delivery to a file. It serves as
// an audit trail of what each user was told.
type FileNotifier struct {
	file *os.File
	mu   sync.Mutex
}

type fileRecord struct {
	UserID string `json:"user_id"`
	Event  Event  `json:"event"`
}

// NewFileNotifier opens path for appending.
func NewFileNotifier(path string) (*FileNotifier, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification log: %w", err)
	}
	return &FileNotifier{file: file}, nil
}

func (n *FileNotifier) Notify(_ context.Context, userID string, ev Event) error {
	data, err := json.Marshal(fileRecord{UserID: userID, Event: ev})
	if err != nil {
		return err
	}
	data = append(data, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err = n.file.Write(data)
	return err
}

// Close syncs and closes the file.
func (n *FileNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_ = n.file.Sync()
	return n.file.Close()
}

// Package archive persists terminal job records. The scheduler hands records
// off and forgets; durable library storage lives elsewhere and consumes this
// file.
package archive

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"soundd/pkg/types"
)

// FileArchiver appends one JSON line per terminal job to a file.
type FileArchiver struct {
	mu   sync.Mutex
	path string
}

func NewFileArchiver(path string) *FileArchiver {
	return &FileArchiver{path: path}
}

func (a *FileArchiver) Archive(_ context.Context, snap types.JobSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileRecorder appends entries as JSON lines to a local file, one
// object per line, newest last.
type FileRecorder struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

func NewFileRecorder(path string, log *zap.Logger) *FileRecorder {
	return &FileRecorder{path: path, log: log}
}

func (r *FileRecorder) Record(_ context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("audit entry not serializable", zap.String("type", e.Type), zap.Error(err))
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.Warn("audit log open failed", zap.String("path", r.path), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		r.log.Warn("audit log write failed", zap.String("path", r.path), zap.Error(err))
	}
}

package task

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ChartConfig is the immutable chart description carried by a task.
// Width and Height use 0 as the unset sentinel (the renderer applies its
// defaults); the HTTP layer rejects an explicit zero before a config is
// built, so 0 here always means absent.
type ChartConfig struct {
	Type     string         `json:"type,omitempty"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Option   map[string]any `json:"option"`
	Base64   bool           `json:"base64,omitempty"`
	Download bool           `json:"download,omitempty"`
	OSSPath  string         `json:"ossPath,omitempty"`
}

// Task is the lifecycle record for one rendering request. The queue owns
// every record for its in-process lifetime; everything handed outside the
// queue is a copy.
type Task struct {
	ID          string      `json:"id"`
	Config      ChartConfig `json:"config"`
	State       State       `json:"state"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`

	// attempt identifies the current admission so a late result from an
	// attempt the sweep already reclaimed cannot finish a newer one.
	attempt int
}

func NewTask(cfg ChartConfig) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Config:    cfg,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}

// snapshot returns a copy safe to hand to callers and event listeners.
func (t *Task) snapshot() *Task {
	cp := *t
	if t.StartedAt != nil {
		s := *t.StartedAt
		cp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

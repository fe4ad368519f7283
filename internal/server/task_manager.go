package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an asynchronous job.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task tracks one asynchronous job, typically an index build.
type Task struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskManager runs jobs in the background and lets clients poll their state
// by id.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]*Task)}
}

// Run registers a new task, starts fn in a goroutine and returns the task id
// immediately. fn's returned error, if any, marks the task failed.
func (tm *TaskManager) Run(detail string, fn func() error) string {
	id := uuid.New().String()
	now := time.Now()
	task := &Task{
		ID:        id,
		Status:    TaskPending,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tm.mu.Lock()
	tm.tasks[id] = task
	tm.mu.Unlock()

	go func() {
		tm.setStatus(id, TaskRunning, "")
		if err := fn(); err != nil {
			tm.setStatus(id, TaskFailed, err.Error())
			return
		}
		tm.setStatus(id, TaskCompleted, "")
	}()
	return id
}

// Get returns a copy of the task with the given id.
func (tm *TaskManager) Get(id string) (Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

func (tm *TaskManager) setStatus(id string, status TaskStatus, errMsg string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task, ok := tm.tasks[id]
	if !ok {
		return
	}
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = time.Now()
}

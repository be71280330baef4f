/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package taskmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/lifecycle"
)

const (
	coordinationPermitKey = "task-permit"
	defaultCheckInterval  = 10 * time.Second
)

type status = string

const (
	loggerModule = "task-manager"

	statusIdle    status = "idle"
	statusRunning status = "running"
)

// ErrPermitNotFound indicates that no permit exists for a task in the
// coordination store.
var ErrPermitNotFound = errors.New("permit not found")

// CoordinationStore stores task permits. In a clustered deployment every server
// instance must be connected to the same store so that a task is only run by one
// instance at a time.
type CoordinationStore interface {
	// Get returns the value for the given key or an ErrPermitNotFound error.
	Get(key string) ([]byte, error)
	// Put stores the value for the given key.
	Put(key string, value []byte) error
}

// permit is an entry within the coordination store which ensures that only one
// server instance within a cluster has the duty of running a given task.
//
//nolint:tagliatelle
type permit struct {
	// TaskID is the ID of the task that is being run.
	TaskID string `json:"task_id"`
	// CurrentHolder indicates which server instance currently has the responsibility.
	CurrentHolder string `json:"currentHolder"`
	// Status indicates the current status (idle or running).
	Status string `json:"status"`
	// UpdatedTime indicates when the status was last updated.
	UpdatedTime int64 `json:"updateTime"` // This is a Unix timestamp.
}

// Manager manages scheduled tasks which are run by exactly one server instance
// within a domain.
type Manager struct {
	*lifecycle.Lifecycle

	interval          time.Duration
	tasks             map[string]*registration
	done              chan struct{}
	logger            *log.Log
	coordinationStore CoordinationStore
	instanceID        string
	mutex             sync.RWMutex
}

// New returns a new task manager. The coordination store ensures that only one
// server instance within a cluster runs a given scheduled task. When a server
// comes up (or the instance holding the duty goes down) it is possible for
// multiple instances to briefly assign themselves the duty, but only for one
// round; the conflict resolves itself on the next check. Register each task
// with RegisterTask, then call Start.
func New(coordinationStore CoordinationStore, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	instanceID := uuid.New().String()

	s := &Manager{
		interval:          interval,
		done:              make(chan struct{}),
		logger:            log.New(loggerModule, log.WithFields(logfields.WithTaskMgrInstanceID(instanceID))),
		coordinationStore: coordinationStore,
		instanceID:        instanceID,
		tasks:             make(map[string]*registration),
	}

	s.Lifecycle = lifecycle.New("task-manager",
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop))

	return s
}

// InstanceID returns the unique ID of this server instance.
func (s *Manager) InstanceID() string {
	return s.instanceID
}

// RegisterTask registers a task to be periodically run at the given interval.
func (s *Manager) RegisterTask(id string, interval time.Duration, task func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[id] = &registration{
		handle:   task,
		id:       id,
		interval: interval,
	}
}

func (s *Manager) getTasks() []*registration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var tasks []*registration

	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}

	return tasks
}

func (s *Manager) start() {
	go func() {
		s.logger.Info("Started task manager.")

		for {
			select {
			case <-time.After(s.interval):
				for _, t := range s.getTasks() {
					if err := s.run(t); err != nil {
						s.logger.Error("Error running task", log.WithError(err), logfields.WithTaskID(t.id))
					}
				}
			case <-s.done:
				s.logger.Debug("Stopped task manager.")

				return
			}
		}
	}()
}

func (s *Manager) stop() {
	close(s.done)
}

func (s *Manager) run(t *registration) error {
	if t.isRunning() {
		s.logger.Debug("Task is still running. Updating timestamp in the permit to tell others that I'm still alive.",
			logfields.WithTaskID(t.id))

		if err := s.updatePermit(t.id, statusRunning); err != nil {
			s.logger.Warn("Error updating status of task", logfields.WithTaskID(t.id), log.WithError(err))
		}

		return nil
	}

	ok, err := s.shouldRun(t)
	if err != nil {
		return fmt.Errorf("should run: %w", err)
	}

	if !ok {
		s.logger.Debug("Not running task.", logfields.WithTaskID(t.id))

		return nil
	}

	err = s.updatePermit(t.id, statusRunning)
	if err != nil {
		return fmt.Errorf("update permit for task: %w", err)
	}

	go func(t *registration) {
		s.logger.Debug("Running task", logfields.WithTaskID(t.id))

		t.run()

		err := s.updatePermit(t.id, statusIdle)
		if err != nil {
			s.logger.Error("Failed to update permit for task", logfields.WithTaskID(t.id), log.WithError(err))
		}

		s.logger.Debug("Finished running task", logfields.WithTaskID(t.id))
	}(t)

	return nil
}

func (s *Manager) shouldRun(t *registration) (bool, error) {
	currentPermitBytes, err := s.coordinationStore.Get(getPermitKey(t.id))
	if err != nil {
		if errors.Is(err, ErrPermitNotFound) {
			s.logger.Info("No existing permit found for task. I will take on the duty of running the task.",
				logfields.WithTaskID(t.id))

			return true, nil
		}

		return false, fmt.Errorf("get permit for task [%s]: %w", t.id, err)
	}

	var currentPermit permit

	err = json.Unmarshal(currentPermitBytes, &currentPermit)
	if err != nil {
		return false, fmt.Errorf("unmarshal permit for task [%s]: %w", t.id, err)
	}

	timeOfLastUpdate := time.Unix(currentPermit.UpdatedTime, 0)

	// The permit timestamp is truncated to the nearest second, so truncate the
	// elapsed time as well.
	timeSinceLastUpdate := time.Since(timeOfLastUpdate).Truncate(time.Second)

	if currentPermit.CurrentHolder == s.instanceID {
		if timeSinceLastUpdate < t.interval {
			s.logger.Debug("It's currently my duty to run this task but it's not time for it to run.",
				logfields.WithTaskID(t.id), logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate),
				logfields.WithTaskMonitorInterval(t.interval))

			return false, nil
		}

		s.logger.Debug("It's currently my duty to run task.", logfields.WithTaskID(t.id),
			logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate))

		return true, nil
	}

	// Only take the duty away from the current permit holder if it's been an
	// unusually long time since its last successful run, i.e. longer than the
	// check interval plus the task's run interval. In that case the holder is
	// assumed to be down. All instances within the cluster are expected to have
	// the same interval settings.
	maxTime := s.interval + t.interval

	if timeSinceLastUpdate > maxTime {
		s.logger.Info("The current permit holder for this task has not updated the permit in an "+
			"unusually long time. This indicates that the permit holder may be down or not responding. "+
			"I will take over and grab the permit.",
			logfields.WithPermitHolder(currentPermit.CurrentHolder), logfields.WithTaskID(t.id),
			logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate), logfields.WithMaxTime(maxTime))

		return true, nil
	}

	s.logger.Debug("I will not run this task since I am not the permit holder and it was run recently.",
		logfields.WithTaskID(t.id), logfields.WithPermitHolder(currentPermit.CurrentHolder),
		logfields.WithTimeSinceLastUpdate(timeSinceLastUpdate))

	return false, nil
}

func (s *Manager) updatePermit(taskID string, status status) error {
	p := permit{
		TaskID:        taskID,
		CurrentHolder: s.instanceID,
		Status:        status,
		UpdatedTime:   time.Now().Unix(),
	}

	permitBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal permit: %w", err)
	}

	err = s.coordinationStore.Put(getPermitKey(taskID), permitBytes)
	if err != nil {
		return fmt.Errorf("store permit: %w", err)
	}

	s.logger.Debug("Permit successfully updated for task.", logfields.WithTaskID(taskID),
		logfields.WithStatus(status))

	return nil
}

func getPermitKey(taskID string) string {
	return coordinationPermitKey + "_" + taskID
}

type registration struct {
	handle   func()
	running  uint32
	id       string
	interval time.Duration
}

func (r *registration) run() {
	if !atomic.CompareAndSwapUint32(&r.running, 0, 1) {
		// Already running.
		return
	}

	r.handle()

	atomic.StoreUint32(&r.running, 0)
}

func (r *registration) isRunning() bool {
	return atomic.LoadUint32(&r.running) == 1
}

// MemCoordinationStore is an in-memory coordination store for single-instance
// deployments and tests.
type MemCoordinationStore struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

// NewMemCoordinationStore returns a new in-memory coordination store.
func NewMemCoordinationStore() *MemCoordinationStore {
	return &MemCoordinationStore{entries: make(map[string][]byte)}
}

// Get returns the value for the given key or an ErrPermitNotFound error.
func (s *MemCoordinationStore) Get(key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, ok := s.entries[key]
	if !ok {
		return nil, ErrPermitNotFound
	}

	return value, nil
}

// Put stores the value for the given key.
func (s *MemCoordinationStore) Put(key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key] = value

	return nil
}

package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"feeflow/internal/runtrack"
	logx "feeflow/pkg/logx"
)

var ErrNotFound = errors.New("job not found")

// Params carries executor parameters attached to a job definition.
// Zero values mean "use the current period" for billing.
type Params struct {
	Month        int    `json:"month,omitempty"`
	Year         int    `json:"year,omitempty"`
	ReminderType string `json:"reminder_type,omitempty"`
}

// JobDefinition is a registered automation job. LastRun and NextRun are
// maintained by the registry; NextRun is nil exactly when the job is
// inactive.
type JobDefinition struct {
	ID          string
	Name        string
	Type        runtrack.JobType
	Schedule    string
	Description string
	Active      bool
	LastRun     *time.Time
	NextRun     *time.Time
	Params      Params
}

// Registry holds job definitions and keeps their scheduling timestamps
// coherent. All mutation goes through SetActive and RecordTriggered.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobDefinition
	loc  *time.Location
	log  logx.Logger
}

func New(loc *time.Location, log logx.Logger) *Registry {
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		jobs: map[string]*JobDefinition{},
		loc:  loc,
		log:  log,
	}
}

// Register validates and adds a definition. Active jobs get their first
// NextRun computed immediately. Duplicate IDs are rejected.
func (r *Registry) Register(def JobDefinition, now time.Time) error {
	if def.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !def.Type.Valid() {
		return fmt.Errorf("job %s: unknown type %q", def.ID, def.Type)
	}
	if _, err := ParseSchedule(def.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", def.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[def.ID]; ok {
		return fmt.Errorf("job %s already registered", def.ID)
	}
	if def.Active {
		next, err := NextAfter(def.Schedule, now, r.loc)
		if err != nil {
			return err
		}
		def.NextRun = &next
	} else {
		def.NextRun = nil
	}
	r.jobs[def.ID] = &def
	r.log.Debug("job registered",
		logx.String("job_id", def.ID),
		logx.String("schedule", def.Schedule),
		logx.Bool("active", def.Active))
	return nil
}

// Get returns a copy of the definition.
func (r *Registry) Get(id string) (JobDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.jobs[id]
	if !ok {
		return JobDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *def, nil
}

// All returns copies of every definition, ordered by ID.
func (r *Registry) All() []JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobDefinition, 0, len(r.jobs))
	for _, def := range r.jobs {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive starts or stops a job. Activating recomputes NextRun from
// now; deactivating clears it so the ticker never considers the job.
func (r *Registry) SetActive(id string, active bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if def.Active == active {
		return nil
	}
	def.Active = active
	if active {
		next, err := NextAfter(def.Schedule, now, r.loc)
		if err != nil {
			return err
		}
		def.NextRun = &next
	} else {
		def.NextRun = nil
	}
	r.log.Info("job state changed",
		logx.String("job_id", id),
		logx.Bool("active", active))
	return nil
}

// RecordTriggered marks a firing: LastRun moves to the trigger time and
// NextRun advances past it. Inactive jobs only record LastRun, which is
// the manual-trigger case.
func (r *Registry) RecordTriggered(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	triggered := at
	def.LastRun = &triggered
	if !def.Active {
		return nil
	}
	next, err := NextAfter(def.Schedule, at, r.loc)
	if err != nil {
		return err
	}
	def.NextRun = &next
	return nil
}

// Due returns copies of active jobs whose NextRun is at or before now.
func (r *Registry) Due(now time.Time) []JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []JobDefinition
	for _, def := range r.jobs {
		if !def.Active || def.NextRun == nil {
			continue
		}
		if !def.NextRun.After(now) {
			out = append(out, *def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobkit/internal/jobid"
	"jobkit/internal/tasks"
	logx "jobkit/pkg/logx"
)

// Config controls the schedule service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Submitter is the slice of the core scheduler this layer needs.
type Submitter interface {
	AddJob(target any, args ...any) (jobid.ID, error)
}

// EntryInfo is a read-only view of one registered entry.
type EntryInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Task string    `json:"task"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

type entryDef struct {
	name    string
	spec    string // normalized cron spec ("@every 55m" for intervals)
	raw     string // spec as supplied by the caller
	task    string
	entryID cron.EntryID
}

// Service registers cron/interval entries and submits one job per fire.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	reg   *tasks.Registry
	sched Submitter

	parser cron.Parser
	c      *cron.Cron
	defs   []entryDef
}

func New(cfg Config, sched Submitter, reg *tasks.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		sched:  sched,
		parser: cronParser,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		// restart cron with new location and re-register definitions
		s.restartLocked()
	}
}

// Start begins cron triggering and registers stored definitions.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // reserved for stop/drain policies

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("entry register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("schedule service started", logx.String("tz", loc.String()), logx.Int("entries", len(s.defs)))
}

// Stop halts cron triggering. Definitions remain and resume on next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("schedule service stopped", logx.Duration("took", time.Since(start)))
}

// Upsert registers (or replaces) a named entry. The task must exist in the
// registry at fire time, not at registration time; a missing task makes the
// fire a logged no-op rather than an error here.
func (s *Service) Upsert(name, spec, task string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("entry name required")
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return errors.New("task name required")
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	normalized := ps.Cron
	if ps.Kind == SpecInterval {
		normalized = fmt.Sprintf("@every %s", ps.Every.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, entryDef{name: name, spec: normalized, raw: spec, task: task})
	if s.c != nil {
		if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
			// Keep the definition out of the list; a bad spec that slipped past
			// ParseSchedule should not linger half-registered.
			s.defs = s.defs[:len(s.defs)-1]
			return err
		}
		s.log.Debug("entry registered", logx.String("name", name), logx.String("spec", normalized), logx.String("task", task))
	}
	return nil
}

// Remove drops a named entry. Removing an unknown name is a no-op.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
}

// List returns all entries with their next/previous fire times.
func (s *Service) List() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := EntryInfo{Name: d.name, Spec: d.spec, Task: d.task}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) addCronLocked(d *entryDef) error {
	// Capture by value: defs slots are shifted on remove and reused on append,
	// so the closure must not read back through d.
	name, task := d.name, d.task
	id, err := s.c.AddFunc(d.spec, func() { s.fire(name, task) })
	if err != nil {
		return fmt.Errorf("register %q: %w", d.name, err)
	}
	d.entryID = id
	return nil
}

// fire submits one job for the entry. Failures here are trigger-side only;
// the job's own outcome lives in the scheduler record.
func (s *Service) fire(name, task string) {
	target, err := s.reg.Get(task)
	if err != nil {
		s.log.Warn("entry fired for unknown task", logx.String("entry", name), logx.String("task", task))
		return
	}
	id, err := s.sched.AddJob(target)
	if err != nil {
		s.log.Warn("entry submission failed", logx.String("entry", name), logx.String("task", task), logx.Err(err))
		return
	}
	s.log.Debug("entry fired", logx.String("entry", name), logx.String("task", task), logx.String("job", id.String()))
}

func (s *Service) removeLocked(name string) {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return
	}
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("schedule service restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

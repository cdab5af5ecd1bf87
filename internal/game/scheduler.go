package game

import "sort"

// dueEpsilon absorbs float drift from summing fixed tick deltas.
const dueEpsilon = 1e-9

// TaskToken identifies a scheduled task. The zero token is never issued.
type TaskToken uint64

type scheduledTask struct {
	token TaskToken
	name  string
	due   float64
	fn    func()
}

// Scheduler runs deferred callbacks on session time. It is advanced by the
// owning loop's tick, so callbacks run on that loop and never concurrently.
type Scheduler struct {
	now   float64
	next  TaskToken
	tasks map[TaskToken]*scheduledTask
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[TaskToken]*scheduledTask)}
}

// After schedules fn to run once delay seconds from now.
func (s *Scheduler) After(name string, delay float64, fn func()) TaskToken {
	if delay < 0 {
		delay = 0
	}
	s.next++
	s.tasks[s.next] = &scheduledTask{token: s.next, name: name, due: s.now + delay, fn: fn}
	return s.next
}

// Cancel drops a pending task. Returns false if it already ran or never existed.
func (s *Scheduler) Cancel(token TaskToken) bool {
	if _, ok := s.tasks[token]; !ok {
		return false
	}
	delete(s.tasks, token)
	return true
}

// CancelNamed drops every pending task with name and returns how many.
func (s *Scheduler) CancelNamed(name string) int {
	n := 0
	for tok, t := range s.tasks {
		if t.name == name {
			delete(s.tasks, tok)
			n++
		}
	}
	return n
}

// Pending reports whether token is still waiting to run.
func (s *Scheduler) Pending(token TaskToken) bool {
	_, ok := s.tasks[token]
	return ok
}

// PendingNamed reports whether a task with name is waiting to run.
func (s *Scheduler) PendingNamed(name string) bool {
	for _, t := range s.tasks {
		if t.name == name {
			return true
		}
	}
	return false
}

// Remaining returns the seconds left before token runs.
func (s *Scheduler) Remaining(token TaskToken) (float64, bool) {
	t, ok := s.tasks[token]
	if !ok {
		return 0, false
	}
	return t.due - s.now, true
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int { return len(s.tasks) }

// Now returns the scheduler's clock.
func (s *Scheduler) Now() float64 { return s.now }

// Advance moves the clock forward by dt and runs every task that fell due,
// earliest first. Tasks cancelled by an earlier callback in the same pass do
// not run; tasks scheduled with no delay run in the same pass.
func (s *Scheduler) Advance(dt float64) {
	if dt > 0 {
		s.now += dt
	}

	for {
		due := s.dueTasks()
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			if _, live := s.tasks[t.token]; !live {
				continue
			}
			delete(s.tasks, t.token)
			t.fn()
		}
	}
}

func (s *Scheduler) dueTasks() []*scheduledTask {
	var due []*scheduledTask
	for _, t := range s.tasks {
		if t.due <= s.now+dueEpsilon {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].token < due[j].token
	})
	return due
}

// Clear drops every pending task.
func (s *Scheduler) Clear() {
	s.tasks = make(map[TaskToken]*scheduledTask)
}

package alphacorn

import (
	"sync"
	"sync/atomic"
)

// Run drives every cpu on its own goroutine until one halts or errors.
// The first non-nil result wins; the rest are stopped at their next
// instruction boundary. A guest halt surfaces as models.ExitStatus.
func (m *Machine) Run() error {
	return m.run(0)
}

// RunUntil is Run with a per-cpu cycle budget. Hitting the budget is not
// an error; all cpus stop once any cpu finishes or fails.
func (m *Machine) RunUntil(cycles uint64) error {
	return m.run(cycles)
}

func (m *Machine) run(budget uint64) error {
	atomic.StoreInt32(&m.stop, 0)
	var wg sync.WaitGroup
	errs := make(chan error, len(m.cpus))
	for _, s := range m.cpus {
		wg.Add(1)
		go func(s *cpuSys) {
			defer wg.Done()
			errs <- m.worker(s, budget)
			// unblock the siblings
			m.Stop()
		}(s)
	}
	wg.Wait()
	close(errs)
	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Machine) worker(s *cpuSys, budget uint64) error {
	start := atomic.LoadUint64(&s.cycles)
	for atomic.LoadInt32(&m.stop) == 0 {
		if budget > 0 && atomic.LoadUint64(&s.cycles)-start >= budget {
			return nil
		}
		if err := s.cpu.Step(); err != nil {
			return err
		}
		atomic.AddUint64(&s.cycles, 1)
	}
	return nil
}

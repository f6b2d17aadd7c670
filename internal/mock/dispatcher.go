package mock

import (
	"context"
	"sync"

	"studyforge-go/pkg/tasks"
)

// Dispatcher 只记录派发的任务，不执行。
type Dispatcher struct {
	mu    sync.Mutex
	tasks []tasks.IngestTask

	Err error
}

func (d *Dispatcher) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

// Tasks 按派发顺序返回任务。
func (d *Dispatcher) Tasks() []tasks.IngestTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]tasks.IngestTask(nil), d.tasks...)
}

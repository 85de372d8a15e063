package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskType 任务类型
type TaskType int

const (
	// TaskTypeOnce 一次性任务
	TaskTypeOnce TaskType = iota
	// TaskTypeInterval 固定间隔任务
	TaskTypeInterval
	// TaskTypeCron 基于Cron表达式的任务
	TaskTypeCron
)

// TaskStatus 任务状态
type TaskStatus int

const (
	TaskStatusWaiting TaskStatus = iota
	TaskStatusRunning
	TaskStatusCompleted
	TaskStatusFailed
)

// TaskExecuteMode 任务执行模式
type TaskExecuteMode int

const (
	// TaskExecuteModeDistributed 只在持有领导者锁的节点执行
	TaskExecuteModeDistributed TaskExecuteMode = iota
	// TaskExecuteModeLocal 每个节点都执行
	TaskExecuteModeLocal
)

// TaskFunc 任务执行函数
type TaskFunc func(ctx context.Context) error

// Task 任务接口
type Task interface {
	GetID() string
	GetName() string
	GetExecuteMode() TaskExecuteMode
	GetNextTime() time.Time
	GetTimeout() time.Duration
	Execute(ctx context.Context) error
	// UpdateNextTime 计算并返回下次执行时间，返回零值表示不再执行
	UpdateNextTime(currentTime time.Time) time.Time
	CanExecute(currentTime time.Time) bool
	IsCompleted() bool
	SetStatus(status TaskStatus)
}

// BaseTask 基础任务实现
type BaseTask struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        TaskType        `json:"type"`
	ExecuteMode TaskExecuteMode `json:"execute_mode"`
	Timeout     time.Duration   `json:"timeout"`
	Func        TaskFunc        `json:"-"`

	mu       sync.RWMutex
	status   TaskStatus
	nextTime time.Time
}

func newBaseTask(name string, typ TaskType, mode TaskExecuteMode, next time.Time, timeout time.Duration, fn TaskFunc) *BaseTask {
	return &BaseTask{
		ID:          uuid.New().String(),
		Name:        name,
		Type:        typ,
		ExecuteMode: mode,
		Timeout:     timeout,
		Func:        fn,
		status:      TaskStatusWaiting,
		nextTime:    next,
	}
}

func (t *BaseTask) GetID() string {
	return t.ID
}

func (t *BaseTask) GetName() string {
	return t.Name
}

func (t *BaseTask) GetExecuteMode() TaskExecuteMode {
	return t.ExecuteMode
}

func (t *BaseTask) GetNextTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextTime
}

func (t *BaseTask) setNextTime(next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextTime = next
}

// GetTimeout 未设置时默认 30 秒
func (t *BaseTask) GetTimeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return t.Timeout
}

func (t *BaseTask) Execute(ctx context.Context) error {
	if t.Func == nil {
		return nil
	}

	t.SetStatus(TaskStatusRunning)
	err := t.Func(ctx)

	switch {
	case err != nil:
		t.SetStatus(TaskStatusFailed)
	case t.Type == TaskTypeOnce:
		t.SetStatus(TaskStatusCompleted)
	default:
		t.SetStatus(TaskStatusWaiting)
	}
	return err
}

func (t *BaseTask) CanExecute(currentTime time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == TaskStatusWaiting && !currentTime.Before(t.nextTime)
}

func (t *BaseTask) IsCompleted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == TaskStatusCompleted
}

func (t *BaseTask) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

// OnceTask 一次性任务，失败后不重试
type OnceTask struct {
	*BaseTask
}

func NewOnceTask(name string, executeTime time.Time, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) *OnceTask {
	return &OnceTask{BaseTask: newBaseTask(name, TaskTypeOnce, executeMode, executeTime, timeout, fn)}
}

func (t *OnceTask) UpdateNextTime(currentTime time.Time) time.Time {
	// 已经执行过（成功或失败）就不再调度
	return time.Time{}
}

// IntervalTask 固定间隔任务
type IntervalTask struct {
	*BaseTask
	Interval time.Duration `json:"interval"`
}

func NewIntervalTask(name string, startTime time.Time, interval time.Duration, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) *IntervalTask {
	return &IntervalTask{
		BaseTask: newBaseTask(name, TaskTypeInterval, executeMode, startTime, timeout, fn),
		Interval: interval,
	}
}

func (t *IntervalTask) UpdateNextTime(currentTime time.Time) time.Time {
	next := currentTime.Add(t.Interval)
	t.setNextTime(next)
	return next
}

// CronTask 基于Cron表达式的任务，表达式带秒位
type CronTask struct {
	*BaseTask
	CronExpr string        `json:"cron_expr"`
	schedule cron.Schedule `json:"-"`
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewCronTask(name string, cronExpr string, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) (*CronTask, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	return &CronTask{
		BaseTask: newBaseTask(name, TaskTypeCron, executeMode, schedule.Next(time.Now()), timeout, fn),
		CronExpr: cronExpr,
		schedule: schedule,
	}, nil
}

func (t *CronTask) UpdateNextTime(currentTime time.Time) time.Time {
	next := t.schedule.Next(currentTime)
	t.setNextTime(next)
	return next
}

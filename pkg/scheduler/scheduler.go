package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/lock"
)

// Scheduler 任务调度器，分布式任务只在持有领导者锁的节点上运行
type Scheduler struct {
	nodeID        string
	lockManager   lock.LockManager
	checkInterval time.Duration

	isRunning atomic.Bool
	isLeader  atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	taskHeap   *TaskHeap
	leaderLock lock.DistributedLock

	workerSemaphore chan struct{}

	timer   *time.Timer
	timerMu sync.Mutex

	log *logger.Log
	err *errorc.ErrorBuilder

	stats *SchedulerStats
}

// SchedulerStats 调度器统计信息
type SchedulerStats struct {
	mu              sync.RWMutex
	CompletedTasks  int64     `json:"completed_tasks"`
	FailedTasks     int64     `json:"failed_tasks"`
	LeaderElections int64     `json:"leader_elections"`
	LastExecuteTime time.Time `json:"last_execute_time"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	NodeID        string        `json:"node_id"`
	LockKey       string        `json:"lock_key"`
	LockTTL       time.Duration `json:"lock_ttl"`
	CheckInterval time.Duration `json:"check_interval"`
	MaxWorkers    int           `json:"max_workers"`
}

func DefaultSchedulerConfig() *SchedulerConfig {
	hostname, _ := os.Hostname()
	return &SchedulerConfig{
		NodeID:        fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		LockKey:       "pki:scheduler:leader",
		LockTTL:       30 * time.Second,
		CheckInterval: 5 * time.Second,
		MaxWorkers:    4,
	}
}

func NewScheduler(lockManager lock.LockManager, config *SchedulerConfig, log *logger.Log) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		nodeID:          config.NodeID,
		lockManager:     lockManager,
		checkInterval:   config.CheckInterval,
		ctx:             ctx,
		cancel:          cancel,
		taskHeap:        NewTaskHeap(),
		workerSemaphore: make(chan struct{}, config.MaxWorkers),
		log:             log.WithEntryName("Scheduler"),
		err:             errorc.NewErrorBuilder("Scheduler"),
		stats:           &SchedulerStats{},
	}

	s.leaderLock = lockManager.NewLock(config.LockKey, &lock.LockOptions{
		TTL:           config.LockTTL,
		AutoRenew:     true,
		RenewInterval: config.LockTTL / 3,
		RetryInterval: time.Second,
	})

	return s
}

// Start 启动调度器，立即进行一次领导者竞选
func (s *Scheduler) Start() error {
	if s.isRunning.Load() {
		return s.err.New("调度器已经在运行", nil)
	}

	s.log.WithField("node", s.nodeID).Info("启动调度器")
	s.isRunning.Store(true)

	s.tryBecomeLeader()

	s.wg.Add(1)
	go s.mainLoop()

	s.resetTimer()
	return nil
}

// Stop 停止调度器并等待执行中的任务结束
func (s *Scheduler) Stop() error {
	if !s.isRunning.Load() {
		return nil
	}

	s.log.Info("停止调度器")
	s.isRunning.Store(false)
	s.cancel()

	if s.leaderLock.IsLocked() {
		if err := s.leaderLock.Unlock(context.Background()); err != nil {
			s.log.WithErr(err).Error("释放领导者锁失败")
		}
	}

	s.stopTimer()
	s.wg.Wait()

	s.log.Info("调度器已停止")
	return nil
}

func (s *Scheduler) AddTask(task Task) error {
	if !s.isRunning.Load() {
		return s.err.New("调度器未运行", nil)
	}

	s.taskHeap.SafePush(task)
	s.log.WithField("task", task.GetName()).WithField("next", task.GetNextTime()).Info("添加任务")
	s.resetTimer()
	return nil
}

// AddCronTask 按 cron 表达式添加分布式任务，表达式为空时跳过
func (s *Scheduler) AddCronTask(name, expr string, timeout time.Duration, fn TaskFunc) error {
	if expr == "" {
		s.log.WithField("task", name).Info("未配置 cron 表达式，跳过任务")
		return nil
	}
	task, err := NewCronTask(name, expr, TaskExecuteModeDistributed, timeout, fn)
	if err != nil {
		return s.err.New(fmt.Sprintf("cron 表达式无效: %s", expr), err).ValidWithCtx()
	}
	return s.AddTask(task)
}

func (s *Scheduler) RemoveTask(taskID string) bool {
	removed := s.taskHeap.SafeRemove(taskID)
	if removed {
		s.log.WithField("task", taskID).Info("移除任务")
		s.resetTimer()
	}
	return removed
}

func (s *Scheduler) ListTasks() []Task {
	return s.taskHeap.SafeList()
}

func (s *Scheduler) GetStats() SchedulerStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	return SchedulerStats{
		CompletedTasks:  s.stats.CompletedTasks,
		FailedTasks:     s.stats.FailedTasks,
		LeaderElections: s.stats.LeaderElections,
		LastExecuteTime: s.stats.LastExecuteTime,
	}
}

func (s *Scheduler) IsLeader() bool {
	return s.isLeader.Load()
}

func (s *Scheduler) mainLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tryBecomeLeader()
		}
	}
}

func (s *Scheduler) tryBecomeLeader() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	locked, err := s.leaderLock.TryLock(ctx)
	if err != nil {
		s.log.WithErr(err).Error("竞选领导者失败")
		s.becomeFollower()
		return
	}

	if !locked {
		s.becomeFollower()
		return
	}
	if !s.isLeader.Load() {
		s.log.WithField("node", s.nodeID).Info("成为领导者")
		s.isLeader.Store(true)
		s.stats.mu.Lock()
		s.stats.LeaderElections++
		s.stats.mu.Unlock()
	}
}

func (s *Scheduler) becomeFollower() {
	if s.isLeader.Load() {
		s.log.WithField("node", s.nodeID).Warn("失去领导者身份")
		s.isLeader.Store(false)
	}
}

func (s *Scheduler) resetTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	if !s.isRunning.Load() {
		return
	}

	nextTime := s.taskHeap.GetNextExecuteTime()
	if nextTime == nil {
		return
	}

	wait := time.Until(*nextTime)
	if wait < 0 {
		wait = 0
	}
	s.timer = time.AfterFunc(wait, s.onTimerFired)
}

func (s *Scheduler) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onTimerFired() {
	if !s.isRunning.Load() {
		return
	}

	for _, task := range s.taskHeap.PopReadyTasks(time.Now()) {
		s.executeTask(task)
	}
	s.resetTimer()
}

func (s *Scheduler) executeTask(task Task) {
	if task.GetExecuteMode() == TaskExecuteModeDistributed && !s.isLeader.Load() {
		s.reschedule(task, time.Now())
		return
	}

	select {
	case s.workerSemaphore <- struct{}{}:
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			defer func() { <-s.workerSemaphore }()
			s.runTask(t)
		}(task)
	default:
		s.log.WithField("task", task.GetName()).Warn("工作者池已满，任务延后执行")
		s.reschedule(task, time.Now().Add(time.Second))
	}
}

func (s *Scheduler) reschedule(task Task, from time.Time) {
	if task.IsCompleted() {
		return
	}
	if next := task.UpdateNextTime(from); !next.IsZero() {
		task.SetStatus(TaskStatusWaiting)
		s.taskHeap.SafePush(task)
	}
}

func (s *Scheduler) runTask(task Task) {
	start := time.Now()
	log := s.log.WithField("task", task.GetName())
	log.Info("开始执行任务")

	ctx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	err := task.Execute(ctx)

	s.stats.mu.Lock()
	s.stats.LastExecuteTime = start
	if err != nil {
		s.stats.FailedTasks++
	} else {
		s.stats.CompletedTasks++
	}
	s.stats.mu.Unlock()

	if err != nil {
		log.WithErr(err).WithField("cost", time.Since(start).String()).Error("任务执行失败")
	} else {
		log.WithField("cost", time.Since(start).String()).Info("任务执行成功")
	}

	s.reschedule(task, time.Now())
	s.resetTimer()
}

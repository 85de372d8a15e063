package service

import (
	"context"
	"sync"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const liveChannelPrefix = "pki:deploy:"

// LiveMessage 实时推送的部署消息，Status 非空表示部署结束
type LiveMessage struct {
	Line   *model.DeployLogLine `json:"line,omitempty"`
	Status model.DeployStatus   `json:"status,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func (m *LiveMessage) Terminal() bool {
	return m.Status == model.DeployStatusCompleted || m.Status == model.DeployStatusFailed
}

// LiveChannel 按操作 ID 发布订阅部署日志
type LiveChannel interface {
	Publish(ctx context.Context, operationID string, msg *LiveMessage) error
	Subscribe(ctx context.Context, operationID string) (LiveSubscription, error)
}

type LiveSubscription interface {
	C() <-chan *LiveMessage
	Close() error
}

func LiveChannelName(operationID string) string {
	return liveChannelPrefix + operationID
}

// RedisLiveChannel 基于 Redis Pub/Sub，多实例部署时任一实例都能订阅
type RedisLiveChannel struct {
	rdb *redis.Client
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewRedisLiveChannel(rdb *redis.Client, log *logger.Log) *RedisLiveChannel {
	return &RedisLiveChannel{
		rdb: rdb,
		log: log.WithEntryName("RedisLiveChannel"),
		err: errorc.NewErrorBuilder("RedisLiveChannel"),
	}
}

func (c *RedisLiveChannel) Publish(ctx context.Context, operationID string, msg *LiveMessage) error {
	payload, err := jsoniter.Marshal(msg)
	if err != nil {
		return c.err.New("序列化实时消息失败", err)
	}
	if err := c.rdb.Publish(ctx, LiveChannelName(operationID), payload).Err(); err != nil {
		return c.err.New("发布实时消息失败", err).Third()
	}
	return nil
}

func (c *RedisLiveChannel) Subscribe(ctx context.Context, operationID string) (LiveSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, LiveChannelName(operationID))
	// 等待订阅确认，避免确认前发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, c.err.New("订阅实时消息失败", err).Third()
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan *LiveMessage, 64),
		done:   make(chan struct{}),
	}
	go sub.pump(c.log)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan *LiveMessage
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump(log *logger.Log) {
	defer close(s.out)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg LiveMessage
			if err := jsoniter.UnmarshalFromString(raw.Payload, &msg); err != nil {
				log.WithErr(err).Warn("解析实时消息失败")
				continue
			}
			select {
			case s.out <- &msg:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) C() <-chan *LiveMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// MemoryLiveChannel 进程内实现，未配置 Redis 时使用
type MemoryLiveChannel struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]struct{}
	log  *logger.Log
}

func NewMemoryLiveChannel(log *logger.Log) *MemoryLiveChannel {
	return &MemoryLiveChannel{
		subs: make(map[string]map[*memorySubscription]struct{}),
		log:  log.WithEntryName("MemoryLiveChannel"),
	}
}

// Publish 订阅者缓冲区满时丢弃，订阅者可从持久化日志补齐
func (c *MemoryLiveChannel) Publish(ctx context.Context, operationID string, msg *LiveMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs[operationID] {
		select {
		case sub.out <- msg:
		default:
			c.log.WithField("operation_id", operationID).Warn("实时订阅缓冲区已满，丢弃消息")
		}
	}
	return nil
}

func (c *MemoryLiveChannel) Subscribe(ctx context.Context, operationID string) (LiveSubscription, error) {
	sub := &memorySubscription{
		channel:     c,
		operationID: operationID,
		out:         make(chan *LiveMessage, 256),
	}

	c.mu.Lock()
	if c.subs[operationID] == nil {
		c.subs[operationID] = make(map[*memorySubscription]struct{})
	}
	c.subs[operationID][sub] = struct{}{}
	c.mu.Unlock()
	return sub, nil
}

func (c *MemoryLiveChannel) unsubscribe(sub *memorySubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subs[sub.operationID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.out)
		}
		if len(set) == 0 {
			delete(c.subs, sub.operationID)
		}
	}
}

type memorySubscription struct {
	channel     *MemoryLiveChannel
	operationID string
	out         chan *LiveMessage
}

func (s *memorySubscription) C() <-chan *LiveMessage {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.channel.unsubscribe(s)
	return nil
}

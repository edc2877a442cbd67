/**
 * @file docstore.go
 * @brief 文档库事务层 (Redis WATCH 乐观并发)
 */
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Raunak1404/Codosphere-sub001/pkg/common"
	"github.com/redis/go-redis/v9"
)

const defaultTxnMaxAttempts = 16

// 变更事件类型
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// ChangeEvent 单个文档的变更通知。提交成功后发布到 EventsChannel，
// 订阅方按 collection/doc_id 自行过滤 (等价于 onSnapshot 的客户端过滤)。
type ChangeEvent struct {
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id"`
	Kind       string          `json:"kind"`
	Doc        json.RawMessage `json:"doc,omitempty"`
}

// Txn 一次乐观事务的执行上下文。
// 读操作立即在被 WATCH 的连接上执行；写操作先排队，body 正常返回后在一个
// MULTI/EXEC 里原子提交。事务体可能被整体重跑，body 里不允许有不可重入的
// 副作用 (事件发布在提交成功之后才发生)。
type Txn struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(pipe redis.Pipeliner) error
	events []ChangeEvent
}

// Watch 把额外的键加入冲突检测集合 (必须在读它之前调用)
func (t *Txn) Watch(keys ...string) error {
	if err := t.tx.Watch(t.ctx, keys...).Err(); err != nil {
		return fmt.Errorf("事务 WATCH 失败: %w", err)
	}
	return nil
}

// GetJSON 读取 JSON 文档。不存在时返回 (false, nil)。
func (t *Txn) GetJSON(key string, dest any) (bool, error) {
	val, err := t.tx.Get(t.ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("事务读取 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("解析文档 %s 失败: %w", key, err)
	}
	return true, nil
}

// GetString 读取字符串键。不存在时返回 ("", false, nil)。
func (t *Txn) GetString(key string) (string, bool, error) {
	val, err := t.tx.Get(t.ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("事务读取 %s 失败: %w", key, err)
	}
	return val, true, nil
}

// ZRange 按分数升序读取索引成员
func (t *Txn) ZRange(key string, start, stop int64) ([]string, error) {
	val, err := t.tx.ZRange(t.ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("事务 ZRANGE %s 失败: %w", key, err)
	}
	return val, nil
}

// SetJSON 排队写入 JSON 文档
func (t *Txn) SetJSON(key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化文档 %s 失败: %w", key, err)
	}
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		return pipe.Set(t.ctx, key, string(data), 0).Err()
	})
	return nil
}

// SetString 排队写入字符串键
func (t *Txn) SetString(key, value string) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		return pipe.Set(t.ctx, key, value, 0).Err()
	})
}

// Del 排队删除键
func (t *Txn) Del(keys ...string) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		return pipe.Del(t.ctx, keys...).Err()
	})
}

// ZAdd 排队写入索引成员
func (t *Txn) ZAdd(key string, score float64, member string) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		return pipe.ZAdd(t.ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

// ZRem 排队移除索引成员
func (t *Txn) ZRem(key string, members ...interface{}) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		return pipe.ZRem(t.ctx, key, members...).Err()
	})
}

// Emit 登记一条变更事件，提交成功后发布
func (t *Txn) Emit(ev ChangeEvent) {
	t.events = append(t.events, ev)
}

// EmitDoc 序列化文档并登记变更事件
func (t *Txn) EmitDoc(collection, docID, kind string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化事件文档 %s/%s 失败: %w", collection, docID, err)
	}
	t.Emit(ChangeEvent{Collection: collection, DocID: docID, Kind: kind, Doc: data})
	return nil
}

// DocStore 乐观事务执行器。
type DocStore struct {
	rdb         *RedisClient
	maxAttempts int
	logger      *slog.Logger
}

// NewDocStore 创建文档库事务层
func NewDocStore(rdb *RedisClient, logger *slog.Logger) *DocStore {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := getEnvInt("MM_TXN_MAX_ATTEMPTS", defaultTxnMaxAttempts)
	return &DocStore{rdb: rdb, maxAttempts: maxAttempts, logger: logger}
}

// RunTxn 执行一次乐观事务: WATCH watchKeys -> 跑 body -> MULTI/EXEC 提交。
// 冲突 (redis.TxFailedErr) 时整体重跑 body，最多 maxAttempts 次；
// 事件在 EXEC 成功后发布，发布失败只记日志 (提交已落盘，订阅方有兜底轮询)。
func (s *DocStore) RunTxn(ctx context.Context, watchKeys []string, body func(t *Txn) error) error {
	var pending []ChangeEvent

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		pending = nil
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			t := &Txn{ctx: ctx, tx: tx}
			if err := body(t); err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range t.writes {
					if err := w(pipe); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}
			pending = t.events
			return nil
		}, watchKeys...)

		if err == redis.TxFailedErr {
			ObserveTxnConflict()
			continue
		}
		if err != nil {
			return err
		}

		s.publish(ctx, pending)
		return nil
	}

	ObserveTxnExhausted()
	return fmt.Errorf("事务在 %d 次冲突重试后放弃: %w", s.maxAttempts, common.ErrRetryable)
}

// GetJSON 事务外的单文档读取。不存在时返回 (false, nil)。
func (s *DocStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := s.rdb.Get(ctx, key)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("解析文档 %s 失败: %w", key, err)
	}
	return true, nil
}

func (s *DocStore) publish(ctx context.Context, events []ChangeEvent) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("序列化变更事件失败", "collection", ev.Collection, "doc_id", ev.DocID, "error", err)
			continue
		}
		if err := s.rdb.Publish(ctx, common.EventsChannel, string(payload)); err != nil {
			s.logger.Warn("发布变更事件失败", "collection", ev.Collection, "doc_id", ev.DocID, "error", err)
		}
	}
}

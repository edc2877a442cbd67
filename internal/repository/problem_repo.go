package repository

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultProblemCacheTTL = 5 * time.Minute

// ProblemRepo 题目目录。题目内容由别的服务管理，这里只需要 id 集合
// 用于配对时均匀随机选题。id 列表带 TTL 缓存，过期后经 singleflight
// 去重地刷新，避免一波并发配对打出一排相同查询。
type ProblemRepo struct {
	db  *PostgresDB
	sf  singleflight.Group
	ttl time.Duration

	mu        sync.Mutex
	ids       []int
	fetchedAt time.Time
}

// NewProblemRepo 创建题目目录
func NewProblemRepo(db *PostgresDB) *ProblemRepo {
	ttlSec := getEnvInt("PROBLEM_CACHE_TTL_SEC", int(defaultProblemCacheTTL/time.Second))
	return &ProblemRepo{db: db, ttl: time.Duration(ttlSec) * time.Second}
}

// RandomProblemID 均匀随机取一个题目 ID
func (r *ProblemRepo) RandomProblemID(ctx context.Context) (int, error) {
	ids, err := r.problemIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("题目目录为空")
	}
	return ids[rand.Intn(len(ids))], nil
}

func (r *ProblemRepo) problemIDs(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	if len(r.ids) > 0 && time.Since(r.fetchedAt) < r.ttl {
		ids := r.ids
		r.mu.Unlock()
		return ids, nil
	}
	r.mu.Unlock()

	result, err, _ := r.sf.Do("problem_ids", func() (interface{}, error) {
		ids, err := r.fetchIDs(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.ids = ids
		r.fetchedAt = time.Now()
		r.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		// 刷新失败时退回旧缓存，目录短暂陈旧好过配对失败
		r.mu.Lock()
		stale := r.ids
		r.mu.Unlock()
		if len(stale) > 0 {
			return stale, nil
		}
		return nil, fmt.Errorf("加载题目目录失败: %w", err)
	}
	return result.([]int), nil
}

func (r *ProblemRepo) fetchIDs(ctx context.Context) ([]int, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT id FROM problems ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

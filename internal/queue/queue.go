package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultName = "{herald}"

// Envelope — данные job в очереди.
//
// Очередь хранит только ссылку на job и параметры выполнения:
// воркер загружает актуальный job из хранилища jobs.
type Envelope struct {
	JobID          string `json:"job_id"`
	TransactionID  string `json:"transaction_id,omitempty"`
	EnvironmentID  string `json:"environment_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`

	// Presend — выполнить шаг без постановки следующего шага цепочки.
	Presend bool `json:"presend,omitempty"`

	RemoveOnComplete bool `json:"remove_on_complete"`
	RemoveOnFail     bool `json:"remove_on_fail"`

	// Delay — задержка при добавлении.
	Delay time.Duration `json:"delay,omitempty"`

	AddedAt time.Time `json:"added_at"`
}

// Stats — размеры очередей.
type Stats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
}

type keys struct {
	wait, active, delayed, locks, stalled, jobPrefix string
}

// Queue — очередь jobs в Redis.
type Queue struct {
	rdb    redis.UniversalClient
	keys   keys
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт очередь. prefix — общий префикс ключей хранилища (может быть пустым).
func New(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	base := prefix + defaultName + ":"
	return &Queue{
		rdb: rdb,
		keys: keys{
			wait:      base + "wait",
			active:    base + "active",
			delayed:   base + "delayed",
			locks:     base + "locks",
			stalled:   base + "stalled",
			jobPrefix: base + "job:",
		},
		logger: logger.With("component", "queue"),
		now:    time.Now,
	}
}

func (q *Queue) jobKey(id string) string {
	return q.keys.jobPrefix + id
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

// Add добавляет job в очередь.
//
// Повторное добавление job с тем же ID, пока он в очереди, ничего не делает.
// Envelope и ID в wait или delayed записываются атомарно (Lua скрипт).
// Возвращает true, если job добавлен.
func (q *Queue) Add(ctx context.Context, env *Envelope) (bool, error) {
	if env.JobID == "" {
		return false, ErrInvalidEnvelope
	}

	now := q.now()
	env.AddedAt = now.UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}

	var score int64
	if env.Delay > 0 {
		score = ms(now.Add(env.Delay))
	}

	added, err := addScript.Run(ctx, q.rdb,
		[]string{q.jobKey(env.JobID), q.keys.wait, q.keys.delayed},
		data, score, env.JobID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("add job %s: %w", env.JobID, err)
	}
	if added == 0 {
		q.logger.Debug("job already queued", "job_id", env.JobID)
		return false, nil
	}
	return true, nil
}

// addScript резервирует ID и ставит job в wait (score 0) или delayed одним
// вызовом. Envelope записывается последним: при ошибке постановки ключ
// envelope не создаётся.
//
// KEYS: envelope, wait, delayed. ARGV: envelope, score, job ID.
var addScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
else
	redis.call("LPUSH", KEYS[2], ARGV[3])
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// PromoteDue переносит созревшие отложенные jobs в очередь ожидания.
// Безопасно при нескольких конкурирующих вызовах: job переносит тот,
// чей ZREM удалил его из delayed.
func (q *Queue) PromoteDue(ctx context.Context, batch int64) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(ms(q.now()), 10),
		Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	claimed, err := q.claim(ctx, q.keys.delayed, ids)
	if err != nil {
		return 0, err
	}
	if err := q.pushWait(ctx, claimed); err != nil {
		return 0, err
	}
	return len(claimed), nil
}

// Reserve ждёт готовый job до timeout и выдаёт его с блокировкой на lockDuration.
// Пустая очередь — (nil, nil).
func (q *Queue) Reserve(ctx context.Context, timeout, lockDuration time.Duration) (*Envelope, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.keys.wait, q.keys.active, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	if err := q.rdb.ZAdd(ctx, q.keys.locks, redis.Z{
		Score:  float64(ms(q.now().Add(lockDuration))),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}

	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// envelope удалён (job уже завершён) — убираем осиротевший ID
		q.logger.Warn("reserved job without envelope", "job_id", id)
		return nil, q.release(ctx, id, false)
	}
	if err != nil {
		return nil, fmt.Errorf("load envelope %s: %w", id, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope %s: %w", id, err)
	}
	return &env, nil
}

// ExtendLock продлевает блокировку активного job.
// ErrLockLost — блокировка уже снята, job мог быть выдан повторно.
func (q *Queue) ExtendLock(ctx context.Context, jobID string, lockDuration time.Duration) error {
	updated, err := q.rdb.ZAddArgs(ctx, q.keys.locks, redis.ZAddArgs{
		XX: true,
		Ch: true,
		Members: []redis.Z{{
			Score:  float64(ms(q.now().Add(lockDuration))),
			Member: jobID,
		}},
	}).Result()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", jobID, err)
	}
	if updated > 0 {
		return nil
	}

	// CH не считает член с прежним score изменённым
	err = q.rdb.ZScore(ctx, q.keys.locks, jobID).Err()
	if errors.Is(err, redis.Nil) {
		return ErrLockLost
	}
	if err != nil {
		return fmt.Errorf("check lock %s: %w", jobID, err)
	}
	return nil
}

// Complete снимает job из активных после успешного выполнения.
func (q *Queue) Complete(ctx context.Context, env *Envelope) error {
	return q.release(ctx, env.JobID, env.RemoveOnComplete)
}

// Fail снимает job из активных после ошибки выполнения.
func (q *Queue) Fail(ctx context.Context, env *Envelope) error {
	return q.release(ctx, env.JobID, env.RemoveOnFail)
}

func (q *Queue) release(ctx context.Context, jobID string, remove bool) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.keys.active, 0, jobID)
	pipe.ZRem(ctx, q.keys.locks, jobID)
	pipe.SRem(ctx, q.keys.stalled, jobID)
	if remove {
		pipe.Del(ctx, q.jobKey(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return nil
}

// RequeueStalled возвращает в очередь брошенные jobs:
//  1. jobs с истёкшей блокировкой
//  2. активные jobs без блокировки, замеченные в предыдущей проверке
//     (воркер упал между выдачей и установкой блокировки)
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	// 1. Истёкшие блокировки
	expired, err := q.rdb.ZRangeByScore(ctx, q.keys.locks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(q.now()), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired locks: %w", err)
	}

	claimed, err := q.claim(ctx, q.keys.locks, expired)
	if err != nil {
		return 0, err
	}

	// 2. Активные без блокировки
	active, err := q.rdb.LRange(ctx, q.keys.active, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}
	suspects, err := q.unlocked(ctx, active, claimed)
	if err != nil {
		return 0, err
	}

	var confirmed, fresh []string
	if len(suspects) > 0 {
		seen, err := q.rdb.SMIsMember(ctx, q.keys.stalled, toAny(suspects)...).Result()
		if err != nil {
			return 0, fmt.Errorf("check stalled: %w", err)
		}
		for i, id := range suspects {
			if seen[i] {
				confirmed = append(confirmed, id)
			} else {
				fresh = append(fresh, id)
			}
		}
	}

	// стейт следующей проверки — только новые подозреваемые
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, q.keys.stalled)
	if len(fresh) > 0 {
		pipe.SAdd(ctx, q.keys.stalled, toAny(fresh)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("mark stalled: %w", err)
	}

	requeue := append(claimed, confirmed...)
	if len(requeue) == 0 {
		return 0, nil
	}

	pipe = q.rdb.TxPipeline()
	for _, id := range requeue {
		pipe.LRem(ctx, q.keys.active, 0, id)
		pipe.LPush(ctx, q.keys.wait, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}

	q.logger.Warn("stalled jobs requeued", "count", len(requeue))
	return len(requeue), nil
}

// Stats возвращает размеры очередей.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.keys.wait)
	active := pipe.LLen(ctx, q.keys.active)
	delayed := pipe.ZCard(ctx, q.keys.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting: wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}, nil
}

// claim удаляет ids из zset и возвращает те, что удалил этот вызов.
func (q *Queue) claim(ctx context.Context, key string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.rdb.TxPipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.ZRem(ctx, key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}

	claimed := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			claimed = append(claimed, ids[i])
		}
	}
	return claimed, nil
}

func (q *Queue) pushWait(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.LPush(ctx, q.keys.wait, toAny(ids)...).Err(); err != nil {
		return fmt.Errorf("push wait: %w", err)
	}
	return nil
}

// unlocked возвращает активные ids без блокировки, кроме skip.
func (q *Queue) unlocked(ctx context.Context, active, skip []string) ([]string, error) {
	if len(active) == 0 {
		return nil, nil
	}

	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.FloatCmd, len(active))
	for i, id := range active {
		cmds[i] = pipe.ZScore(ctx, q.keys.locks, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("check locks: %w", err)
	}

	var out []string
	for i, cmd := range cmds {
		if _, ok := skipped[active[i]]; ok {
			continue
		}
		if errors.Is(cmd.Err(), redis.Nil) {
			out = append(out, active[i])
		}
	}
	return out, nil
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

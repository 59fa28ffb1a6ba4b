// Package queue — очередь step jobs поверх Redis.
//
// Все ключи очереди содержат hash tag {herald} и попадают в один слот
// кластера, поэтому BRPOPLPUSH и транзакции работают и в cluster топологии.
//
// Ключи:
//
//	<prefix>{herald}:wait     LIST  — jobs, готовые к выполнению
//	<prefix>{herald}:active   LIST  — выданные воркерам jobs
//	<prefix>{herald}:delayed  ZSET  — отложенные jobs (score = время готовности, unix ms)
//	<prefix>{herald}:locks    ZSET  — блокировки активных jobs (score = истечение, unix ms)
//	<prefix>{herald}:stalled  SET   — активные jobs без блокировки (кандидаты на возврат)
//	<prefix>{herald}:job:<id> STRING — envelope job (JSON)
//
// Жизненный цикл:
//
//	Add → delayed/wait → PromoteDue → wait → Reserve → active → Complete/Fail
//	                                                      ↓ (блокировка истекла)
//	                                               RequeueStalled → wait
//
// Гарантия — at-least-once: job, чья блокировка истекла, выдаётся повторно.
package queue

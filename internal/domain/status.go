package domain

// JobStatus — статус step job.
//
// Жизненный цикл:
//
//	PENDING → QUEUED → RUNNING → COMPLETED
//	        ↘ DELAYED ↗        ↘ FAILED
//	(любой нетерминальный) → CANCELED
//
// Переходы только вперёд. CANCELED выставляется извне (отмена транзакции)
// и проверяется воркером кооперативно, перед началом выполнения.
type JobStatus string

const (
	// JobStatusPending — job создан, но ещё не передан в очередь.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusQueued — job в очереди на немедленное выполнение.
	JobStatusQueued JobStatus = "QUEUED"

	// JobStatusDelayed — job ждёт окончания delay или digest окна.
	JobStatusDelayed JobStatus = "DELAYED"

	// JobStatusRunning — job выполняется воркером.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — job успешно завершён.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — выполнение job завершилось ошибкой.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCanceled — job отменён до начала выполнения.
	JobStatusCanceled JobStatus = "CANCELED"
)

// rank — порядок статусов для проверки монотонности переходов.
var rank = map[JobStatus]int{
	JobStatusPending:   0,
	JobStatusQueued:    1,
	JobStatusDelayed:   1,
	JobStatusRunning:   2,
	JobStatusCompleted: 3,
	JobStatusFailed:    3,
	JobStatusCanceled:  3,
}

// lifecycle — все статусы в порядке жизненного цикла.
var lifecycle = []JobStatus{
	JobStatusPending,
	JobStatusQueued,
	JobStatusDelayed,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCanceled,
}

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s JobStatus) IsValid() bool {
	_, ok := rank[s]
	return ok
}

// CanTransitionTo проверяет допустимость перехода s → next.
//
// Из терминального статуса выйти нельзя. В CANCELED можно перейти
// из любого нетерминального. DELAYED → QUEUED допустим (окно закрылось,
// job передан на выполнение).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == JobStatusCanceled {
		return true
	}
	if s == JobStatusDelayed && next == JobStatusQueued {
		return true
	}
	return rank[next] > rank[s]
}

// CanUpdateTo проверяет, что запись статуса next поверх s допустима:
// переход вперёд либо повторная запись того же нетерминального статуса
// (job доставлен повторно после потери блокировки).
func (s JobStatus) CanUpdateTo(next JobStatus) bool {
	if s == next {
		return s.IsValid() && !s.IsTerminal()
	}
	return s.CanTransitionTo(next)
}

// Predecessors возвращает статусы, из которых job можно перевести в next.
// Для неизвестного статуса возвращает пустой слайс.
func Predecessors(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range lifecycle {
		if s.CanUpdateTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// ParseJobStatus парсит строку в JobStatus.
// Возвращает false для неизвестного значения.
func ParseJobStatus(s string) (JobStatus, bool) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", false
	}
	return status, true
}

package scheduler

import (
	"encoding/json"
	"math"

	"github.com/shaiso/Herald/internal/domain"
)

// OverrideDelayKey — ключ переопределения delay в Job.Overrides.
const OverrideDelayKey = "delay"

// ToMilliseconds переводит длительность в миллисекунды.
// Множители единиц считаются от секунд: minutes ×60, hours ×3600, days ×86400.
// Неизвестная единица трактуется как секунды.
func ToMilliseconds(amount int64, unit domain.DigestUnit) int64 {
	return amount * unitMillis(unit)
}

func unitMillis(unit domain.DigestUnit) int64 {
	switch unit {
	case domain.DigestUnitMinutes:
		return 60 * 1000
	case domain.DigestUnitHours:
		return 60 * 60 * 1000
	case domain.DigestUnitDays:
		return 24 * 60 * 60 * 1000
	default:
		return 1000
	}
}

// DelayOverride извлекает переопределение delay из overrides.
//
// Переопределение действительно, только если amount — неотрицательное
// целое число, unit — известная единица и delay в миллисекундах
// помещается в int64. Иначе ok = false и используется delay из метаданных шага.
func DelayOverride(overrides map[string]any) (amount int64, unit domain.DigestUnit, ok bool) {
	raw, found := overrides[OverrideDelayKey].(map[string]any)
	if !found {
		return 0, "", false
	}

	amount, ok = toInt64(raw["amount"])
	if !ok {
		return 0, "", false
	}

	s, isString := raw["unit"].(string)
	unit = domain.DigestUnit(s)
	if !isString || !unit.IsValid() {
		return 0, "", false
	}
	if amount > math.MaxInt64/unitMillis(unit) {
		return 0, "", false
	}
	return amount, unit, true
}

// EffectiveDelayMs возвращает delay job в миллисекундах:
// переопределение вызывающей стороны, если оно действительно, иначе метаданные шага.
func EffectiveDelayMs(job *domain.Job) int64 {
	if amount, unit, ok := DelayOverride(job.Overrides); ok {
		return ToMilliseconds(amount, unit)
	}
	return ToMilliseconds(job.Step.Metadata.Amount, job.Step.Metadata.Unit)
}

// toInt64 принимает только неотрицательные целые значения.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	case float64:
		// float64(math.MaxInt64) == 2^63, уже вне диапазона
		if n != math.Trunc(n) || n < 0 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i >= 0
	default:
		return 0, false
	}
}

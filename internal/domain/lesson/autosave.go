package lesson

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTO-SAVE CURSOR
// ══════════════════════════════════════════════════════════════════════════════

// AutoSaveCursor отслеживает попытки синхронизации с бэкендом.
// Принадлежит планировщику автосохранения; сбрасывается при смене урока.
type AutoSaveCursor struct {
	// LastAttemptAt - время последней попытки записи.
	LastAttemptAt time.Time

	// LastSuccessAt - время последней успешной записи.
	LastSuccessAt time.Time

	// Attempts - количество попыток за время жизни представления.
	Attempts int

	// Failures - количество неуспешных попыток.
	Failures int
}

// RecordAttempt фиксирует начало попытки записи.
func (c *AutoSaveCursor) RecordAttempt(at time.Time) {
	c.LastAttemptAt = at
	c.Attempts++
}

// RecordSuccess фиксирует успешную запись.
func (c *AutoSaveCursor) RecordSuccess(at time.Time) {
	c.LastSuccessAt = at
}

// RecordFailure фиксирует неуспешную запись. Сбой не блокирует локальное
// накопление: следующий плановый тик повторит попытку.
func (c *AutoSaveCursor) RecordFailure() {
	c.Failures++
}

// Reset обнуляет курсор при смене идентичности урока.
func (c *AutoSaveCursor) Reset() {
	*c = AutoSaveCursor{}
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE GATING
// ══════════════════════════════════════════════════════════════════════════════

// SavePolicy - политика пропуска записей. Снимки ниже порога вычисляются
// локально, но намеренно не отправляются в сеть: сигнал, по построению
// ещё не действенный, не должен порождать лавину записей.
type SavePolicy struct {
	// Threshold - порог завершения урока.
	Threshold Threshold
}

// ShouldSync решает, передавать ли синхронизацию. Запись уходит в сеть,
// когда выполняется хотя бы одно из условий:
//
//	(a) вызывающий форсирует запись (явное действие учащегося);
//	(b) оценка урока достигла порога завершения;
//	(c) максимальный прогресс чтения достиг 100%.
func (p SavePolicy) ShouldSync(lessonScore, maxReadingProgress float64, forced bool) bool {
	if forced {
		return true
	}
	if p.Threshold.Reached(lessonScore) {
		return true
	}
	return maxReadingProgress >= 100
}

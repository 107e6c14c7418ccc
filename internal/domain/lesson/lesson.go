// Package lesson содержит доменную модель прогресса урока Afritech Bridge.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package lesson

import (
	"errors"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID представляет уникальный идентификатор урока в LMS.
type ID string

// IsValid проверяет корректность идентификатора урока.
func (id ID) IsValid() bool {
	s := string(id)
	return len(s) >= 1 && len(s) <= 64 && !strings.ContainsAny(s, " \t\n\r/")
}

// String возвращает строковое представление идентификатора.
func (id ID) String() string {
	return string(id)
}

// ClampPercent приводит значение к диапазону [0, 100].
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// clampFraction приводит значение к диапазону [0, 1].
func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT SHAPE
// ══════════════════════════════════════════════════════════════════════════════

// ContentShape описывает, какие оцениваемые компоненты объявляет урок.
// От формы контента зависят веса итоговой оценки (см. progress.go).
type ContentShape struct {
	// HasQuiz - урок содержит квиз.
	HasQuiz bool

	// HasAssignment - урок содержит практическое задание.
	HasAssignment bool
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION THRESHOLD
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCompletionThreshold - порог автозавершения урока по умолчанию (80%).
const DefaultCompletionThreshold = 80.0

// Threshold представляет порог завершения урока в процентах.
type Threshold float64

// NewThreshold создаёт порог завершения. Нулевое значение означает
// "использовать порог по умолчанию".
func NewThreshold(v float64) (Threshold, error) {
	if v == 0 {
		return Threshold(DefaultCompletionThreshold), nil
	}
	if v < 0 || v > 100 {
		return 0, ErrThresholdOutOfRange
	}
	return Threshold(v), nil
}

// Reached проверяет, достигнут ли порог указанной оценкой.
func (t Threshold) Reached(score float64) bool {
	return score >= float64(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidLessonID - невалидный идентификатор урока.
	ErrInvalidLessonID = errors.New("invalid lesson id")

	// ErrThresholdOutOfRange - порог завершения вне диапазона (0, 100].
	ErrThresholdOutOfRange = errors.New("completion threshold must be within (0, 100]")

	// ErrViewFrozen - представление урока заморожено после завершения.
	ErrViewFrozen = errors.New("lesson view is frozen after completion")

	// ErrCompletionInFlight - запрос завершения уже выполняется.
	ErrCompletionInFlight = errors.New("completion request already in flight")

	// ErrNotTracking - завершение возможно только из состояния Tracking.
	ErrNotTracking = errors.New("completion allowed only while tracking")
)

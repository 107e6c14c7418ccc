// Package eventhandler содержит обработчики доменных событий.
// Обработчики — "реактивная" часть системы: движок трекинга публикует
// события, а побочные эффекты (запись итогов, мониторинг сбоев)
// живут здесь и никогда не блокируют сам движок.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LESSON COMPLETED HANDLER
// Фиксирует подтверждённое завершение урока в хранилище итогов.
// LMS — источник истины; локальная запись нужна для отчётности
// и диагностики без обращения к бэкенду.
// ═══════════════════════════════════════════════════════════════════════════

// CompletionOutcome — подтверждённое завершение урока.
type CompletionOutcome struct {
	StudentID        string
	LessonID         string
	Method           string
	FinalScore       *float64
	TimeSpentSeconds int
	CompletedAt      time.Time
}

// OutcomeStore — хранилище итогов завершения.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, o CompletionOutcome) error
}

// OnLessonCompletedHandler обрабатывает событие завершения урока.
type OnLessonCompletedHandler struct {
	store  OutcomeStore
	logger *slog.Logger

	// StoreTimeout ограничивает время записи итога.
	storeTimeout time.Duration
}

// NewOnLessonCompletedHandler создаёт новый обработчик.
func NewOnLessonCompletedHandler(store OutcomeStore, logger *slog.Logger) *OnLessonCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnLessonCompletedHandler{
		store:        store,
		logger:       logger.With("handler", "on_lesson_completed"),
		storeTimeout: 5 * time.Second,
	}
}

// Handle обрабатывает событие завершения урока.
// Реализует интерфейс shared.EventHandler.
func (h *OnLessonCompletedHandler) Handle(event shared.Event) error {
	completedEvent, ok := event.(shared.LessonCompletedEvent)
	if !ok {
		h.logger.Warn("received non-LessonCompletedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	h.logger.Info("processing lesson completed event",
		"student_id", completedEvent.StudentID,
		"lesson_id", completedEvent.LessonID,
		"final_score", completedEvent.FinalScore,
		"method", completedEvent.Method,
	)

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	finalScore := completedEvent.FinalScore
	outcome := CompletionOutcome{
		StudentID:        completedEvent.StudentID,
		LessonID:         completedEvent.LessonID,
		Method:           completedEvent.Method,
		FinalScore:       &finalScore,
		TimeSpentSeconds: completedEvent.TimeSpentSeconds,
		CompletedAt:      completedEvent.OccurredAt(),
	}

	if err := h.store.RecordOutcome(ctx, outcome); err != nil {
		// Итог не критичен: бэкенд уже подтвердил завершение.
		h.logger.Error("failed to record completion outcome",
			"student_id", completedEvent.StudentID,
			"lesson_id", completedEvent.LessonID,
			"error", err,
		)
		return err
	}

	return nil
}

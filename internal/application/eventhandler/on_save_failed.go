// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"sync"

	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SAVE FAILED HANDLER
// Следит за подряд идущими сбоями автосохранения по каждой сессии.
// Одиночный сбой — норма (движок повторит через интервал), но серия
// сбоев означает деградацию бэкенда и должна быть видна в логах
// до того, как студент потеряет несохранённый прогресс.
// ═══════════════════════════════════════════════════════════════════════════

// SaveFailedConfig содержит конфигурацию обработчика.
type SaveFailedConfig struct {
	// EscalateAfter — сколько подряд идущих сбоев считать деградацией.
	EscalateAfter int
}

// DefaultSaveFailedConfig возвращает конфигурацию по умолчанию.
func DefaultSaveFailedConfig() SaveFailedConfig {
	return SaveFailedConfig{
		EscalateAfter: 3,
	}
}

// OnSaveFailedHandler обрабатывает события сохранения прогресса.
type OnSaveFailedHandler struct {
	logger *slog.Logger
	config SaveFailedConfig

	mu       sync.Mutex
	failures map[string]int // session ID -> подряд идущие сбои
}

// NewOnSaveFailedHandler создаёт новый обработчик.
func NewOnSaveFailedHandler(logger *slog.Logger, config SaveFailedConfig) *OnSaveFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EscalateAfter <= 0 {
		config.EscalateAfter = DefaultSaveFailedConfig().EscalateAfter
	}

	return &OnSaveFailedHandler{
		logger:   logger.With("handler", "on_save_failed"),
		config:   config,
		failures: make(map[string]int),
	}
}

// Handle обрабатывает событие сбоя или успеха сохранения.
// Реализует интерфейс shared.EventHandler. Обработчик подписывается
// на оба типа: успех сбрасывает счётчик сбоев сессии.
func (h *OnSaveFailedHandler) Handle(event shared.Event) error {
	switch ev := event.(type) {
	case shared.ProgressSaveFailedEvent:
		h.onFailure(ev)
	case shared.ProgressSavedEvent:
		h.onSuccess(ev.AggregateID())
	case shared.SessionClosedEvent:
		h.forget(ev.AggregateID())
	}
	return nil
}

func (h *OnSaveFailedHandler) onFailure(ev shared.ProgressSaveFailedEvent) {
	h.mu.Lock()
	h.failures[ev.AggregateID()]++
	count := h.failures[ev.AggregateID()]
	h.mu.Unlock()

	if count >= h.config.EscalateAfter {
		h.logger.Error("backend save degraded, progress accrues locally only",
			"session_id", ev.AggregateID(),
			"lesson_id", ev.LessonID,
			"consecutive_failures", count,
			"reason", ev.Reason,
		)
		return
	}

	h.logger.Warn("progress save failed",
		"session_id", ev.AggregateID(),
		"lesson_id", ev.LessonID,
		"consecutive_failures", count,
		"reason", ev.Reason,
	)
}

func (h *OnSaveFailedHandler) onSuccess(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, sessionID)
}

func (h *OnSaveFailedHandler) forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, sessionID)
}

package lesson

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION STATES
// ══════════════════════════════════════════════════════════════════════════════

// State определяет состояние машины завершения урока.
type State string

const (
	// StateLoading - загружается ранее сохранённый прогресс.
	StateLoading State = "loading"
	// StateTracking - обычное накопление прогресса.
	StateTracking State = "tracking"
	// StateCompleting - запрос завершения выполняется.
	StateCompleting State = "completing"
	// StateCompleted - завершение подтверждено бэкендом (терминальное).
	StateCompleted State = "completed"
	// StateFailed - невосстановимая ошибка завершения (терминальное).
	StateFailed State = "failed"
)

// IsValid проверяет корректность состояния.
func (s State) IsValid() bool {
	switch s {
	case StateLoading, StateTracking, StateCompleting, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// Terminal возвращает true для терминальных состояний.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURE TAXONOMY
// ══════════════════════════════════════════════════════════════════════════════

// FailureKind классифицирует ошибку границы с бэкендом. Каждая сетевая
// ошибка превращается в один из этих видов до того, как достигнет
// хост-представления - необработанных сбоев не бывает.
type FailureKind string

const (
	// FailureAuthNotReady - учётные данные ещё не доступны. Транзиентная:
	// повтор через короткое время, состояние не повреждается.
	FailureAuthNotReady FailureKind = "auth_not_ready"

	// FailureRequirementsNotMet - бэкенд принял прогресс, но отказал в
	// завершении (например, не пройден квиз). Состояние возвращается
	// в Tracking, не в Failed.
	FailureRequirementsNotMet FailureKind = "requirements_not_met"

	// FailureQuizRequired - требуется пройти квиз; хост-представление
	// может перенаправить учащегося. Нефатальная.
	FailureQuizRequired FailureKind = "quiz_required"

	// FailureAssignmentRequired - требуется сдать задание. Нефатальная.
	FailureAssignmentRequired FailureKind = "assignment_required"

	// FailureNetwork - общая сетевая/серверная ошибка. Логируется,
	// состояние возвращается в Tracking, локальный прогресс не теряется.
	FailureNetwork FailureKind = "network_error"

	// FailureRejected - бэкенд окончательно отверг завершение
	// (урок не найден, учащийся не записан). Единственный вид,
	// ведущий в терминальное Failed.
	FailureRejected FailureKind = "rejected"
)

// Recoverable возвращает true, если после ошибки накопление прогресса
// и повторные попытки продолжаются в обычном режиме.
func (k FailureKind) Recoverable() bool {
	return k != FailureRejected
}

// Failure - классифицированная ошибка завершения, доставляемая
// хост-представлению структурированным колбэком.
type Failure struct {
	// Kind - вид ошибки из таксономии.
	Kind FailureKind

	// Message - человекочитаемое сообщение бэкенда.
	Message string

	// MissingRequirements - недостающие компоненты ("quiz", "assignment").
	MissingRequirements []string

	// CurrentScores - текущие оценки компонентов по данным бэкенда.
	CurrentScores map[string]float64

	// AssessmentID - идентификатор требуемого квиза/задания, если есть.
	AssessmentID string
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND RESULT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// PersistedProgress - прогресс, сохранённый бэкендом ранее.
// Засеивает MonotonicState и CompletionRecord при открытии урока.
type PersistedProgress struct {
	ReadingProgress  float64
	EngagementScore  float64
	ScrollProgress   float64
	TimeSpentSeconds int
	LessonScore      *float64
	QuizScore        *float64
	AssignmentScore  *float64
	Completed        bool
}

// SaveAck - ответ бэкенда на запись автосохранения. Бэкенд может
// завершить урок как побочный эффект записи.
type SaveAck struct {
	// AutoCompleted - бэкенд автозавершил урок этой записью.
	AutoCompleted bool

	// CompletionMessage - сообщение о завершении, если было.
	CompletionMessage string

	// FinalScore - итоговая оценка при автозавершении.
	FinalScore *float64

	// NextLessonUnlocked - запись разблокировала следующий урок.
	NextLessonUnlocked bool

	// NextLessonID - идентификатор разблокированного урока.
	NextLessonID string
}

// Confirmation - подтверждение завершения от бэкенда.
type Confirmation struct {
	Completed       bool
	ProgressSaved   bool
	FinalScore      *float64
	NewAchievements []string
	NextLessonID    string
	NextUnlocked    bool
	Message         string
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION RECORD
// ══════════════════════════════════════════════════════════════════════════════

// CompletionMethod - способ инициации завершения.
type CompletionMethod string

const (
	// MethodAutomatic - автозавершение по порогу оценки.
	MethodAutomatic CompletionMethod = "automatic"
	// MethodManual - явное действие учащегося.
	MethodManual CompletionMethod = "manual"
)

// CompletionRecord - сущность жизненного цикла завершения урока.
// Создаётся при открытии представления урока, мутируется только машиной
// состояний, никогда не удаляется: при смене урока создаётся новая запись
// с независимой идентичностью. После подтверждения завершения запись
// замораживается до перехода к другому уроку.
type CompletionRecord struct {
	// LessonID - урок, к которому относится запись.
	LessonID ID

	// State - текущее состояние машины завершения.
	State State

	// IsCompleted - авторитетный флаг после подтверждения бэкендом.
	IsCompleted bool

	// FinalScore - итоговая оценка, зафиксированная при завершении.
	FinalScore float64

	// Method - способ завершения.
	Method CompletionMethod

	// Requirements - недостающие компоненты, блокирующие завершение.
	Requirements []string

	// NextLessonID - разблокированный следующий урок, если есть.
	NextLessonID string

	// NextLessonUnlocked - следующий урок разблокирован.
	NextLessonUnlocked bool

	// Achievements - достижения, выданные при завершении.
	Achievements []string

	// LastFailure - последняя классифицированная ошибка, если была.
	LastFailure *Failure

	// CompletedAt - время подтверждения завершения.
	CompletedAt time.Time
}

// NewCompletionRecord создаёт запись для нового представления урока
// в состоянии Loading.
func NewCompletionRecord(lessonID ID) (*CompletionRecord, error) {
	if !lessonID.IsValid() {
		return nil, ErrInvalidLessonID
	}
	return &CompletionRecord{
		LessonID: lessonID,
		State:    StateLoading,
	}, nil
}

// Frozen возвращает true, если запись заморожена (дальнейшие мутации
// запрещены до смены урока).
func (r *CompletionRecord) Frozen() bool {
	return r.State == StateCompleted
}

// FinishLoading переводит Loading -> Tracking. Вызывается когда запрос
// ранее сохранённого прогресса разрешился - успехом или ошибкой: сбой
// чтения не должен блокировать учащегося.
func (r *CompletionRecord) FinishLoading(prior *PersistedProgress) error {
	if r.State != StateLoading {
		return ErrNotTracking
	}

	// Урок уже завершён в прошлой сессии - сразу терминальное состояние.
	if prior != nil && prior.Completed {
		r.State = StateCompleted
		r.IsCompleted = true
		if prior.LessonScore != nil {
			r.FinalScore = *prior.LessonScore
		}
		return nil
	}

	r.State = StateTracking
	return nil
}

// BeginCompletion переводит Tracking -> Completing. Повторный вход при
// уже выполняющемся запросе подавляется.
func (r *CompletionRecord) BeginCompletion(method CompletionMethod) error {
	switch r.State {
	case StateCompleting:
		return ErrCompletionInFlight
	case StateCompleted:
		return ErrViewFrozen
	case StateTracking:
		r.State = StateCompleting
		r.Method = method
		return nil
	default:
		return ErrNotTracking
	}
}

// Confirm переводит Completing -> Completed по подтверждению бэкенда.
// Повторное завершение уже завершённого урока - успех, не ошибка.
func (r *CompletionRecord) Confirm(c Confirmation, at time.Time) error {
	if r.State != StateCompleting {
		return ErrNotTracking
	}

	r.State = StateCompleted
	r.IsCompleted = true
	r.Requirements = nil
	r.LastFailure = nil
	r.CompletedAt = at
	if c.FinalScore != nil {
		r.FinalScore = *c.FinalScore
	}
	r.NextLessonID = c.NextLessonID
	r.NextLessonUnlocked = c.NextUnlocked
	r.Achievements = c.NewAchievements
	return nil
}

// Revert переводит Completing -> Tracking после восстановимой ошибки:
// накопление и последующие попытки продолжаются в обычном режиме.
func (r *CompletionRecord) Revert(f Failure) error {
	if r.State != StateCompleting {
		return ErrNotTracking
	}
	if !f.Kind.Recoverable() {
		r.State = StateFailed
		r.LastFailure = &f
		return nil
	}

	r.State = StateTracking
	r.LastFailure = &f
	if len(f.MissingRequirements) > 0 {
		r.Requirements = f.MissingRequirements
	}
	return nil
}

// ConfirmAutoCompleted обрабатывает автозавершение, о котором бэкенд
// сообщил в ответе на автосохранение: Tracking -> Completed напрямую,
// минуя Completing - запрос завершения не выполнялся.
func (r *CompletionRecord) ConfirmAutoCompleted(ack SaveAck, at time.Time) error {
	if r.State != StateTracking {
		return ErrNotTracking
	}

	r.State = StateCompleted
	r.IsCompleted = true
	r.Method = MethodAutomatic
	r.CompletedAt = at
	if ack.FinalScore != nil {
		r.FinalScore = *ack.FinalScore
	}
	r.NextLessonID = ack.NextLessonID
	r.NextLessonUnlocked = ack.NextLessonUnlocked
	return nil
}

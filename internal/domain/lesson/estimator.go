package lesson

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ESTIMATION CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// ScrollRampSeconds - окно линейного роста временной замены скролла
	// для нескроллируемого контента: 100% за 180 секунд.
	ScrollRampSeconds = 180.0

	// ReadingRampSeconds - окно линейного роста временного сигнала чтения:
	// медленный читатель без скролла набирает 100% за 300 секунд.
	ReadingRampSeconds = 300.0

	// EngagementTimeCeilingSeconds - потолок временного фактора вовлечённости.
	EngagementTimeCeilingSeconds = 600.0

	// InteractionCap - количество взаимодействий, дающее максимум фактора.
	InteractionCap = 10.0

	// ConsistencyCapSeconds - потолок накопленных секунд активного чтения.
	ConsistencyCapSeconds = 100.0

	// ConsistencyGraceSeconds - льготный период: до его истечения секунды
	// активного чтения начисляются только при движении скролла.
	ConsistencyGraceSeconds = 10.0
)

// Веса факторов вовлечённости. При наличии видео-телеметрии доминирует
// фактор просмотра видео, остальные доли перераспределяются.
const (
	weightScroll      = 0.30
	weightTime        = 0.30
	weightInteraction = 0.20
	weightConsistency = 0.20

	videoWeightVideo       = 0.40
	videoWeightScroll      = 0.20
	videoWeightTime        = 0.20
	videoWeightInteraction = 0.10
	videoWeightConsistency = 0.10
)

// ══════════════════════════════════════════════════════════════════════════════
// RAW INPUTS
// ══════════════════════════════════════════════════════════════════════════════

// Telemetry - сырые сигналы от хост-представления на момент тика.
// Отсутствующие сигналы остаются нулевыми и деградируют до нулевого вклада.
type Telemetry struct {
	// ScrollTop - текущее смещение прокрутки контента (px).
	ScrollTop float64

	// ScrollHeight - полная высота прокручиваемого контента (px).
	ScrollHeight float64

	// ClientHeight - высота видимой области (px).
	ClientHeight float64

	// Interactions - количество зарегистрированных событий взаимодействия.
	Interactions int

	// VideoProgress - процент просмотра видео (0-100), если есть видео.
	VideoProgress float64

	// VideoCurrentTime - текущая позиция видео в секундах.
	VideoCurrentTime float64

	// VideoDuration - длительность видео в секундах.
	VideoDuration float64

	// VideoCompleted - видео досмотрено до конца.
	VideoCompleted bool
}

// HasVideo возвращает true, если видео-телеметрия присутствует и ненулевая.
func (t Telemetry) HasVideo() bool {
	return t.VideoProgress > 0
}

// Scrollable возвращает true, если контент выше видимой области
// и сигнал скролла осмыслен.
func (t Telemetry) Scrollable() bool {
	return t.ScrollHeight > t.ClientHeight && t.ScrollHeight-t.ClientHeight > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// ProgressSnapshot - результат работы оценщика за один тик.
// Все процентные значения приведены к диапазону [0, 100].
type ProgressSnapshot struct {
	// ScrollProgress - процент просмотренного контента (или временная
	// замена для нескроллируемого контента).
	ScrollProgress float64

	// ReadingProgress - комбинированный сигнал чтения.
	ReadingProgress float64

	// EngagementScore - взвешенная оценка вовлечённости.
	EngagementScore float64

	// TimeSpentSeconds - секунды с начала просмотра урока.
	// Монотонно растёт.
	TimeSpentSeconds int
}

// ══════════════════════════════════════════════════════════════════════════════
// ESTIMATOR
// ══════════════════════════════════════════════════════════════════════════════

// Estimator вычисляет ProgressSnapshot из сырых сигналов на каждом тике.
// Чистая функция от входов и прошедшего времени, за одним исключением:
// накопленные секунды активного чтения - намеренно внутреннее состояние,
// растущее только вперёд.
//
// Оценщик не трогает монотонные максимумы (это работа MonotonicState)
// и не выполняет сетевых вызовов.
type Estimator struct {
	// activeReadingSeconds - накопленные секунды активного чтения.
	activeReadingSeconds float64

	// lastScrollTop - смещение скролла на предыдущем тике.
	lastScrollTop float64

	// lastElapsed - прошедшее время на предыдущем тике.
	lastElapsed time.Duration

	// observed - был ли уже хотя бы один тик.
	observed bool
}

// NewEstimator создаёт оценщик с нулевым накопленным состоянием.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Observe вычисляет снимок прогресса для прошедшего времени elapsed
// и сырых сигналов t. Вызывается раз в тик.
func (e *Estimator) Observe(elapsed time.Duration, t Telemetry) ProgressSnapshot {
	elapsedSec := elapsed.Seconds()
	if elapsedSec < 0 {
		elapsedSec = 0
	}

	scroll := e.scrollSignal(elapsedSec, t)
	reading := e.readingSignal(elapsedSec, scroll)
	e.accrueConsistency(elapsedSec, t)
	engagement := e.engagementSignal(elapsedSec, scroll, t)

	e.lastScrollTop = t.ScrollTop
	e.lastElapsed = elapsed
	e.observed = true

	return ProgressSnapshot{
		ScrollProgress:   scroll,
		ReadingProgress:  reading,
		EngagementScore:  engagement,
		TimeSpentSeconds: int(elapsedSec),
	}
}

// scrollSignal вычисляет сигнал прокрутки. Для контента короче окна
// просмотра прогресс растёт линейно по времени, чтобы короткие уроки
// не застревали на нуле.
func (e *Estimator) scrollSignal(elapsedSec float64, t Telemetry) float64 {
	if t.Scrollable() {
		return ClampPercent(t.ScrollTop / (t.ScrollHeight - t.ClientHeight) * 100)
	}
	return ClampPercent(elapsedSec / ScrollRampSeconds * 100)
}

// readingSignal комбинирует сигнал скролла с временным сигналом:
// читатель без скролла всё равно набирает прогресс.
func (e *Estimator) readingSignal(elapsedSec, scroll float64) float64 {
	timeProgress := ClampPercent(elapsedSec / ReadingRampSeconds * 100)
	if scroll > timeProgress {
		return scroll
	}
	return timeProgress
}

// accrueConsistency начисляет секунды активного чтения. Начисление идёт
// только вперёд: при движении скролла с прошлого тика либо после
// истечения льготного периода.
func (e *Estimator) accrueConsistency(elapsedSec float64, t Telemetry) {
	if !e.observed {
		return
	}

	delta := elapsedSec - e.lastElapsed.Seconds()
	if delta <= 0 {
		return
	}

	scrollMoved := t.ScrollTop != e.lastScrollTop
	if !scrollMoved && elapsedSec <= ConsistencyGraceSeconds {
		return
	}

	e.activeReadingSeconds += delta
	if e.activeReadingSeconds > ConsistencyCapSeconds {
		e.activeReadingSeconds = ConsistencyCapSeconds
	}
}

// engagementSignal вычисляет взвешенную оценку вовлечённости из
// нормализованных факторов, каждый приведён к [0, 1] до взвешивания.
func (e *Estimator) engagementSignal(elapsedSec, scroll float64, t Telemetry) float64 {
	scrollFrac := clampFraction(scroll / 100)
	timeFrac := clampFraction(elapsedSec / EngagementTimeCeilingSeconds)
	interactionFrac := clampFraction(float64(t.Interactions) / InteractionCap)
	consistencyFrac := clampFraction(e.activeReadingSeconds / ConsistencyCapSeconds)

	var weighted float64
	if t.HasVideo() {
		videoFrac := clampFraction(t.VideoProgress / 100)
		weighted = videoFrac*videoWeightVideo +
			scrollFrac*videoWeightScroll +
			timeFrac*videoWeightTime +
			interactionFrac*videoWeightInteraction +
			consistencyFrac*videoWeightConsistency
	} else {
		weighted = scrollFrac*weightScroll +
			timeFrac*weightTime +
			interactionFrac*weightInteraction +
			consistencyFrac*weightConsistency
	}

	return ClampPercent(weighted * 100)
}

// ActiveReadingSeconds возвращает накопленные секунды активного чтения.
func (e *Estimator) ActiveReadingSeconds() float64 {
	return e.activeReadingSeconds
}

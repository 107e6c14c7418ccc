package lesson

// ══════════════════════════════════════════════════════════════════════════════
// MONOTONIC STATE
// ══════════════════════════════════════════════════════════════════════════════

// MonotonicState хранит бегущие максимумы прогресса. Публично сообщаемый
// прогресс никогда не уменьшается: учащийся может прокрутить вверх, оценка
// по времени может колебаться, но отчитываемся всегда максимумом.
//
// Владеет максимумами исключительно трекер; оценщик их не трогает.
type MonotonicState struct {
	maxScrollProgress  float64
	maxReadingProgress float64
}

// NewMonotonicState создаёт состояние с нулевыми максимумами.
func NewMonotonicState() *MonotonicState {
	return &MonotonicState{}
}

// Seed засеивает максимумы сохранённым ранее прогрессом при загрузке урока,
// чтобы вернувшийся учащийся не увидел откат к нулю.
func (m *MonotonicState) Seed(scrollProgress, readingProgress float64) {
	m.maxScrollProgress = ClampPercent(scrollProgress)
	m.maxReadingProgress = ClampPercent(readingProgress)
}

// Observe обновляет максимумы по снимку оценщика.
func (m *MonotonicState) Observe(s ProgressSnapshot) {
	if s.ScrollProgress > m.maxScrollProgress {
		m.maxScrollProgress = ClampPercent(s.ScrollProgress)
	}
	if s.ReadingProgress > m.maxReadingProgress {
		m.maxReadingProgress = ClampPercent(s.ReadingProgress)
	}
}

// ScrollProgress возвращает сообщаемый (максимальный) прогресс прокрутки.
func (m *MonotonicState) ScrollProgress() float64 {
	return m.maxScrollProgress
}

// ReadingProgress возвращает сообщаемый (максимальный) прогресс чтения.
func (m *MonotonicState) ReadingProgress() float64 {
	return m.maxReadingProgress
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE WEIGHTS
// ══════════════════════════════════════════════════════════════════════════════

// ScoreWeights - веса компонентов итоговой оценки урока.
// Сумма задействованных весов всегда равна 1.0; доли квиза и задания
// резервируются до выставления внешней оценки - урок не может достичь
// 100%, пока обязательные компоненты не оценены.
type ScoreWeights struct {
	Reading    float64
	Engagement float64
	Quiz       float64
	Assignment float64
}

// WeightsFor возвращает веса для формы контента урока.
//
//	без квиза и задания:  чтение 50%, вовлечённость 50%
//	только квиз:          35% / 35% / квиз 30%
//	только задание:       35% / 35% / задание 30%
//	квиз и задание:       25% / 25% / 25% / 25%
func WeightsFor(shape ContentShape) ScoreWeights {
	switch {
	case shape.HasQuiz && shape.HasAssignment:
		return ScoreWeights{Reading: 0.25, Engagement: 0.25, Quiz: 0.25, Assignment: 0.25}
	case shape.HasQuiz:
		return ScoreWeights{Reading: 0.35, Engagement: 0.35, Quiz: 0.30}
	case shape.HasAssignment:
		return ScoreWeights{Reading: 0.35, Engagement: 0.35, Assignment: 0.30}
	default:
		return ScoreWeights{Reading: 0.50, Engagement: 0.50}
	}
}

// Sum возвращает сумму всех весов (инвариант: 1.0).
func (w ScoreWeights) Sum() float64 {
	return w.Reading + w.Engagement + w.Quiz + w.Assignment
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE AGGREGATION
// ══════════════════════════════════════════════════════════════════════════════

// AssessmentScores - внешне выставленные оценки компонентов (0-100).
// nil означает "ещё не оценено": зарезервированная доля не начисляется.
type AssessmentScores struct {
	Quiz       *float64
	Assignment *float64
}

// ComputeScore вычисляет итоговую оценку урока. Производная величина:
// пересчитывается на каждом тике, никогда не мутируется независимо.
//
// Чтение берётся из монотонного максимума, вовлечённость - из мгновенного
// снимка: вовлечённость намеренно немонотонна.
func ComputeScore(readingProgress, engagementScore float64, shape ContentShape, graded AssessmentScores) float64 {
	w := WeightsFor(shape)

	score := ClampPercent(readingProgress)*w.Reading +
		ClampPercent(engagementScore)*w.Engagement

	if w.Quiz > 0 && graded.Quiz != nil {
		score += ClampPercent(*graded.Quiz) * w.Quiz
	}
	if w.Assignment > 0 && graded.Assignment != nil {
		score += ClampPercent(*graded.Assignment) * w.Assignment
	}

	return ClampPercent(score)
}

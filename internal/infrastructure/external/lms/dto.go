package lms

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// DTOs mirror the LMS API JSON exactly. Mapping to domain types lives in
// mapper.go; nothing outside this package sees these structs.
// ══════════════════════════════════════════════════════════════════════════════

// progressDTO is the GET /progress response body.
type progressDTO struct {
	LessonID         string   `json:"lesson_id"`
	StudentID        string   `json:"student_id"`
	ReadingProgress  float64  `json:"reading_progress"`
	EngagementScore  float64  `json:"engagement_score"`
	ScrollProgress   float64  `json:"scroll_progress"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
	LessonScore      *float64 `json:"lesson_score,omitempty"`
	QuizScore        *float64 `json:"quiz_score,omitempty"`
	AssignmentScore  *float64 `json:"assignment_score,omitempty"`
	Completed        bool     `json:"completed"`
}

// progressWriteDTO is the PUT /progress request body.
type progressWriteDTO struct {
	ReadingProgress  float64 `json:"reading_progress"`
	EngagementScore  float64 `json:"engagement_score"`
	ScrollProgress   float64 `json:"scroll_progress"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
	LessonScore      float64 `json:"lesson_score"`
	Forced           bool    `json:"forced"`
}

// saveAckDTO is the PUT /progress response body. The LMS may complete the
// lesson as a side effect of a write and reports that here.
type saveAckDTO struct {
	Saved              bool     `json:"saved"`
	AutoCompleted      bool     `json:"auto_completed"`
	CompletionMessage  string   `json:"completion_message,omitempty"`
	FinalScore         *float64 `json:"final_score,omitempty"`
	NextLessonUnlocked bool     `json:"next_lesson_unlocked"`
	NextLessonID       string   `json:"next_lesson_id,omitempty"`
}

// completeRequestDTO is the POST /complete request body.
type completeRequestDTO struct {
	Method           string  `json:"method"`
	LessonScore      float64 `json:"lesson_score"`
	ReadingProgress  float64 `json:"reading_progress"`
	EngagementScore  float64 `json:"engagement_score"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

// confirmationDTO is the POST /complete success response body.
type confirmationDTO struct {
	Completed       bool     `json:"completed"`
	ProgressSaved   bool     `json:"progress_saved"`
	FinalScore      *float64 `json:"final_score,omitempty"`
	NewAchievements []string `json:"new_achievements,omitempty"`
	NextLessonID    string   `json:"next_lesson_id,omitempty"`
	NextUnlocked    bool     `json:"next_unlocked"`
	Message         string   `json:"message,omitempty"`
}

// apiErrorDTO is the LMS error response body.
type apiErrorDTO struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  *apiErrorDetail `json:"detail,omitempty"`
}

// apiErrorDetail carries structured refusal context on completion errors.
type apiErrorDetail struct {
	MissingRequirements []string           `json:"missing_requirements,omitempty"`
	CurrentScores       map[string]float64 `json:"current_scores,omitempty"`
	AssessmentID        string             `json:"assessment_id,omitempty"`
}

// Error codes the LMS uses for completion refusals.
const (
	codeRequirementsNotMet = "REQUIREMENTS_NOT_MET"
	codeQuizRequired       = "QUIZ_REQUIRED"
	codeAssignmentRequired = "ASSIGNMENT_REQUIRED"
	codeNotEnrolled        = "NOT_ENROLLED"
	codeLessonNotFound     = "LESSON_NOT_FOUND"
	codeAlreadyCompleted   = "ALREADY_COMPLETED"
)

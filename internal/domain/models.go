package domain

import "time"

// RoomStatus is the lifecycle status of a room.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusReady    RoomStatus = "ready"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// Room settings and timing defaults.
const (
	DefaultMaxPlayers         = 5
	DefaultQuestionsCount     = 10
	DefaultTimePerQuestionSec = 10
	MinPlayersToStart         = 2
	NicknameMaxLength         = 20
)

// Room is one match instance: settings, question set and lifecycle status.
type Room struct {
	ID                 string     `json:"id"`
	Code               string     `json:"code"`
	Grade              int        `json:"grade"`
	Term               int        `json:"term"` // 0 means all terms
	MaxPlayers         int        `json:"maxPlayers"`
	QuestionsCount     int        `json:"questionsCount"`
	TimePerQuestionSec int        `json:"timePerQuestionSec"`
	QuestionIDs        []string   `json:"questionIds"`
	Status             RoomStatus `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	FinishedAt         *time.Time `json:"finishedAt,omitempty"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	IsPublic           bool       `json:"isPublic"`
	Name               string     `json:"name"`
}

// TimePerQuestion returns the per-question countdown as a duration.
func (r Room) TimePerQuestion() time.Duration {
	return time.Duration(r.TimePerQuestionSec) * time.Second
}

// MatchDuration is the total time budget of a match.
func (r Room) MatchDuration() time.Duration {
	return time.Duration(r.QuestionsCount) * r.TimePerQuestion()
}

// Cutoff returns the absolute deadline of the match. ok is false until the room has started.
func (r Room) Cutoff() (time.Time, bool) {
	if r.StartedAt == nil || r.StartedAt.IsZero() {
		return time.Time{}, false
	}
	return r.StartedAt.Add(r.MatchDuration()), true
}

// IsExpired reports whether the room should be treated as gone.
func (r Room) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Player is one participant's identity and progress within a room.
type Player struct {
	ID                   string     `json:"id"`
	RoomID               string     `json:"roomId"`
	DeviceID             string     `json:"deviceId"`
	Nickname             string     `json:"nickname"`
	IsReady              bool       `json:"isReady"`
	IsFinished           bool       `json:"isFinished"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	Score                int        `json:"score"`
	TotalTimeMs          int64      `json:"totalTimeMs"`
	JoinedAt             time.Time  `json:"joinedAt"`
	FinishedAt           *time.Time `json:"finishedAt,omitempty"`
	LastHeartbeat        time.Time  `json:"lastHeartbeat"`
	IsOwner              bool       `json:"isOwner"`
}

// AllFinished reports whether a non-empty roster has every player finished.
func AllFinished(players []Player) bool {
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.IsFinished {
			return false
		}
	}
	return true
}

// Answer is one recorded submission. Both SelectedOptionIndex and AnswerText nil is a timeout.
type Answer struct {
	ID                  string    `json:"id"`
	RoomID              string    `json:"roomId"`
	PlayerID            string    `json:"playerId"`
	QuestionID          string    `json:"questionId"`
	QuestionIndex       int       `json:"questionIndex"`
	SelectedOptionIndex *int      `json:"selectedOptionIndex,omitempty"`
	AnswerText          *string   `json:"answerText,omitempty"`
	IsCorrect           bool      `json:"isCorrect"`
	AnswerTimeMs        int64     `json:"answerTimeMs"`
	AnsweredAt          time.Time `json:"answeredAt"`
}

// IsTimeout reports whether the answer carries neither an option nor text.
func (a Answer) IsTimeout() bool {
	return a.SelectedOptionIndex == nil && a.AnswerText == nil
}

// QuestionType distinguishes option questions from typed answers.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	FreeForm       QuestionType = "free_form"
)

// AnswerType declares how a free-form answer is compared.
type AnswerType string

const (
	AnswerInteger  AnswerType = "integer"
	AnswerDecimal  AnswerType = "decimal"
	AnswerFraction AnswerType = "fraction"
	AnswerText     AnswerType = "text"
)

// IsNumeric reports whether answers of this type compare as numbers.
func (t AnswerType) IsNumeric() bool {
	return t == AnswerInteger || t == AnswerDecimal || t == AnswerFraction
}

// Question is supplied by the question bank.
type Question struct {
	ID                 string       `json:"id"`
	Grade              int          `json:"grade"`
	Term               int          `json:"term"`
	Text               string       `json:"questionText"`
	Options            []string     `json:"options,omitempty"`
	CorrectOptionIndex *int         `json:"correctOptionIndex,omitempty"`
	Explanation        string       `json:"explanation"`
	Type               QuestionType `json:"questionType"`
	CorrectAnswer      *string      `json:"correctAnswer,omitempty"`
	AcceptableAnswers  []string     `json:"acceptableAnswers,omitempty"`
	AnswerUnit         string       `json:"answerUnit,omitempty"`
	AnswerType         AnswerType   `json:"answerType,omitempty"`
}

// Settings overrides the room defaults on creation. Zero values mean "use the default".
type Settings struct {
	QuestionsCount     int
	TimePerQuestionSec int
	MaxPlayers         int
	IsPublic           *bool
	Name               string
}

// Report is a player's complaint about a question.
type Report struct {
	ID                  string    `json:"id"`
	QuestionID          string    `json:"questionId"`
	RoomID              string    `json:"roomId,omitempty"`
	PlayerID            string    `json:"playerId,omitempty"`
	ReportType          string    `json:"reportType"`
	ReportText          string    `json:"reportText,omitempty"`
	SelectedOptionIndex *int      `json:"selectedOptionIndex,omitempty"`
	AnswerText          *string   `json:"answerText,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Report types accepted by the report collaborator.
const (
	ReportIncorrectAnswer      = "incorrect_answer"
	ReportIncorrectExplanation = "incorrect_explanation"
	ReportTypoFormatting       = "typo_formatting"
	ReportAmbiguous            = "ambiguous"
	ReportOther                = "other"
)

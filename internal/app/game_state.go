package app

import "quiz-room-sync/internal/domain"

// GamePhase is derived from GameState; it is never stored.
type GamePhase int

const (
	GameNoQuestions GamePhase = iota
	GameInProgress
	// GameFinished covers the window between answering the last question and the
	// remote finish mark landing.
	GameFinished
	GameWaitingForOthers
	GameDone
)

func (p GamePhase) String() string {
	switch p {
	case GameInProgress:
		return "in_progress"
	case GameFinished:
		return "finished"
	case GameWaitingForOthers:
		return "waiting_for_others"
	case GameDone:
		return "done"
	default:
		return "no_questions"
	}
}

// Submission guards a question against more than one real submission.
type Submission int

const (
	SubmissionIdle Submission = iota
	SubmissionSubmitting
	SubmissionSubmitted
)

// GameState is a snapshot of one player's progress through a match.
type GameState struct {
	Questions         []domain.Question
	Index             int
	Score             int
	TotalTimeMs       int64
	Finished          bool
	WaitingForOthers  bool
	Players           []domain.Player
	LastAnswerCorrect *bool
	Submission        Submission
	Err               error

	finishing bool
}

func (s GameState) Phase() GamePhase {
	switch {
	case len(s.Questions) == 0:
		return GameNoQuestions
	case s.finishing:
		return GameFinished
	case !s.Finished:
		return GameInProgress
	case s.WaitingForOthers:
		return GameWaitingForOthers
	default:
		return GameDone
	}
}

// Current returns the question at the pointer.
func (s GameState) Current() (domain.Question, bool) {
	if s.Index < 0 || s.Index >= len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[s.Index], true
}

// IsLast reports whether the pointer is on the final question.
func (s GameState) IsLast() bool { return s.Index >= len(s.Questions)-1 }

type gameMsg interface{ isGameMsg() }

type (
	msgQuestionsLoaded struct{ questions []domain.Question }
	msgHydrated        struct{ player domain.Player }
	msgSubmitBegin     struct{}
	msgSubmitDone      struct {
		correct     bool
		score       int
		totalTimeMs int64
	}
	msgSubmitFailed    struct{ err error }
	msgAlreadyAnswered struct {
		score       int
		totalTimeMs int64
	}
	msgNext            struct{}
	msgFinishing       struct{}
	msgFinished        struct{}
	msgFinishFailed    struct{ err error }
	msgAllFinished     struct{}
	msgRoster          struct{ players []domain.Player }
	msgGameError       struct{ err error }
	msgGameReset       struct{}
)

func (msgQuestionsLoaded) isGameMsg() {}
func (msgHydrated) isGameMsg()        {}
func (msgSubmitBegin) isGameMsg()     {}
func (msgSubmitDone) isGameMsg()      {}
func (msgSubmitFailed) isGameMsg()    {}
func (msgAlreadyAnswered) isGameMsg() {}
func (msgNext) isGameMsg()            {}
func (msgFinishing) isGameMsg()       {}
func (msgFinished) isGameMsg()        {}
func (msgFinishFailed) isGameMsg()    {}
func (msgAllFinished) isGameMsg()     {}
func (msgRoster) isGameMsg()          {}
func (msgGameError) isGameMsg()       {}
func (msgGameReset) isGameMsg()       {}

func reduceGame(s GameState, m gameMsg) GameState {
	switch m := m.(type) {
	case msgQuestionsLoaded:
		s.Questions = m.questions
		s.Err = nil
	case msgHydrated:
		s.Index = 0
		if n := len(s.Questions); n > 0 {
			s.Index = min(max(m.player.CurrentQuestionIndex, 0), n-1)
		}
		s.Score = m.player.Score
		s.TotalTimeMs = m.player.TotalTimeMs
		s.Finished = m.player.IsFinished
		s.WaitingForOthers = m.player.IsFinished
		s.LastAnswerCorrect = nil
		s.Submission = SubmissionIdle
		// The row is past the clamped question: it was answered before the reload
		// and only the advance or finish is missing.
		if len(s.Questions) > 0 && m.player.CurrentQuestionIndex > s.Index {
			s.Submission = SubmissionSubmitted
		}
		s.Err = nil
	case msgSubmitBegin:
		// Only an idle, unfinished game with a current question accepts a submission.
		if _, ok := s.Current(); ok && s.Submission == SubmissionIdle && !s.Finished && !s.finishing {
			s.Submission = SubmissionSubmitting
		}
	case msgSubmitDone:
		if s.Submission == SubmissionSubmitting {
			s.Submission = SubmissionSubmitted
			s.Score = m.score
			s.TotalTimeMs = m.totalTimeMs
			correct := m.correct
			s.LastAnswerCorrect = &correct
		}
	case msgSubmitFailed:
		if s.Submission == SubmissionSubmitting {
			s.Submission = SubmissionIdle
		}
		s.Err = m.err
	case msgAlreadyAnswered:
		if s.Submission == SubmissionSubmitting {
			s.Submission = SubmissionSubmitted
			s.Score = m.score
			s.TotalTimeMs = m.totalTimeMs
			s.LastAnswerCorrect = nil
		}
	case msgNext:
		if s.Index < len(s.Questions)-1 {
			s.Index++
			s.LastAnswerCorrect = nil
			s.Submission = SubmissionIdle
		}
	case msgFinishing:
		if !s.Finished {
			s.finishing = true
		}
	case msgFinished:
		s.finishing = false
		s.Finished = true
		s.WaitingForOthers = true
	case msgFinishFailed:
		s.finishing = false
		s.Err = m.err
	case msgAllFinished:
		s.WaitingForOthers = false
	case msgRoster:
		s.Players = clonePlayers(m.players)
		if s.Finished && s.WaitingForOthers && domain.AllFinished(s.Players) {
			s.WaitingForOthers = false
		}
	case msgGameError:
		s.Err = m.err
	case msgGameReset:
		s = GameState{}
	}
	return s
}

package app

import (
	"errors"
	"testing"

	"quiz-room-sync/internal/domain"
)

func activeState() RoomState {
	return reduceRoom(RoomState{}, msgActivated{
		room: domain.Room{ID: "room-1", Status: domain.StatusWaiting},
		players: []domain.Player{
			{ID: "p1", RoomID: "room-1", IsOwner: true},
			{ID: "p2", RoomID: "room-1"},
		},
		self: domain.Player{ID: "p1"},
	})
}

func TestReduceRoomKeepsSelfByID(t *testing.T) {
	s := activeState()
	s = reduceRoom(s, msgRosterReplaced{players: []domain.Player{
		{ID: "p2", RoomID: "room-1", IsReady: true},
		{ID: "p1", RoomID: "room-1", IsOwner: true, Score: 4},
	}})
	if s.Self.ID != "p1" || s.Self.Score != 4 {
		t.Fatalf("expected self refreshed from roster, got %+v", s.Self)
	}

	s = reduceRoom(s, msgPlayerChanged{player: domain.Player{ID: "p1", RoomID: "room-1", IsOwner: true, Score: 5}})
	if s.Self.Score != 5 || s.Players[1].Score != 5 {
		t.Fatalf("expected single-player merge to update self, got %+v", s)
	}
}

func TestReduceRoomIgnoresOtherRooms(t *testing.T) {
	s := activeState()
	s = reduceRoom(s, msgRoomChanged{room: domain.Room{ID: "room-2", Status: domain.StatusPlaying}})
	if s.Room.Status != domain.StatusWaiting {
		t.Fatalf("room from another room applied: %+v", s.Room)
	}
	idle := reduceRoom(RoomState{}, msgPlayerChanged{player: domain.Player{ID: "p1"}})
	if idle.Players != nil {
		t.Fatalf("idle state must ignore bus messages")
	}
}

func TestReadySetMarksSelfAndRosterEntry(t *testing.T) {
	s := reduceRoom(activeState(), msgReadySet{ready: true})
	if !s.Self.IsReady || !s.Players[0].IsReady || s.Players[1].IsReady {
		t.Fatalf("unexpected ready flags: %+v", s)
	}
}

func TestCanStart(t *testing.T) {
	s := activeState()
	if s.CanStart() {
		t.Fatalf("nobody ready yet")
	}
	s = reduceRoom(s, msgRosterReplaced{players: []domain.Player{
		{ID: "p1", RoomID: "room-1", IsOwner: true, IsReady: true},
		{ID: "p2", RoomID: "room-1", IsReady: true},
	}})
	if !s.CanStart() {
		t.Fatalf("expected owner to be able to start")
	}
	s.Room.Status = domain.StatusPlaying
	if s.CanStart() {
		t.Fatalf("already playing")
	}
	s.Room.Status = domain.StatusFinished
	if s.CanStart() {
		t.Fatalf("a finished room needs a replay before it starts")
	}
}

func TestLoadFailedReturnsToIdleWithError(t *testing.T) {
	s := reduceRoom(activeState(), msgLoading{})
	if s.Phase != RoomLoading {
		t.Fatalf("expected loading, got %v", s.Phase)
	}
	s = reduceRoom(s, msgLoadFailed{err: domain.ErrRoomNotFound})
	if s.Phase != RoomIdle || !errors.Is(s.Err, domain.ErrRoomNotFound) {
		t.Fatalf("unexpected state %+v", s)
	}
}

func gameWithQuestions(n int) GameState {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{ID: string(rune('a' + i))}
	}
	return reduceGame(GameState{}, msgQuestionsLoaded{questions: qs})
}

func TestSubmissionGuardIsATransitionRule(t *testing.T) {
	s := gameWithQuestions(2)
	s = reduceGame(s, msgSubmitBegin{})
	if s.Submission != SubmissionSubmitting {
		t.Fatalf("expected submitting, got %v", s.Submission)
	}
	again := reduceGame(s, msgSubmitBegin{})
	if again.Submission != SubmissionSubmitting {
		t.Fatalf("second begin must not restart the guard")
	}
	s = reduceGame(s, msgSubmitDone{correct: true, score: 1, totalTimeMs: 900})
	if s.Submission != SubmissionSubmitted || s.Score != 1 || s.LastAnswerCorrect == nil || !*s.LastAnswerCorrect {
		t.Fatalf("unexpected state after submit: %+v", s)
	}
	if reduceGame(s, msgSubmitBegin{}).Submission != SubmissionSubmitted {
		t.Fatalf("submitted question accepted another submission")
	}
	s = reduceGame(s, msgNext{})
	if s.Index != 1 || s.Submission != SubmissionIdle || s.LastAnswerCorrect != nil {
		t.Fatalf("next question must reset the guard, got %+v", s)
	}
	s = reduceGame(s, msgNext{})
	if s.Index != 1 {
		t.Fatalf("pointer moved past the last question")
	}
}

func TestSubmitFailureReopensQuestion(t *testing.T) {
	s := reduceGame(gameWithQuestions(1), msgSubmitBegin{})
	s = reduceGame(s, msgSubmitFailed{err: errors.New("boom")})
	if s.Submission != SubmissionIdle || s.Err == nil {
		t.Fatalf("expected idle with error, got %+v", s)
	}
}

func TestHydrateClampsIndex(t *testing.T) {
	s := reduceGame(gameWithQuestions(3), msgHydrated{player: domain.Player{CurrentQuestionIndex: 999, Score: 2}})
	if s.Index != 2 || s.Score != 2 {
		t.Fatalf("expected clamp to 2, got %d", s.Index)
	}
	s = reduceGame(gameWithQuestions(3), msgHydrated{player: domain.Player{CurrentQuestionIndex: -10}})
	if s.Index != 0 {
		t.Fatalf("expected clamp to 0, got %d", s.Index)
	}
	s = reduceGame(gameWithQuestions(3), msgHydrated{player: domain.Player{CurrentQuestionIndex: 3}})
	if s.Index != 2 || s.Submission != SubmissionSubmitted {
		t.Fatalf("expected the last question marked answered, got %+v", s)
	}
	s = reduceGame(gameWithQuestions(3), msgHydrated{player: domain.Player{CurrentQuestionIndex: 2}})
	if s.Submission != SubmissionIdle {
		t.Fatalf("expected the current question open, got %v", s.Submission)
	}
	s = reduceGame(gameWithQuestions(3), msgHydrated{player: domain.Player{IsFinished: true}})
	if s.Phase() != GameWaitingForOthers {
		t.Fatalf("finished player resumes waiting, got %v", s.Phase())
	}
}

func TestGamePhases(t *testing.T) {
	s := GameState{}
	if s.Phase() != GameNoQuestions {
		t.Fatalf("expected no questions")
	}
	s = gameWithQuestions(1)
	if s.Phase() != GameInProgress {
		t.Fatalf("expected in progress")
	}
	s = reduceGame(s, msgFinishing{})
	if s.Phase() != GameFinished {
		t.Fatalf("expected finished, got %v", s.Phase())
	}
	s = reduceGame(s, msgFinished{})
	if s.Phase() != GameWaitingForOthers {
		t.Fatalf("expected waiting, got %v", s.Phase())
	}
	s = reduceGame(s, msgRoster{players: []domain.Player{{ID: "p1", IsFinished: true}, {ID: "p2"}}})
	if s.Phase() != GameWaitingForOthers {
		t.Fatalf("one player still playing")
	}
	s = reduceGame(s, msgRoster{players: []domain.Player{{ID: "p1", IsFinished: true}, {ID: "p2", IsFinished: true}}})
	if s.Phase() != GameDone {
		t.Fatalf("expected done, got %v", s.Phase())
	}
}

func TestBroadcasterDropsStaleSnapshots(t *testing.T) {
	b := newBroadcaster[int]()
	ch, cancel := b.subscribe(0)
	defer cancel()
	for i := 1; i <= 20; i++ {
		b.publish(i)
	}
	var last int
	for len(ch) > 0 {
		last = <-ch
	}
	if last != 20 {
		t.Fatalf("expected latest snapshot kept, got %d", last)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-room-sync/internal/app"
	"quiz-room-sync/internal/domain"
	"quiz-room-sync/internal/presence"
	"quiz-room-sync/internal/realtime"
	transport "quiz-room-sync/internal/transport/http"
)

type playFlags struct {
	device      string
	nickname    string
	code        string
	gateway     string
	grade       int
	term        int
	questions   int
	seconds     int
	answerDelay time.Duration
	accuracy    float64
	rounds      int
}

// NewPlayCmd runs a headless player: it creates or joins a room, readies up,
// starts the match when it owns the room and answers until the match ends.
func NewPlayCmd(configPath *string) *cobra.Command {
	f := playFlags{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a match as a headless client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := buildStack(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			return runPlay(cmd.Context(), s, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.device, "device", "", "device id (random when empty)")
	cmd.Flags().StringVar(&f.nickname, "nickname", "Bot", "nickname shown to other players")
	cmd.Flags().StringVar(&f.code, "code", "", "room code to join; creates a room when empty")
	cmd.Flags().StringVar(&f.gateway, "gateway", "", "gateway base URL; events go through it instead of the configured bus")
	cmd.Flags().IntVar(&f.grade, "grade", 3, "grade of a created room")
	cmd.Flags().IntVar(&f.term, "term", 0, "term of a created room (0 = all terms)")
	cmd.Flags().IntVar(&f.questions, "questions", domain.DefaultQuestionsCount, "questions in a created room")
	cmd.Flags().IntVar(&f.seconds, "seconds", domain.DefaultTimePerQuestionSec, "seconds per question in a created room")
	cmd.Flags().DurationVar(&f.answerDelay, "answer-delay", 2*time.Second, "think time before each answer")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", 0.7, "probability of answering correctly")
	cmd.Flags().IntVar(&f.rounds, "rounds", 1, "matches to play; the owner starts a replay between rounds")
	return cmd
}

func runPlay(ctx context.Context, s *stack, f playFlags, out io.Writer) error {
	if f.device == "" {
		f.device = uuid.NewString()
	}
	log := s.log.With(zap.String("device_id", f.device))

	var (
		bus app.Bus       = s.broker
		pub app.Publisher = s.broker
	)
	if f.gateway != "" {
		ws, err := transport.NewWSBus(f.gateway, log)
		if err != nil {
			return err
		}
		bus, pub = ws, ws
	}
	repo := realtime.NewNotifyingRepository(s.repo, pub, log)
	opts := append(s.appOptions(), app.WithLogger(log))

	rooms := app.NewRoomController(repo, s.bank, bus, s.sessions(f.device), opts...)
	defer rooms.Close()

	st, err := rooms.Resume(ctx, f.device)
	if err != nil || !st.Active() {
		if f.code != "" {
			st, err = rooms.JoinRoom(ctx, f.code, f.device, f.nickname)
		} else {
			st, err = rooms.CreateRoom(ctx, f.grade, f.term, f.device, f.nickname, domain.Settings{
				QuestionsCount:     f.questions,
				TimePerQuestionSec: f.seconds,
			})
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "room %s (%s) code %s, you are %s\n", st.Room.Name, st.Room.ID, st.Room.Code, st.Self.Nickname)

	rnd := rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	p := &player{
		repo: repo, bank: s.bank, bus: bus, rooms: rooms, opts: opts, log: log, clock: s.clock, rnd: rnd, flags: f,
		peers: presence.NewWatcher(st.Self.ID, presence.DefaultThreshold),
	}
	for round := 1; round <= f.rounds; round++ {
		if err := p.playRound(ctx); err != nil {
			return err
		}
		if err := printStandings(ctx, out, app.NewResults(repo, s.bank, opts...), rooms.State().Room.ID); err != nil {
			return err
		}
		if round < f.rounds && rooms.State().Self.IsOwner {
			if err := rooms.StartReplay(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// player drives one device through lobby, match and results.
type player struct {
	repo  app.RoomRepository
	bank  app.QuestionBank
	bus   app.Bus
	rooms *app.RoomController
	opts  []app.Option
	log   *zap.Logger
	clock clockwork.Clock
	rnd   *rand.Rand
	flags playFlags
	peers *presence.Watcher
}

// observePeers logs peers that dropped off or came back since the last look.
func (p *player) observePeers(players []domain.Player) {
	for _, c := range p.peers.Observe(players, p.clock.Now()) {
		p.log.Info(c.Message(), zap.String("player_id", c.Player.ID), zap.Bool("online", c.Online))
	}
}

// playRound waits in the lobby until the room starts, then plays the match.
func (p *player) playRound(ctx context.Context) error {
	updates, stop := p.rooms.Watch()
	defer stop()

	presenceTick := p.clock.NewTicker(presence.HeartbeatInterval)
	defer presenceTick.Stop()

	readied := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-presenceTick.Chan():
			p.observePeers(p.rooms.State().Players)
		case st, ok := <-updates:
			if !ok {
				return fmt.Errorf("room watch closed")
			}
			if !st.Active() {
				if st.Err != nil {
					return st.Err
				}
				continue
			}
			p.observePeers(st.Players)
			switch st.Room.Status {
			case domain.StatusPlaying:
				return p.playMatch(ctx, st)
			case domain.StatusFinished:
				continue
			}
			if !st.Self.IsReady && !readied {
				readied = true
				if err := p.rooms.SetReady(ctx, true); err != nil {
					p.log.Warn("ready failed", zap.Error(err))
					readied = false
				}
			}
			if st.CanStart() {
				if err := p.rooms.StartGame(ctx); err != nil {
					return err
				}
			}
		}
	}
}

func (p *player) playMatch(ctx context.Context, st app.RoomState) error {
	game := app.NewGameController(p.repo, p.bank, p.bus, p.opts...)
	if err := game.LoadQuestions(ctx, st.Room.QuestionIDs); err != nil {
		return err
	}
	self, err := p.repo.GetPlayer(ctx, st.Self.ID)
	if err != nil {
		return err
	}
	game.HydrateFromPlayer(self)
	unsubscribe, err := game.SubscribeToProgress(ctx, st.Room.ID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	timer := app.NewMatchTimer(game, p.repo, st.Room, self.ID, p.opts...)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go timer.Run(runCtx)
	defer timer.Stop()

	roomUpdates, stopRoom := p.rooms.Watch()
	defer stopRoom()
	games, stopGame := game.Watch()
	defer stopGame()

	timer.BeginQuestion()
	asked := -1
	var think <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rs := <-roomUpdates:
			timer.SetRoom(rs.Room)
			p.observePeers(rs.Players)
			if rs.Room.Status == domain.StatusFinished {
				return nil
			}
		case gs, ok := <-games:
			if !ok {
				return nil
			}
			switch gs.Phase() {
			case app.GameDone:
				return nil
			case app.GameInProgress:
				if gs.Index != asked && gs.Submission == app.SubmissionIdle {
					asked = gs.Index
					think = p.clock.After(p.flags.answerDelay)
				}
			}
		case <-think:
			think = nil
			q, ok := game.State().Current()
			if !ok {
				continue
			}
			selected, text := p.pick(q)
			correct, err := timer.Answer(ctx, selected, text)
			if err != nil {
				p.log.Warn("answer failed", zap.Error(err))
				continue
			}
			p.log.Info("answered", zap.String("question_id", q.ID), zap.Bool("correct", correct))
		}
	}
}

// pick chooses the right answer with probability accuracy, else a wrong one.
func (p *player) pick(q domain.Question) (*int, *string) {
	right := p.rnd.Float64() < p.flags.accuracy
	if q.Type == domain.FreeForm {
		text := "0"
		if right && q.CorrectAnswer != nil {
			text = *q.CorrectAnswer
		}
		return nil, &text
	}
	if len(q.Options) == 0 {
		return nil, nil
	}
	idx := p.rnd.Intn(len(q.Options))
	if q.CorrectOptionIndex != nil {
		switch {
		case right:
			idx = *q.CorrectOptionIndex
		case idx == *q.CorrectOptionIndex && len(q.Options) > 1:
			idx = (idx + 1) % len(q.Options)
		}
	}
	return &idx, nil
}

func printStandings(ctx context.Context, out io.Writer, results *app.Results, roomID string) error {
	standings, err := results.Standings(ctx, roomID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "standings:")
	for i, s := range standings {
		fmt.Fprintf(out, "%d. %-20s score %2d  time %6.1fs  finished %v\n",
			i+1, s.Nickname, s.Score, float64(s.TotalTimeMs)/1000, s.IsFinished)
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-room-sync/internal/infra/postgres"
)

// NewSeedCmd loads questions into Postgres from a YAML file, or the built-in samples.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load questions into the question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			qs := sampleQuestions()
			if file != "" {
				if qs, err = loadQuestionsFile(file); err != nil {
					return err
				}
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.NewQuestionLoader(pool).InsertQuestions(cmd.Context(), qs); err != nil {
				return err
			}
			log.Info("questions seeded", zap.Int("count", len(qs)))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file of questions (defaults to built-in samples)")
	return cmd
}

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bull/course-tutor/internal/tutor"
)

var (
	quizCount       int
	quizNoMaterials bool
)

var quizCmd = &cobra.Command{
	Use:   "quiz <topic>",
	Short: "Generate practice problems on a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		quiz, err := svc.Quiz(cmd.Context(), tutor.QuizRequest{
			Topic:         strings.Join(args, " "),
			Count:         quizCount,
			SkipRetrieval: quizNoMaterials,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintf(out, "%d practice problems: %s\n\n", quiz.Count, quiz.Topic)
		fmt.Fprintln(out, quiz.Text)
		if quiz.FromCourseMaterial {
			faint := color.New(color.Faint)
			faint.Fprintln(out, "\nBased on:")
			for _, s := range quiz.Sources {
				faint.Fprintf(out, "  - %s\n", s)
			}
		}
		return nil
	},
}

func init() {
	quizCmd.Flags().IntVarP(&quizCount, "count", "n", 3, "number of problems (1 to 10)")
	quizCmd.Flags().BoolVar(&quizNoMaterials, "no-materials", false, "do not ground the problems in course materials")
	rootCmd.AddCommand(quizCmd)
}

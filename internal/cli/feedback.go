package cli

import (
	"github.com/spf13/cobra"

	"cloud-cost-guardian/internal/app"
)

var (
	feedbackAlertID  string
	feedbackUserID   string
	feedbackUserName string
	feedbackKind     string
	feedbackNote     string
	feedbackServices []string
	feedbackImpact   float64
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a user acknowledgement for an anomaly alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.FeedbackOptions{
			AlertID:         feedbackAlertID,
			UserID:          feedbackUserID,
			UserName:        feedbackUserName,
			Kind:            feedbackKind,
			Note:            feedbackNote,
			Services:        feedbackServices,
			EstimatedImpact: feedbackImpact,
		}
		return getApp().RecordFeedback(cmd.Context(), opts)
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackAlertID, "alert-id", "", "Alert identifier the feedback refers to")
	feedbackCmd.Flags().StringVar(&feedbackUserID, "user", "", "Reporting user identifier")
	feedbackCmd.Flags().StringVar(&feedbackUserName, "user-name", "", "Reporting user display name")
	feedbackCmd.Flags().StringVar(&feedbackKind, "kind", "", "Feedback kind: expected, unexpected, or investigating")
	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "Optional free-text note")
	feedbackCmd.Flags().StringSliceVar(&feedbackServices, "services", nil, "Affected service names")
	feedbackCmd.Flags().Float64Var(&feedbackImpact, "impact", 0, "Estimated dollar impact")
	_ = feedbackCmd.MarkFlagRequired("alert-id")
	_ = feedbackCmd.MarkFlagRequired("kind")
}

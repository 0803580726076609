package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store/postgres"
)

var (
	stoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	openStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

var brakeCmd = &cobra.Command{
	Use:   "brake",
	Short: "Manage the emergency brake",
}

var brakeOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Engage the brake: dispatch pauses, queued work is kept",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(setBrake(cmd, true))
		fmt.Println(stoppedStyle.Render("emergency brake ENGAGED") + " — no notices will be sent until released")
	},
}

var brakeOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Release the brake: accumulated job-queue entries drain FIFO",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(setBrake(cmd, false))
		fmt.Println(openStyle.Render("emergency brake released") + " — dispatch resumes")
	},
}

var brakeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current brake state",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(cmd)
		exitOnError(err)
		defer db.Close()

		stopped, err := postgres.NewBrakeStore(db).Get(context.Background())
		exitOnError(err)

		if stopped {
			fmt.Println(stoppedStyle.Render("ENGAGED"))
		} else {
			fmt.Println(openStyle.Render("open"))
		}
	},
}

func setBrake(cmd *cobra.Command, stopped bool) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.NewBrakeStore(db).Set(context.Background(), stopped)
}

func init() {
	rootCmd.AddCommand(brakeCmd)
	brakeCmd.AddCommand(brakeOnCmd)
	brakeCmd.AddCommand(brakeOffCmd)
	brakeCmd.AddCommand(brakeStatusCmd)
}

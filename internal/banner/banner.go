package banner

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"loadpilot/internal/styles"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
    __                  ______  _ __      __ 
   / /   ____  ____ _ _/ __ \ \(_) /___  / /_
  / /   / __ \/ __ '/ / /_/ / / / / __ \/ __/
 / /___/ /_/ / /_/ / / ____/ / / / /_/ / /_  
/_____/\____/\__,_/ /_/   /_/_/_/\____/\__/  `

	return "\n" + style.Render(ascii) + "\n"
}

// Failure names the stage that aborted the run and its error.
func Failure(stage string, err error) string {
	body := fmt.Sprintf("Orchestration Failed\n\nstage: %s\nerror: %v", stage, err)
	return styles.FailureBox.Render(body) + "\n"
}

// Success reports a completed run.
func Success(runID string) string {
	body := fmt.Sprintf("Orchestration Complete\n\nrun: %s", runID)
	return styles.SuccessBox.Render(body) + "\n"
}

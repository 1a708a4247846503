package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/andrewtheguy/securesend/internal/orchestrator"
)

var (
	styleState = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleOK    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleErr   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	pinBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("13")).
			Padding(1, 3)
)

// watchStates prints every state transition as it arrives, in the order
// the orchestrator's observer channel delivers them. It returns once the
// channel is closed, so the caller should close(states) after the
// blocking Send/Receive call returns and then wait on a done signal.
func watchStates(states <-chan orchestrator.StateEvent) {
	start := time.Now()
	for ev := range states {
		elapsed := time.Since(start).Round(10 * time.Millisecond)
		switch ev.State {
		case orchestrator.StateCompleted:
			fmt.Printf("%s %s\n", styleDim.Render(elapsed.String()), styleOK.Render("transfer complete"))
		case orchestrator.StateFailed:
			fmt.Printf("%s %s: %v\n", styleDim.Render(elapsed.String()), styleErr.Render("transfer failed"), ev.Err)
		case orchestrator.StateCancelled:
			fmt.Printf("%s %s\n", styleDim.Render(elapsed.String()), styleErr.Render("transfer cancelled"))
		default:
			fmt.Printf("%s %s\n", styleDim.Render(elapsed.String()), styleState.Render(humanState(ev.State)))
		}
	}
}

func humanState(s orchestrator.State) string {
	switch s {
	case orchestrator.StateProbingRelay:
		return "checking relay connectivity..."
	case orchestrator.StateHandshaking:
		return "exchanging keys with peer..."
	case orchestrator.StateConnectingDirect:
		return "attempting a direct connection..."
	case orchestrator.StateStreamingDirect:
		return "streaming over a direct connection"
	case orchestrator.StateFallingBackToCloud:
		return "no direct path, falling back to relay storage..."
	case orchestrator.StateStreamingCloud:
		return "streaming through relay storage"
	default:
		return s.String()
	}
}

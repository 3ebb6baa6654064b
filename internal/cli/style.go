package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	dbussvc "github.com/cptspacemanspiff/power-state/internal/dbus"
	"github.com/cptspacemanspiff/power-state/internal/power"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(16)

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	criticalStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func styleLine(s string) string {
	switch s {
	case power.LineOnline.String():
		return onlineStyle.Render(s)
	case power.LineOffline.String():
		return offlineStyle.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func styleBattery(s string) string {
	switch {
	case s == "absent" || s == "not-present":
		return dimStyle.Render(s)
	case strings.Contains(s, "critical"):
		return criticalStyle.Render(s)
	case strings.Contains(s, "low"):
		return offlineStyle.Render(s)
	default:
		return onlineStyle.Render(s)
	}
}

func styleLevel(level uint8) string {
	if level == power.PercentUnknown {
		return dimStyle.Render("unknown")
	}
	s := fmt.Sprintf("%d%%", level)
	switch {
	case level < 5:
		return criticalStyle.Render(s)
	case level < 33:
		return offlineStyle.Render(s)
	default:
		return onlineStyle.Render(s)
	}
}

// renderState formats a state as an aligned label/value block.
func renderState(st dbussvc.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Source"), st.Source)
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Line status"), styleLine(st.LineStatus))
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Battery status"), styleBattery(st.BatteryStatus))
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Battery level"), styleLevel(st.BatteryLevel))
	return b.String()
}

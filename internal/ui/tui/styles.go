package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

// Palette. Libvirt-side kinds share the cool tones, MAAS-side kinds the warm ones.
var (
	colorOK      = lipgloss.Color("#16a34a")
	colorFail    = lipgloss.Color("#dc2626")
	colorAttn    = lipgloss.Color("#d97706")
	colorAccent  = lipgloss.Color("#0ea5e9")
	colorMuted   = lipgloss.Color("#71717a")
	colorBright  = lipgloss.Color("#fafafa")
	colorLibvirt = lipgloss.Color("#6366f1")
	colorMAAS    = lipgloss.Color("#e95420")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginTop(1)
	footerStyle  = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)

	readyStyle   = lipgloss.NewStyle().Foreground(colorOK)
	failedStyle  = lipgloss.NewStyle().Foreground(colorFail)
	warningStyle = lipgloss.NewStyle().Foreground(colorAttn)
	dimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	activeStyle  = lipgloss.NewStyle().Foreground(colorBright).Bold(true)

	barFilled = lipgloss.NewStyle().Foreground(colorOK)
	barEmpty  = lipgloss.NewStyle().Foreground(colorMuted)
)

// Badges are fixed width so the name columns line up.
const (
	checkMark   = "[OK]"
	crossMark   = "[!!]"
	reuseMark   = "[==]"
	rebuildMark = "[<>]"
	pending     = "[  ]"
	warnMark    = "[??]"
)

var spinnerFrames = []string{"[⠋ ]", "[⠙ ]", "[⠹ ]", "[⠸ ]", "[⠼ ]", "[⠴ ]", "[⠦ ]", "[⠧ ]", "[⠇ ]", "[⠏ ]"}

type badge struct {
	mark  string
	style lipgloss.Style
}

// settled maps the outcomes lifecycle.Ensure reports to their badge.
// Anything else is still in flight.
var settled = map[string]badge{
	string(lifecycle.Created):   {checkMark, readyStyle},
	string(lifecycle.Recreated): {rebuildMark, warningStyle},
	string(lifecycle.Reused):    {reuseMark, dimStyle},
}

// kindColors groups resource kinds by the system that owns them.
var kindColors = map[string]lipgloss.Color{
	"domain":      colorLibvirt,
	"volume":      colorLibvirt,
	"node":        colorMAAS,
	"setting":     colorMAAS,
	"boot-source": colorMAAS,
}

func kindStyle(kind string) lipgloss.Style {
	if c, ok := kindColors[kind]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return dimStyle
}

func phaseBadge(p PhaseRow, frame int) badge {
	switch {
	case p.Err != nil:
		return badge{crossMark, failedStyle}
	case p.Done:
		return badge{checkMark, readyStyle}
	case p.Active:
		return badge{currentSpinner(frame), activeStyle}
	default:
		return badge{pending, dimStyle}
	}
}

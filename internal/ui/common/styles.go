package common

import "github.com/charmbracelet/lipgloss"

// 图标
const (
	IconChat    = "💬"
	IconHistory = "📜"
	IconSystem  = "📢"
	IconEcho    = "↩️"
	IconWarn    = "⚠️"
	IconOK      = "✅"
)

var (
	DocStyle    = lipgloss.NewStyle().Margin(0, 1)
	TitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("228")).Bold(true)
	BoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder())
	PromptStyle = lipgloss.NewStyle().MarginTop(1)
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	MutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	SelfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	PeerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#3C3C3C")).
			Padding(0, 1)
)

// 连接状态颜色
var stateColors = map[string]lipgloss.Color{
	"CONNECTED":    lipgloss.Color("#43BF6D"),
	"CONNECTING":   lipgloss.Color("#E0B000"),
	"RECONNECTING": lipgloss.Color("#E07000"),
	"FAILED":       lipgloss.Color("#CD0000"),
	"DISCONNECTED": lipgloss.Color("240"),
}

// StateBadge 渲染带颜色的连接状态
func StateBadge(state string) string {
	color, ok := stateColors[state]
	if !ok {
		color = lipgloss.Color("240")
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(color).
		Bold(true).
		Padding(0, 1).
		Render(state)
}

package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/ui/common"
)

const (
	statusBarHeight = 1
	inputHeight     = 3
	nameWidth       = 16
)

func (m *ChatModel) resize(width, height int) {
	m.width = width

	m.transcript.Width = width - 2
	m.transcript.Height = max(height-statusBarHeight-inputHeight-2, 3)
	m.input.Width = max(width-6, 10)
	m.refreshTranscript()
}

func (m *ChatModel) refreshTranscript() {
	m.transcript.SetContent(strings.Join(m.lines, "\n"))
	m.transcript.GotoBottom()
}

func (m *ChatModel) View() string {
	var sb strings.Builder

	sb.WriteString(m.renderStatusBar())
	sb.WriteString("\n")
	sb.WriteString(common.BoxStyle.Width(max(m.width-2, 20)).Render(m.transcript.View()))
	sb.WriteString("\n")

	if typing := m.renderTyping(); typing != "" {
		sb.WriteString(typing)
		sb.WriteString("\n")
	}
	if m.notice != "" {
		sb.WriteString(common.ErrorStyle.Render(m.notice))
		sb.WriteString("\n")
	}
	sb.WriteString(m.input.View())

	return common.DocStyle.Render(sb.String())
}

// renderStatusBar 状态、延迟、队列与身份
func (m *ChatModel) renderStatusBar() string {
	latency := "-"
	if m.stats.LatencyMS >= 0 {
		latency = fmt.Sprintf("%dms", m.stats.LatencyMS)
	}

	identity := "未认证"
	if m.identity != "" {
		identity = common.TruncateName(m.identity, nameWidth)
	}

	info := fmt.Sprintf("延迟 %s │ 队列 %d │ 丢弃 %d │ %d 条/分钟 │ %s",
		latency, m.stats.QueueDepth, m.stats.Dropped, m.stats.MessagesLastMinute, identity)
	if m.stats.ReconnectAttempts > 0 {
		info += fmt.Sprintf(" │ 重连 %d/%d", m.stats.ReconnectAttempts, m.stats.MaxReconnectAttempts)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		common.StateBadge(m.stats.State.String()),
		common.StatusBarStyle.Render(info),
	)
}

func (m *ChatModel) renderTyping() string {
	if len(m.typingPeers) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.typingPeers))
	for id := range m.typingPeers {
		names = append(names, common.TruncateName(id, nameWidth))
	}
	slices.Sort(names)
	return common.MutedStyle.Render(strings.Join(names, ", ") + " 正在输入...")
}

// chatLine 格式: [12:30:05] alice: 内容
func chatLine(timestamp, clientID, text string, self bool) string {
	if clientID == "" {
		clientID = protocol.DefaultClientID
	}
	style := common.PeerStyle
	if self {
		style = common.SelfStyle
	}
	return fmt.Sprintf("%s %s: %s",
		common.MutedStyle.Render("["+common.FormatClock(timestamp)+"]"),
		style.Render(common.TruncateName(clientID, nameWidth)),
		text)
}

func systemLine(text string) string {
	return common.MutedStyle.Render(text)
}

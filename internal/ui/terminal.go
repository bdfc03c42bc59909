// Package ui renders the interactive chat on a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/petasbytes/go-chat/internal/storage"
	"github.com/petasbytes/go-chat/memory"
)

// Command is one row of the help table.
type Command struct {
	Usage       string
	Description string
}

// Commands lists the operator commands in help order.
var Commands = []Command{
	{"/exit, /quit", "Save the conversation and quit."},
	{"/clear", "Clear the conversation history."},
	{"/save", "Save the conversation now."},
	{"/role <id>", "Switch system role and start a new conversation."},
	{"/roles", "List the available roles."},
	{"/help", "Show this help."},
}

// Terminal writes prompts, streamed replies and panels to one writer.
type Terminal struct {
	out io.Writer

	you       *color.Color
	assistant *color.Color
	accent    *color.Color

	panel     lipgloss.Style
	warnPanel lipgloss.Style
	title     lipgloss.Style
	cell      lipgloss.Style
}

// New returns a terminal writing to w. Colours follow w's capabilities;
// noColor forces plain output.
func New(w io.Writer, noColor bool) *Terminal {
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		out:       w,
		you:       color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgMagenta, color.Bold),
		accent:    color.New(color.FgCyan, color.Bold),
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("5")).
			Padding(0, 1),
		title: r.NewStyle().Bold(true),
		cell:  r.NewStyle().Foreground(lipgloss.Color("6")),
	}
	t.warnPanel = t.panel.BorderForeground(lipgloss.Color("3"))
	if noColor {
		for _, c := range []*color.Color{t.you, t.assistant, t.accent} {
			c.DisableColor()
		}
		t.panel = t.panel.UnsetBorderForeground()
		t.warnPanel = t.warnPanel.UnsetBorderForeground()
		t.cell = t.cell.UnsetForeground()
	}
	return t
}

// Welcome shows the active model and role.
func (t *Terminal) Welcome(model, role string) {
	body := fmt.Sprintf("You are talking to %s.\nCurrent role: %s.\nType /help to list commands.",
		t.you.Sprint(model), t.accent.Sprint(role))
	t.printPanel(t.panel, "go-chat", body)
}

// System shows a framed notice. Titles "Error" and "Warning" get the
// warning frame.
func (t *Terminal) System(title, msg string) {
	style := t.panel
	if title == "Error" || title == "Warning" {
		style = t.warnPanel
	}
	t.printPanel(style, title, msg)
}

// Help prints the command table followed by the role list.
func (t *Terminal) Help(roles []string) {
	width := 0
	for _, c := range Commands {
		width = max(width, lipgloss.Width(c.Usage))
	}
	var b strings.Builder
	b.WriteString(t.title.Render("Commands"))
	b.WriteByte('\n')
	for _, c := range Commands {
		pad := strings.Repeat(" ", width-lipgloss.Width(c.Usage))
		fmt.Fprintf(&b, "  %s%s  %s\n", t.cell.Render(c.Usage), pad, c.Description)
	}
	fmt.Fprint(t.out, b.String())
	t.Roles(roles)
}

// Roles prints the selectable roles, one per line.
func (t *Terminal) Roles(roles []string) {
	fmt.Fprintf(t.out, "\n%s\n", t.title.Render("Roles (/role <id>):"))
	for _, r := range roles {
		fmt.Fprintf(t.out, "  - %s\n", r)
	}
}

// Prompt asks for the next line.
func (t *Terminal) Prompt() {
	fmt.Fprint(t.out, "\n"+t.you.Sprint("You: "))
}

func (t *Terminal) AssistantHeader() {
	fmt.Fprintf(t.out, "\n%s\n", t.assistant.Sprint("Assistant:"))
}

// Fragment echoes streamed text as is.
func (t *Terminal) Fragment(s string) {
	fmt.Fprint(t.out, s)
}

// EndReply terminates a streamed reply.
func (t *Terminal) EndReply() {
	fmt.Fprintln(t.out)
}

func (t *Terminal) Goodbye() {
	t.System("Session Ended", "Goodbye!")
}

// History prints one row per stored transcript in the order given.
func (t *Terminal) History(list []storage.Summary) {
	if len(list) == 0 {
		t.System("History", "No saved conversations.")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.Timestamp.Local().Format("2006-01-02 15:04:05"),
			s.Model,
			s.Role,
			fmt.Sprintf("%d msgs", s.Messages),
			s.Location,
		})
	}
	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	var b strings.Builder
	b.WriteString(t.title.Render("Saved conversations"))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(" ")
		for i, c := range r {
			b.WriteString(" ")
			if i == len(r)-1 {
				b.WriteString(t.cell.Render(c))
				break
			}
			b.WriteString(c + strings.Repeat(" ", widths[i]-lipgloss.Width(c)))
		}
		b.WriteByte('\n')
	}
	fmt.Fprint(t.out, b.String())
}

// Replay prints a stored transcript the way it looked live.
func (t *Terminal) Replay(rec memory.TranscriptRecord) {
	t.System("Transcript", fmt.Sprintf("Model: %s\nRole: %s\nSaved: %s",
		rec.Model, rec.Role, rec.Timestamp.Local().Format("2006-01-02 15:04:05")))
	for _, m := range rec.Conversation {
		switch m.Role {
		case memory.RoleSystem:
			fmt.Fprintf(t.out, "\n%s\n%s\n", t.accent.Sprint("Role preamble:"), m.Content)
		case memory.RoleUser:
			fmt.Fprintf(t.out, "\n%s%s\n", t.you.Sprint("You: "), m.Content)
		default:
			t.AssistantHeader()
			fmt.Fprintln(t.out, m.Content)
		}
	}
}

func (t *Terminal) printPanel(style lipgloss.Style, title, body string) {
	fmt.Fprintln(t.out, style.Render(t.title.Render(title)+"\n"+body))
}

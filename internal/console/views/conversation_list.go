package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/chatdesk/chatdesk/internal/sync"
)

// ConversationList is the main conversation table (K9s-inspired).
type ConversationList struct {
	*tview.Table
	entries    []sync.ConversationEntry
	selectedFn func() (int, int)
}

// NewConversationList creates a new conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the conversation list with new data.
func (cl *ConversationList) Update(entries []sync.ConversationEntry) {
	row, col := cl.selectedFn()
	cl.entries = entries
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Conversation").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Status").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Msgs").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Last Activity").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, e := range entries {
		r := i + 1
		name := shortUUID(e.UUID)
		if e.New {
			name = fmt.Sprintf("* %s", name)
		}
		if e.Archived() {
			name += " (archived)"
		}

		var lastAt int64
		if e.LastMessageAt != nil {
			lastAt = e.LastMessageAt.UnixMilli()
		}

		cl.SetCell(r, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(2))
		cl.SetCell(r, 1, tview.NewTableCell(" "+statusLabel(string(e.Status))).SetMaxWidth(14))
		cl.SetCell(r, 2, tview.NewTableCell(fmt.Sprintf(" %d", e.MessageCount)).SetMaxWidth(6))
		cl.SetCell(r, 3, tview.NewTableCell(" "+formatTimestamp(lastAt)).SetMaxWidth(14))
	}

	if row > 0 && row <= len(entries) {
		cl.Select(row, col)
	}
}

// Selected returns the uuid of the currently selected conversation.
func (cl *ConversationList) Selected() string {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.entries) {
		return cl.entries[idx].UUID
	}
	return ""
}

// AtBottom reports whether the selection sits on the last row.
func (cl *ConversationList) AtBottom() bool {
	row, _ := cl.selectedFn()
	return row >= len(cl.entries)
}

func shortUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

func statusLabel(status string) string {
	switch status {
	case "open":
		return "[yellow]open[-]"
	case "in_progress":
		return "[green]in progress[-]"
	case "closed":
		return "[gray]closed[-]"
	}
	return status
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

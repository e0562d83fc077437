package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/chatdesk/chatdesk/internal/model"
)

// MessageThread displays the messages of one conversation.
type MessageThread struct {
	*tview.TextView
	pinned bool
}

// NewMessageThread creates a new message thread view.
func NewMessageThread() *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	mt := &MessageThread{TextView: tv, pinned: true}
	return mt
}

// SetConversation updates the title with the conversation id.
func (mt *MessageThread) SetConversation(uuid string) {
	mt.SetTitle(fmt.Sprintf(" %s ", shortUUID(uuid)))
	mt.pinned = true
}

// prependScrollOffset keeps a couple of the newly loaded lines visible
// after an older page lands, so the reader is not flush against the top
// edge.
const prependScrollOffset = 2

// Update refreshes the thread. Messages arrive in chronological order.
// When prepended is nonzero the view adjusts the scroll offset by the
// rendered height of the new block so previously visible rows do not
// shift; otherwise it follows the tail while the reader is pinned to
// the bottom.
func (mt *MessageThread) Update(msgs []model.Message, prepended int) {
	row, _ := mt.GetScrollOffset()
	_, _, width, _ := mt.GetInnerRect()
	mt.Clear()

	prependedHeight := 0
	for i := range msgs {
		m := &msgs[i]
		sender := senderLabel(m)
		ts := formatTimestamp(m.CreatedAt.UnixMilli())
		suffix := ""
		if m.Pending {
			suffix = " [gray](sending...)[-]"
		}
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", sender, ts, suffix, m.Content)
		if i < prepended {
			prependedHeight += renderedHeight(line, width)
		}
		_, _ = fmt.Fprint(mt, line)
	}

	switch {
	case prepended > 0:
		mt.ScrollTo(row+prependedHeight+prependScrollOffset, 0)
	case mt.pinned:
		mt.ScrollToEnd()
	default:
		mt.ScrollTo(row, 0)
	}
}

// renderedHeight counts the screen lines one formatted message occupies
// at the given width, accounting for word wrap. A zero width means the
// view has not been drawn yet; lines then count unwrapped.
func renderedHeight(text string, width int) int {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if width <= 0 {
		return len(lines)
	}
	h := 0
	for _, l := range lines {
		if n := len(tview.WordWrap(l, width)); n > 1 {
			h += n
		} else {
			h++
		}
	}
	return h
}

// SetPinned marks whether the view follows new messages at the bottom.
func (mt *MessageThread) SetPinned(pinned bool) {
	mt.pinned = pinned
}

// Pinned reports whether the view follows the tail.
func (mt *MessageThread) Pinned() bool {
	return mt.pinned
}

func senderLabel(m *model.Message) string {
	switch m.Type {
	case model.MessageAgent:
		return "[green]You[-]"
	case model.MessageUser:
		return "[blue]Visitor[-]"
	case model.MessageAssistant:
		return "[magenta]Assistant[-]"
	case model.MessageSystem:
		return "[gray]System[-]"
	}
	return string(m.Type)
}

package console

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/console/views"
	"github.com/chatdesk/chatdesk/internal/status"
	"github.com/chatdesk/chatdesk/internal/sync"
)

// App is the agent console shell. All state lives in the reconcilers;
// the console renders their published snapshots and forwards key
// presses back as actions.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	list      *sync.ListReconciler
	thread    *sync.ThreadReconciler
	bus       *bus.Bus
	logger    *zap.Logger
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgThread *views.MessageThread
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the console application.
func NewApp(list *sync.ListReconciler, thread *sync.ThreadReconciler, b *bus.Bus, logger *zap.Logger, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		list:      list,
		thread:    thread,
		bus:       b,
		logger:    logger,
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgThread: views.NewMessageThread(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.statusBar.SetLink("connecting")
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		uuid := a.convList.Selected()
		if uuid != "" {
			a.openConversation(uuid)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			// A failure is surfaced once, via the send-failed bus event.
			if err := a.thread.Send(a.ctx, text); err != nil {
				a.logger.Warn("send failed", zap.Error(err))
			}
		}()
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgThread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("list", a.convList, true, true)
	a.pages.AddPage("thread", threadFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "thread" {
			a.pages.SwitchToPage("list")
			a.app.SetFocus(a.convList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// Scrolling past the edges drives pagination.
		switch event.Key() {
		case tcell.KeyDown:
			if currentPage == "list" && a.convList.AtBottom() && a.list.HasMore() {
				a.loadMore()
			}
			return event
		case tcell.KeyUp:
			if currentPage == "thread" {
				a.msgThread.SetPinned(false)
				if row, _ := a.msgThread.GetScrollOffset(); row == 0 && a.thread.HasOlder() {
					a.loadOlder()
				}
			}
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch currentPage {
		case "list":
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 'j':
				a.joinSelected()
				return nil
			case 'c':
				a.closeSelected()
				return nil
			case 'm':
				a.loadMore()
				return nil
			}
		case "thread":
			switch event.Rune() {
			case 'i':
				a.msgThread.SetPinned(true)
				a.app.SetFocus(a.composer.InputField)
				return nil
			case 'o':
				a.loadOlder()
				return nil
			case 'g':
				a.msgThread.SetPinned(false)
				a.msgThread.ScrollToBeginning()
				return nil
			case 'G':
				a.msgThread.SetPinned(true)
				a.msgThread.ScrollToEnd()
				return nil
			}
		}

		return event
	})
}

func (a *App) openConversation(uuid string) {
	a.list.MarkOpened(uuid)
	go func() {
		if err := a.thread.Open(a.ctx, uuid); err != nil {
			a.flash("Load failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgThread.SetConversation(uuid)
			a.pages.SwitchToPage("thread")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) joinSelected() {
	uuid := a.convList.Selected()
	if uuid == "" {
		return
	}
	go func() {
		if err := a.list.Join(a.ctx, uuid); err != nil {
			a.flash("Join failed: " + err.Error())
		}
	}()
}

func (a *App) closeSelected() {
	uuid := a.convList.Selected()
	if uuid == "" {
		return
	}
	go func() {
		if err := a.list.Close(a.ctx, uuid); err != nil {
			a.flash("Close failed: " + err.Error())
		}
	}()
}

func (a *App) loadMore() {
	if !a.list.HasMore() {
		a.flash("No more conversations")
		return
	}
	go func() {
		if err := a.list.LoadMore(a.ctx); err != nil {
			a.flash("Load failed: " + err.Error())
		}
	}()
}

func (a *App) loadOlder() {
	if !a.thread.HasOlder() {
		a.flash("No older messages")
		return
	}
	go func() {
		if _, err := a.thread.LoadOlder(a.ctx); err != nil {
			a.flash("Load failed: " + err.Error())
		}
	}()
}

func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
	})
}

// Run starts the console and blocks until it exits.
func (a *App) Run() error {
	a.startRedrawLoop()

	go a.app.QueueUpdateDraw(func() {
		a.convList.Update(a.list.Snapshot())
	})

	return a.app.Run()
}

// startRedrawLoop drives all screen updates from bus snapshots. The
// reconcilers publish after every change, so the console never reads
// shared state outside a snapshot.
func (a *App) startRedrawLoop() {
	ch, unsub := a.bus.Subscribe(256,
		bus.TopicListUpdated, bus.TopicThreadUpdated,
		bus.TopicSendFailed, bus.TopicLinkStatusChanged)

	ticker := time.NewTicker(time.Second)

	go func() {
		defer unsub()
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				a.handle(evt)
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.statusBar.Tick)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handle(evt bus.Event) {
	switch evt.Topic {
	case bus.TopicListUpdated:
		entries, ok := evt.Payload.([]sync.ConversationEntry)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(entries)
		})

	case bus.TopicThreadUpdated:
		snap, ok := evt.Payload.(sync.ThreadSnapshot)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			if snap.ConversationUUID == a.thread.Conversation() {
				a.msgThread.Update(snap.Messages, snap.Prepended)
			}
		})

	case bus.TopicSendFailed:
		if msg, ok := evt.Payload.(string); ok {
			a.flash("Send failed: " + msg)
		}

	case bus.TopicLinkStatusChanged:
		change, ok := evt.Payload.(status.Change)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetLink(strings.ToLower(string(change.To)))
			if change.To == status.Degraded {
				a.statusBar.SetFlash("Realtime link lost; showing REST state only")
			}
		})
	}
}

// Stop gracefully shuts down the console.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

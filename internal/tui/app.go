package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/pull"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageChats  = "chats"
	pageChat   = "chat"
	pageSearch = "search"

	flashTTL = 5 * time.Second
)

// Deps are the client components the terminal view reads and drives.
type Deps struct {
	Instance string
	Cache    *intsync.Store
	Status   *status.Model
	Repairer *client.Repairer
	Pull     *pull.Client
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	registry  *keys.Registry
	flash     *model.Flash
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	searchV   *views.SearchView
	deps      Deps
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(d Deps) *App {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		registry:  keys.NewRegistry(),
		flash:     model.NewFlash(),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(),
		deps:      d,
		ctx:       ctx,
		cancel:    cancel,
	}
	a.searchV = views.NewSearchView(a.chatName)

	a.statusBar.SetInstance(d.Instance)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:disconnect", Visible: true,
		Handler: a.simulateDisconnect,
	})
	a.registry.AddGlobal(&keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: a.showSearch,
	})
	a.registry.AddView(pageChats, &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:resync", Visible: true,
		Handler: a.resync,
	})
	a.registry.AddView(pageChat, &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:mark read", Visible: true,
		Handler: a.markRead,
	})
	a.registry.AddView(pageChat, &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:older", Visible: true,
		Handler: a.loadOlder,
	})
	a.registry.AddView(pageChat, &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:back", Visible: true,
		Handler: a.showChats,
	})
	a.registry.AddView(pageSearch, &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:back", Visible: true,
		Handler: a.showChats,
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != 0 {
			a.openChat(id)
		}
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if id := a.searchV.SelectedChat(); id != 0 {
			a.openChat(id)
		}
	})

	a.searchV.SetOnQuery(func(query string) {
		if query == "" {
			return
		}
		go func() {
			results, err := a.deps.Pull.SearchAllMessages(a.ctx, query)
			if err != nil {
				a.fail("Search", err)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, a.msgView, true, false)
	a.pages.AddPage(pageSearch, a.searchV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		// Let text input widgets handle all keys except Esc.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok && event.Key() != tcell.KeyEscape {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openChat(chatID int64) {
	a.deps.Cache.Open(chatID)
	a.msgView.SetChat(chatID, a.chatName(chatID))
	a.msgView.Update(a.deps.Cache.Messages(chatID))
	a.switchTo(pageChat, a.msgView)

	go func() {
		if _, err := a.deps.Repairer.LoadChat(a.ctx, chatID); err != nil {
			a.fail("Load", err)
		}
	}()
}

func (a *App) showChats() {
	a.deps.Cache.Open(0)
	a.switchTo(pageChats, a.chatList)
}

func (a *App) showSearch() {
	a.switchTo(pageSearch, a.searchV.Input())
}

func (a *App) switchTo(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) markRead() {
	chatID := a.msgView.ChatID()
	if chatID == 0 {
		return
	}
	go func() {
		if err := a.deps.Pull.MarkChatAsRead(a.ctx, chatID); err != nil {
			a.fail("Mark read", err)
			return
		}
		a.deps.Cache.MarkRead(chatID)
		a.flash.Set("Marked as read", flashTTL)
	}()
}

func (a *App) loadOlder() {
	chatID := a.msgView.ChatID()
	if chatID == 0 {
		return
	}
	go func() {
		n, err := a.deps.Repairer.LoadOlder(a.ctx, chatID)
		if err != nil {
			a.fail("Load older", err)
			return
		}
		if n == 0 {
			a.flash.Set("No older messages", flashTTL)
		}
		a.app.QueueUpdateDraw(a.refresh)
	}()
}

func (a *App) simulateDisconnect() {
	go func() {
		n, err := a.deps.Pull.SimulateDisconnect(a.ctx)
		if err != nil {
			a.fail("Disconnect", err)
			return
		}
		a.deps.Logger.Info("simulated disconnect", zap.Int("dropped", n))
		a.flash.Set("Server dropped its connections", flashTTL)
		a.app.QueueUpdateDraw(a.refresh)
	}()
}

func (a *App) resync() {
	go func() {
		res := a.deps.Repairer.Repair(a.ctx)
		a.deps.Logger.Info("manual resync", zap.Int("chats", res.Chats), zap.Int("messages", res.Messages))
	}()
}

func (a *App) fail(action string, err error) {
	if a.ctx.Err() != nil {
		return
	}
	a.deps.Logger.Warn(action+" failed", zap.Error(err))
	a.flash.Error(action, err, flashTTL)
	a.app.QueueUpdateDraw(a.refresh)
}

func (a *App) chatName(chatID int64) string {
	if s, ok := a.deps.Cache.Summary(chatID); ok {
		return s.Name
	}
	return ""
}

// refresh redraws every view from the cache and the status model. It must run
// on the UI goroutine.
func (a *App) refresh() {
	a.statusBar.SetStatus(a.deps.Status.Snapshot())
	a.statusBar.SetFlash(a.flash.Get())
	a.chatList.Update(a.deps.Cache.Chats())

	if page, _ := a.pages.GetFrontPage(); page == pageChat {
		a.msgView.Update(a.deps.Cache.Messages(a.msgView.ChatID()))
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	events, unsub := a.deps.Bus.Subscribe("", 64)
	defer unsub()

	go a.redrawLoop(events)

	a.statusBar.SetHints(a.registry.Hints(pageChats))
	a.refresh()
	err := a.app.Run()
	a.cancel()
	return err
}

// redrawLoop coalesces bus events into redraws and ticks once a second so
// the heartbeat age and flash stay current.
func (a *App) redrawLoop(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-events:
		drain:
			for {
				select {
				case <-events:
				default:
					break drain
				}
			}
			a.app.QueueUpdateDraw(a.refresh)
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.refresh)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

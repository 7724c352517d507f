// Package tui is the gocui presentation adapter for the chat client. It
// renders the client's event stream and feeds submitted lines back into
// the core.
package tui

import (
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"

	"tcpchat/internal/client"
	"tcpchat/internal/console"
)

type ChatUI struct {
	gui      *gocui.Gui
	client   *client.Client
	msgView  string
	inView   string
	statView string
	helpView string
	showHelp bool
	status   string
}

func New(c *client.Client, status string) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	ui := &ChatUI{
		gui:      g,
		client:   c,
		msgView:  "messages",
		inView:   "input",
		statView: "status",
		helpView: "help",
		status:   status,
	}

	g.SetManagerFunc(ui.layout)
	return ui, nil
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	msgHeight := maxY - 5

	if v, err := g.SetView(ui.msgView, 0, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(ui.statView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
		fmt.Fprint(v, ui.status)
	}

	if v, err := g.SetView(ui.inView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(ui.inView); err != nil {
			return err
		}
	}

	if ui.showHelp {
		if v, err := g.SetView(ui.helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, `Commands:
/pm <nick> <message> - Send private message
/history <nick>      - Show private history with a user
/exit                - Leave chat

Keybindings:
Ctrl-C          - Quit
Ctrl-H          - Toggle help
Enter           - Send message`)
		}
	} else {
		g.DeleteView(ui.helpView)
	}

	return nil
}

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(g *gocui.Gui, _ *gocui.View) error {
			ui.client.Close()
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}

	return ui.gui.SetKeybinding(ui.inView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *ChatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	ui.client.Submit(input)
	if input == "/exit" {
		return gocui.ErrQuit
	}
	return nil
}

// renderEvents appends each client event to the messages view.
func (ui *ChatUI) renderEvents() {
	for ev := range ui.client.Events() {
		line := console.Format(ev)
		ui.gui.Update(func(g *gocui.Gui) error {
			v, err := g.View(ui.msgView)
			if err != nil {
				return nil
			}
			fmt.Fprintln(v, line)
			return nil
		})
	}

	// Event stream ended: the session is over, stop the main loop.
	ui.gui.Update(func(*gocui.Gui) error {
		return gocui.ErrQuit
	})
}

func (ui *ChatUI) Run() error {
	if err := ui.keybindings(); err != nil {
		return err
	}

	go ui.renderEvents()

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) Close() {
	ui.gui.Close()
}

package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// console is a minimal tcell terminal UI: a scrolling history pane over
// a single input line, replacing the teacher's bufio.Scanner-over-
// stdin REPL with a real screen so zap's structured logs (written to a
// file, not stdout) never collide with the operator's typing.
type console struct {
	screen tcell.Screen

	mu      sync.Mutex
	history []string
	input   []rune
}

func newConsole() (*console, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.SetStyle(tcell.StyleDefault)
	screen.Clear()

	c := &console{screen: screen}
	c.draw()
	return c, nil
}

func (c *console) Close() {
	c.screen.Fini()
}

// Printf appends a formatted line to the scrollback history.
func (c *console) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.history = append(c.history, strings.TrimRight(line, "\n"))
	c.mu.Unlock()
	c.draw()
}

func (c *console) draw() {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, h := c.screen.Size()
	c.screen.Clear()

	historyRows := h - 2
	if historyRows < 0 {
		historyRows = 0
	}
	start := 0
	if len(c.history) > historyRows {
		start = len(c.history) - historyRows
	}
	row := 0
	for _, line := range c.history[start:] {
		emitStr(c.screen, 0, row, tcell.StyleDefault, line)
		row++
	}

	statusRow := h - 2
	emitStr(c.screen, 0, statusRow, tcell.StyleDefault.Reverse(true), strings.Repeat(" ", w))
	emitStr(c.screen, 0, h-1, tcell.StyleDefault, "> "+string(c.input))
	c.screen.ShowCursor(2+len(c.input), h-1)
	c.screen.Show()
}

func emitStr(s tcell.Screen, x, y int, style tcell.Style, str string) {
	for _, r := range str {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

// REPL reads terminal input until /quit, Esc, or Ctrl-C, handing every
// other non-empty line to onLine.
func (c *console) REPL(onLine func(string)) {
	for {
		ev := c.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventResize:
			c.screen.Sync()
			c.draw()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyCtrlC, tcell.KeyEscape:
				return
			case tcell.KeyEnter:
				line := strings.TrimSpace(string(c.input))
				c.input = c.input[:0]
				if line == "/quit" || line == "/exit" {
					return
				}
				if line != "" && onLine != nil {
					onLine(line)
				}
			case tcell.KeyBackspace, tcell.KeyBackspace2:
				if len(c.input) > 0 {
					c.input = c.input[:len(c.input)-1]
				}
			case tcell.KeyRune:
				c.input = append(c.input, ev.Rune())
			}
			c.draw()
		}
	}
}

package ui

import (
	"fmt"
	"testing"

	tui "github.com/gizak/termui/v3"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/edit"
)

func key(id string) tui.Event {
	return tui.Event{Type: tui.KeyboardEvent, ID: id}
}

func TestKeyDispatchDuringGesture(t *testing.T) {
	setups := []struct {
		name     string
		gesture  string
		key      string
		wantQuit bool
	}{
		{"q quits at rest", "", "q", true},
		{"ctrl-c quits at rest", "", "<C-c>", true},
		{"q is a rune inside a name gesture", "name for ab12cd34: Shimb_", "q", false},
		{"other runes forwarded too", "name for ab12cd34: Shimb_", "x", false},
		{"enter commits inside a gesture", "name for ab12cd34: Shimbashi_", "<Enter>", false},
		{"escape cancels, not quits", "weight for ab12cd34: 4_", "<Escape>", false},
		{"ctrl-c still quits inside a gesture", "weight for ab12cd34: 4_", "<C-c>", true},
	}
	for i, s := range setups {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			u := &UI{
				ed:   edit.NewEditor(rosen.NewMap(), edit.Config{}),
				nv:   NewNetworkView(),
				view: edit.View{Gesture: s.gesture},
			}
			if got := u.handle(key(s.key)); got != s.wantQuit {
				t.Errorf("handle(%q) quit = %t, want %t", s.key, got, s.wantQuit)
			}
		})
	}
}

// Package console is the minimal CLI operator console from spec section
// 9's observer-channel UI: single-keystroke commands (arm/stop/reset) plus
// a scrolling feed of supervisor events, adapted from the teacher's
// ui/keyboard.go singleton key-reader pattern. It is explicitly not the
// graphical operator console (batch-entry forms, counters, banners) the
// system's purpose excludes from the core.
package console

import (
	"sync"

	"github.com/eiannone/keyboard"
)

var (
	keyCh     chan rune
	startOnce sync.Once
)

// startKeyEvents opens the keyboard once and returns a buffered channel of
// single keystrokes (no Enter required), matching the teacher's
// StartKeyEvents. If the keyboard cannot be opened (e.g. no TTY), the
// channel is returned inert and never emits.
func startKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				if key == 0 {
					select {
					case keyCh <- char:
					default:
					}
				} else if key == keyboard.KeyEsc {
					select {
					case keyCh <- 27:
					default:
					}
				}
			}
		}()
	})
	if keyCh == nil {
		keyCh = make(chan rune, 64)
	}
	return keyCh
}

// drainKeys discards any keystrokes already buffered, so a stale keypress
// from before a menu was shown does not immediately trigger an action.
func drainKeys() {
	ch := startKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

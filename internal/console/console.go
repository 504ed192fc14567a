package console

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/CK6170/cartridge-scan-supervisor/internal/control"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
)

const banner = `
Cartridge scan supervisor -- operator console
  [A] arm batch (reads a batch spec file path)
  [S] stop / halt
  [C] reset counters
  [B] reset batch duplicates (prompts for batch id)
  [Q] quit
`

// Run shows the banner, streams bus events to stdout, and dispatches
// single-keystroke commands to ctl until the operator presses Q/ESC.
func Run(ctl *control.Controller, bus *events.Bus) {
	fmt.Print(banner)
	ch, token := bus.Subscribe(64)
	defer bus.Unsubscribe(token)

	go func() {
		for ev := range ch {
			printEvent(ev)
		}
	}()

	drainKeys()
	keys := startKeyEvents()
	stdin := bufio.NewReader(os.Stdin)

	for {
		k, ok := <-keys
		if !ok {
			return
		}
		switch k {
		case 'A', 'a':
			handleArm(ctl, stdin)
		case 'S', 's':
			ctl.Stop()
			fmt.Print("\033[93mbatch halted\033[0m\n")
		case 'C', 'c':
			ctl.ResetCounters()
			fmt.Print("\033[92mcounters reset\033[0m\n")
		case 'B', 'b':
			handleResetBatch(ctl, stdin)
		case 'Q', 'q', 27:
			fmt.Print("\033[92mexiting\033[0m\n")
			return
		}
	}
}

func handleArm(ctl *control.Controller, stdin *bufio.Reader) {
	fmt.Print("\033[92mbatch spec file path: \033[0m")
	path, _ := stdin.ReadString('\n')
	path = strings.TrimSpace(path)
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("\033[31mopen %s: %v\033[0m\n", path, err)
		return
	}
	defer f.Close()

	if err := ctl.Arm(f, true); err != nil {
		fmt.Printf("\033[31marm failed: %v\033[0m\n", err)
		return
	}
	fmt.Print("\033[92mbatch armed\033[0m\n")
}

func handleResetBatch(ctl *control.Controller, stdin *bufio.Reader) {
	fmt.Print("\033[93mbatch id to reset duplicates for: \033[0m")
	id, _ := stdin.ReadString('\n')
	id = strings.TrimSpace(id)
	if err := ctl.ResetBatch(id); err != nil {
		fmt.Printf("\033[31mreset batch failed: %v\033[0m\n", err)
		return
	}
	fmt.Printf("\033[92mduplicates cleared for %s\033[0m\n", id)
}

func printEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindScanCompleted:
		fmt.Printf("\033[96m[%s] qr=%s mould=%s outcome=%s (A=%d D=%d R=%d T=%d)\033[0m\n",
			ev.Time.Format("15:04:05"), ev.QR, ev.Mould, ev.Outcome, ev.Accepted, ev.Duplicate, ev.Rejected, ev.Total)
	case events.KindBatchArmed:
		fmt.Printf("\033[92m[%s] batch %s armed (line %s)\033[0m\n", ev.Time.Format("15:04:05"), ev.BatchId, ev.Line)
	case events.KindBatchHalted:
		fmt.Printf("\033[93m[%s] batch halted\033[0m\n", ev.Time.Format("15:04:05"))
	case events.KindLinkDown:
		fmt.Printf("\033[31m[%s] link down: %v\033[0m\n", ev.Time.Format("15:04:05"), ev.Err)
	case events.KindHardwareError:
		fmt.Printf("\033[31m[%s] hardware error: %v\033[0m\n", ev.Time.Format("15:04:05"), ev.Err)
	case events.KindSetupModeEntered:
		fmt.Printf("\033[93m[%s] setup mode entered\033[0m\n", ev.Time.Format("15:04:05"))
	case events.KindSensorUpdate:
		fmt.Printf("\033[90m[%s] sensor %s=%v\033[0m\n", ev.Time.Format("15:04:05"), ev.Name, ev.Value)
	case events.KindButtonUpdate:
		fmt.Printf("\033[90m[%s] button %s=%v\033[0m\n", ev.Time.Format("15:04:05"), ev.Name, ev.Value)
	case events.KindLCDText:
		fmt.Printf("\033[90m[%s] LCD: %s\033[0m\n", ev.Time.Format("15:04:05"), ev.Text)
	}
}

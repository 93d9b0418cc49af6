// Package repl is an interactive console for one replica: open it,
// link it to other peers, spawn and edit objects, tick, look inside.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ergochat/readline"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/network"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

// REPL per se.
type REPL struct {
	Host *metasync.Replica
	Net  *network.Net
	Log  utils.Logger
	// Out receives command output, stdout by default.
	Out io.Writer

	rl      *readline.Instance
	inspect *http.Server
}

var ErrNotOpen = errors.New("no replica open")
var ErrAlreadyOpen = errors.New("replica already open, close it first")

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("close"),

	readline.PcItem("listen"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),
	readline.PcItem("peers"),

	readline.PcItem("spawn",
		readline.PcItem("fixed"),
	),
	readline.PcItem("despawn"),
	readline.PcItem("write"),
	readline.PcItem("read"),
	readline.PcItem("request"),
	readline.PcItem("tick"),

	readline.PcItem("ls"),
	readline.PcItem("cat"),
	readline.PcItem("dump"),
	readline.PcItem("serve"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) out() io.Writer {
	if repl.Out == nil {
		return os.Stdout
	}
	return repl.Out
}

func (repl *REPL) Open() (err error) {
	if repl.Log == nil {
		repl.Log = utils.NopLogger()
	}
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".metasync_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.Host != nil {
		_ = repl.CommandClose(nil)
	}
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// REPL reads and runs one command. io.EOF means the user is done.
func (repl *REPL) REPL(ctx context.Context) error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return repl.Run(ctx, line)
}

// Run executes one command line.
func (repl *REPL) Run(ctx context.Context, line string) (err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd := args[0]
	args = args[1:]
	if repl.Host == nil {
		switch cmd {
		case "open", "help", "exit", "quit":
		default:
			return ErrNotOpen
		}
	}
	switch cmd {
	// replica open/close
	case "open":
		err = repl.CommandOpen(args)
	case "close":
		err = repl.CommandClose(args)
	case "exit", "quit":
		if repl.Host != nil {
			err = repl.CommandClose(args)
		}
		if err == nil {
			err = io.EOF
		}
	// ----- networking -----
	case "listen":
		err = repl.CommandListen(args)
	case "connect":
		err = repl.CommandConnect(args)
	case "disconnect":
		err = repl.CommandDisconnect(args)
	case "peers":
		err = repl.CommandPeers(args)
	// ----- object handling -----
	case "spawn":
		err = repl.CommandSpawn(ctx, args)
	case "despawn":
		err = repl.CommandDespawn(ctx, args)
	case "write":
		err = repl.CommandWrite(ctx, args)
	case "read":
		err = repl.CommandRead(args)
	case "request":
		err = repl.CommandRequest(ctx, args)
	case "tick":
		err = repl.CommandTick(ctx, args)
	case "ls", "list":
		err = repl.CommandList(args)
	case "cat":
		err = repl.CommandCat(args)
	// ----- debug -----
	case "dump":
		err = repl.CommandDump(args)
	case "serve":
		err = repl.CommandServe(args)
	case "help":
		_, _ = fmt.Fprintln(repl.out(), strings.Join(helps, "\n"))
	default:
		err = fmt.Errorf("command unknown: %s", cmd)
	}
	return
}

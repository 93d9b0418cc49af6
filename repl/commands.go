package repl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/classes"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/inspect"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/network"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
)

var (
	HelpOpen       = errors.New("open <src> [arbiter] [dir]     src and arbiter in hex")
	HelpListen     = errors.New("listen tcp://0.0.0.0:4000")
	HelpConnect    = errors.New("connect tcp://10.0.0.1:4000")
	HelpDisconnect = errors.New("disconnect <peer>")
	HelpSpawn      = errors.New("spawn [fixed] hp:int speed:float open:bool state:enum pose:buffer:1200")
	HelpDespawn    = errors.New("despawn <oid>")
	HelpWrite      = errors.New("write <oid> <key> <value>")
	HelpRead       = errors.New("read <oid> <key>")
	HelpRequest    = errors.New("request <oid>")
	HelpCat        = errors.New("cat <oid>")
	HelpServe      = errors.New("serve 127.0.0.1:8080")
)

var helps = []string{
	HelpOpen.Error(),
	"close",
	HelpListen.Error(),
	HelpConnect.Error(),
	HelpDisconnect.Error(),
	"peers",
	HelpSpawn.Error(),
	HelpDespawn.Error(),
	HelpWrite.Error(),
	HelpRead.Error(),
	HelpRequest.Error(),
	"tick",
	"ls",
	HelpCat.Error(),
	"dump",
	HelpServe.Error(),
	"exit",
}

func parseOid(s string) (rdx.ID, error) {
	return rdx.IDFromString(s)
}

// ParseValue reads a property value in its text form; buffers take the
// word as is.
func ParseValue(kind classes.Kind, s string) (v metasync.Value, err error) {
	switch kind {
	case classes.Int:
		var i int64
		i, err = strconv.ParseInt(s, 0, 64)
		v = metasync.IntValue(i)
	case classes.Float:
		var f float64
		f, err = strconv.ParseFloat(s, 64)
		v = metasync.FloatValue(f)
	case classes.Bool:
		var b bool
		b, err = strconv.ParseBool(s)
		v = metasync.BoolValue(b)
	case classes.Enum:
		var e uint64
		e, err = strconv.ParseUint(s, 0, 32)
		v = metasync.EnumValue(uint32(e))
	case classes.Buffer:
		v = metasync.BufferValue([]byte(s))
	default:
		err = fmt.Errorf("unsupported kind %s", kind)
	}
	return
}

func (repl *REPL) CommandOpen(args []string) (err error) {
	if repl.Host != nil {
		return ErrAlreadyOpen
	}
	if len(args) == 0 || len(args) > 3 {
		return HelpOpen
	}
	opts := metasync.Options{Logger: repl.Log}
	if opts.Src, err = strconv.ParseUint(args[0], 16, 64); err != nil {
		return HelpOpen
	}
	if len(args) > 1 {
		if opts.Arbiter, err = strconv.ParseUint(args[1], 16, 64); err != nil {
			return HelpOpen
		}
	}
	if len(args) > 2 {
		opts.Dir = args[2]
	}
	repl.Host, err = metasync.Open(opts)
	if err != nil {
		repl.Host = nil
		return
	}
	repl.Net = network.NewNet(repl.Log, repl.install, repl.destroy)
	_, _ = fmt.Fprintf(repl.out(), "replica %x opened, arbiter %x\n", repl.Host.Source(), repl.Host.Arbiter())
	return nil
}

func (repl *REPL) install(name string) protocol.FeedDrainCloserTraced {
	return &metasync.Syncer{
		Name:          name,
		Host:          repl.Host,
		Log:           repl.Log,
		Live:          true,
		WaitUntilNone: time.Second,
	}
}

func (repl *REPL) destroy(name string, p protocol.Traced) {
	if sync, ok := p.(*metasync.Syncer); ok {
		_ = sync.Close()
	}
}

func (repl *REPL) CommandClose(args []string) (err error) {
	if repl.inspect != nil {
		_ = repl.inspect.Close()
		repl.inspect = nil
	}
	if repl.Net != nil {
		err = repl.Net.Close()
		repl.Net = nil
	}
	if repl.Host != nil {
		err = errors.Join(err, repl.Host.Close())
		repl.Host = nil
	}
	if err == nil {
		_, _ = fmt.Fprintln(repl.out(), "replica closed")
	}
	return
}

func (repl *REPL) CommandListen(args []string) error {
	if len(args) != 1 {
		return HelpListen
	}
	return repl.Net.Listen(args[0])
}

func (repl *REPL) CommandConnect(args []string) error {
	if len(args) != 1 {
		return HelpConnect
	}
	return repl.Net.Connect(args[0])
}

func (repl *REPL) CommandDisconnect(args []string) error {
	if len(args) != 1 {
		return HelpDisconnect
	}
	return repl.Net.Disconnect(args[0])
}

func (repl *REPL) CommandPeers(args []string) error {
	for _, name := range repl.Net.Peers() {
		_, _ = fmt.Fprintln(repl.out(), name)
	}
	return nil
}

func (repl *REPL) CommandSpawn(ctx context.Context, args []string) error {
	policy := metasync.Transferable
	if len(args) > 0 && args[0] == "fixed" {
		policy = metasync.Fixed
		args = args[1:]
	}
	if len(args) == 0 {
		return HelpSpawn
	}
	class, err := classes.ParseFields(args)
	if err != nil {
		return err
	}
	oid, err := repl.Host.Spawn(ctx, class, policy)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(repl.out(), oid.String())
	return nil
}

func (repl *REPL) CommandDespawn(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return HelpDespawn
	}
	oid, err := parseOid(args[0])
	if err != nil {
		return err
	}
	return repl.Host.Despawn(ctx, oid)
}

// CommandWrite writes locally when we own the object and forwards the
// write to the authority otherwise.
func (repl *REPL) CommandWrite(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return HelpWrite
	}
	oid, err := parseOid(args[0])
	if err != nil {
		return err
	}
	class, err := repl.Host.Class(oid)
	if err != nil {
		return err
	}
	f, ok := class.At(class.Find(args[1]))
	if !ok {
		return fmt.Errorf("no property %q in %s", args[1], oid.String())
	}
	v, err := ParseValue(f.Kind, strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	return repl.Host.WriteOrForward(ctx, oid, f.Name, v)
}

func (repl *REPL) CommandRead(args []string) error {
	if len(args) != 2 {
		return HelpRead
	}
	oid, err := parseOid(args[0])
	if err != nil {
		return err
	}
	v, err := repl.Host.Read(oid, args[1])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(repl.out(), v.String())
	return nil
}

func (repl *REPL) CommandRequest(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return HelpRequest
	}
	oid, err := parseOid(args[0])
	if err != nil {
		return err
	}
	return repl.Host.RequestAuthority(ctx, oid)
}

func (repl *REPL) CommandTick(ctx context.Context, args []string) error {
	return repl.Host.Tick(ctx)
}

func (repl *REPL) CommandList(args []string) error {
	for _, info := range repl.Host.Objects() {
		mark := " "
		if info.Authority == repl.Host.Source() {
			mark = "*"
		}
		_, _ = fmt.Fprintf(repl.out(), "%s%s\t%x\t%s\t%d fields\n",
			mark, info.ID.String(), info.Authority, info.Policy, len(info.Class))
	}
	return nil
}

func (repl *REPL) CommandCat(args []string) error {
	if len(args) != 1 {
		return HelpCat
	}
	oid, err := parseOid(args[0])
	if err != nil {
		return err
	}
	info, err := repl.Host.Object(oid)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(repl.out(), "%s authority %x epoch %d rev %d %s\n",
		info.ID.String(), info.Authority, info.Epoch, info.Rev, info.Policy)
	for i, f := range info.Class {
		_, _ = fmt.Fprintf(repl.out(), "\t%s %s = %s\n", f.Name, f.Kind, info.Values[i].String())
	}
	return nil
}

func (repl *REPL) CommandDump(args []string) error {
	repl.Host.DumpAll(repl.out())
	return nil
}

// CommandServe exposes the object table and metrics over HTTP.
func (repl *REPL) CommandServe(args []string) error {
	if len(args) != 1 {
		return HelpServe
	}
	if repl.inspect != nil {
		_ = repl.inspect.Close()
	}
	reg, err := inspect.Registry(repl.Host.Collector())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              args[0],
		Handler:           inspect.NewServer(repl.Host, reg, repl.Log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	repl.inspect = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			repl.Log.Error("inspect: server failed", "addr", srv.Addr, "err", err)
		}
	}()
	_, _ = fmt.Fprintf(repl.out(), "serving on http://%s\n", args[0])
	return nil
}

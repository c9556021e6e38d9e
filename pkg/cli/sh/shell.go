// Package sh provides the ishell backed interactive shell shared by the
// straplink command line tools.
package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/wristware/straplink/pkg/env/host"
	"github.com/wristware/straplink/pkg/link"
	"github.com/wristware/straplink/pkg/link/mqtt"
	"github.com/wristware/straplink/pkg/strap"
	strapHost "github.com/wristware/straplink/pkg/strap/host"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoAttach  bool

	Shell      *ishell.Shell
	Config     *host.Config
	Attachment *Attachment
}

// Attachment is a running engine attached to one accessory.
type Attachment struct {
	Ctx    context.Context
	Cancel func()
	Ref    strap.AccessoryRef
	Conn   *mqtt.AccessoryConn
	Port   *link.Port
	Host   *strapHost.Host

	lock   sync.Mutex
	waiter chan strap.Event
}

const (
	shellKey         = "$shell"
	unattachedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&AttachCmd,
		&DetachCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *host.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unattachedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeAttached wraps command func requires an attached accessory.
func MustBeAttached(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Attachment == nil {
			c.Err(fmt.Errorf("not attached"))
			return
		}
		fn(c)
	}
}

// FormatInfo prints AccessoryInfo into friendly string for display.
func FormatInfo(info strap.AccessoryInfo) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "%s", info.Ref.Name())
	if info.Meta.Description != "" {
		fmt.Fprintf(&w, ": %s", info.Meta.Description)
	}
	return w.String()
}

// WithAutoAttach sets AutoAttach.
func (s *Shell) WithAutoAttach(en bool) *Shell {
	s.AutoAttach = en
	return s
}

// DiscoverAccessories discovers accessories on the registry.
func (s *Shell) DiscoverAccessories(filter func(strap.AccessoryInfo) bool) ([]strap.AccessoryInfo, error) {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return nil, err
	}
	infoList, err := connector.Discover(context.TODO())
	if err != nil {
		return nil, err
	}
	if filter != nil {
		items := make([]strap.AccessoryInfo, 0, len(infoList))
		for _, info := range infoList {
			if filter(info) {
				items = append(items, info)
			}
		}
		infoList = items
	}
	return infoList, nil
}

// SelectAccessory discovers accessories and asks for a choice.
func (s *Shell) SelectAccessory(filter func(strap.AccessoryInfo) bool) (*strap.AccessoryInfo, error) {
	infoList, err := s.DiscoverAccessories(filter)
	if err != nil {
		return nil, err
	}
	if len(infoList) == 0 {
		return nil, nil
	}
	var index int
	if len(infoList) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 accessories discovered in non-interactive mode")
		}
		items := make([]string, len(infoList))
		for n, info := range infoList {
			items[n] = FormatInfo(info)
		}
		index = s.Shell.MultiChoice(items, "Which one to attach?")
	}
	return &infoList[index], nil
}

// Attach attaches the accessory with ref and starts the engine.
func (s *Shell) Attach(ref strap.AccessoryRef) error {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return err
	}
	a := &Attachment{Ref: ref}
	a.Ctx, a.Cancel = context.WithCancel(context.Background())
	if a.Conn, err = connector.Connect(a.Ctx, ref); err != nil {
		a.Cancel()
		return err
	}
	a.Port = link.NewPort(a.Conn)
	a.Host = strapHost.New(strapHost.Config{Port: a.Port})
	if s.Attachment != nil {
		s.Detach()
	}
	s.Attachment = a
	go a.Port.Run(a.Ctx)
	go a.Host.Run(a.Ctx)
	go a.pumpEvents(s)
	a.Host.Subscribe()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", ref.Name()))
	return nil
}

// Detach tears down the current attachment.
func (s *Shell) Detach() {
	if a := s.Attachment; a != nil {
		a.Host.Unsubscribe()
		a.Cancel()
		a.Conn.Close()
		s.Attachment = nil
		s.Shell.SetPrompt(unattachedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoAttach && s.Config.Ref.IsValid() {
		if s.Interactive {
			s.Shell.Printf("Attaching %s ...\n", s.Config.Ref.Name())
		}
		if err := s.Attach(s.Config.Ref); err != nil {
			log.Fatalf("attach %q failed: %v", s.Config.Ref.Name(), err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Waiter captures the next request completion event. Arm it before
// issuing the request.
type Waiter struct {
	a  *Attachment
	ch chan strap.Event
}

// Expect arms a waiter for the next request completion event.
func (a *Attachment) Expect() *Waiter {
	w := &Waiter{a: a, ch: make(chan strap.Event, 1)}
	a.lock.Lock()
	a.waiter = w.ch
	a.lock.Unlock()
	return w
}

// Wait blocks for the completion event.
func (w *Waiter) Wait(timeout time.Duration) (strap.Event, error) {
	defer func() {
		w.a.lock.Lock()
		if w.a.waiter == w.ch {
			w.a.waiter = nil
		}
		w.a.lock.Unlock()
	}()
	select {
	case ev := <-w.ch:
		return ev, nil
	case <-time.After(timeout):
		return strap.Event{}, fmt.Errorf("no completion within %v", timeout)
	case <-w.a.Ctx.Done():
		return strap.Event{}, w.a.Ctx.Err()
	}
}

func (a *Attachment) pumpEvents(s *Shell) {
	for {
		select {
		case ev := <-a.Host.Events():
			if ev.Kind == strap.EventDataSent || ev.Kind == strap.EventDataReceived {
				a.lock.Lock()
				ch := a.waiter
				a.lock.Unlock()
				if ch != nil {
					select {
					case ch <- ev:
						continue
					default:
					}
				}
			}
			s.printEvent(ev)
		case <-a.Ctx.Done():
			return
		}
	}
}

func (s *Shell) printEvent(ev strap.Event) {
	switch ev.Kind {
	case strap.EventConnection:
		if ev.Connected {
			s.Shell.Printf("* connected\n")
		} else {
			s.Shell.Printf("* disconnected\n")
		}
	case strap.EventNotify:
		s.Shell.Printf("* notification from 0x%04x/0x%04x\n", uint16(ev.Service), uint16(ev.Attribute))
	default:
		s.Shell.Printf("* %v 0x%04x/0x%04x: %s\n",
			ev.Kind, uint16(ev.Service), uint16(ev.Attribute), ev.Result)
	}
}

var (
	// DiscoverCmd discovers accessories.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			infoList, err := s.DiscoverAccessories(nil)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(infoList) == 0 {
					// in case infoList is nil, make it empty slice.
					infoList = []strap.AccessoryInfo{}
				}
				out, err := json.Marshal(infoList)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(infoList) == 0 {
				c.Println("No accessories found")
				return
			}
			for _, info := range infoList {
				c.Println(FormatInfo(info))
			}
		},
	}

	// AttachCmd attaches an accessory.
	AttachCmd = ishell.Cmd{
		Name:    "attach",
		Aliases: []string{"a", "connect"},
		Help:    "TYPE ID",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var ref strap.AccessoryRef
			if len(c.Args) >= 2 {
				ref.Type, ref.ID = c.Args[0], c.Args[1]
			} else {
				var filter func(strap.AccessoryInfo) bool
				if len(c.Args) == 1 {
					filter = func(info strap.AccessoryInfo) bool {
						return info.Ref.Type == c.Args[0]
					}
				}
				info, err := s.SelectAccessory(filter)
				if err != nil {
					c.Err(err)
					return
				}
				if info == nil {
					c.Err(fmt.Errorf("no accessory discovered"))
					return
				}
				ref = info.Ref
			}
			if err := s.Attach(ref); err != nil {
				c.Err(err)
				return
			}
		},
	}

	// DetachCmd detaches the current accessory.
	DetachCmd = ishell.Cmd{
		Name:    "detach",
		Aliases: []string{"d", "disconnect"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Detach()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(host.NewConfig()).WithAutoAttach(true).Run(flag.Args()...)
}

// Package attrs provides shell commands to operate accessory attributes.
package attrs

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/wristware/straplink/pkg/cli/sh"
	"github.com/wristware/straplink/pkg/strap"
)

// DefaultBufferSize is the buffer size for attributes registered on demand.
const DefaultBufferSize = 512

var (
	// StatusCmd shows the connection state.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: sh.MustBeAttached(func(c *ishell.Context) {
			a := sh.ShellFrom(c).Attachment
			if a.Host.Connected() {
				c.Println("connected")
			} else {
				c.Println("disconnected")
			}
		}),
	}

	// ServicesCmd lists services discovered on the accessory.
	ServicesCmd = ishell.Cmd{
		Name:    "services",
		Aliases: []string{"svc"},
		Help:    "",
		Func: sh.MustBeAttached(func(c *ishell.Context) {
			a := sh.ShellFrom(c).Attachment
			services := a.Host.Services()
			if len(services) == 0 {
				c.Println("No services discovered")
				return
			}
			for _, svc := range services {
				c.Printf("0x%04x\n", uint16(svc))
			}
		}),
	}

	// ReadCmd issues a read request on an attribute.
	ReadCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "SERVICE ATTRIBUTE [TIMEOUT]",
		Func: sh.MustBeAttached(func(c *ishell.Context) {
			service, attribute, err := parseTarget(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			timeout, err := parseTimeout(c.Args, 2)
			if err != nil {
				c.Err(err)
				return
			}
			doExchange(c, service, attribute, strap.RequestRead, nil, timeout)
		}),
	}

	// WriteCmd issues a write request on an attribute.
	WriteCmd = ishell.Cmd{
		Name:    "write",
		Aliases: []string{"w"},
		Help:    "SERVICE ATTRIBUTE DATA (0x... for hex)",
		Func: sh.MustBeAttached(func(c *ishell.Context) {
			service, attribute, err := parseTarget(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("DATA required"))
				return
			}
			data, err := parseData(c.Args[2])
			if err != nil {
				c.Err(err)
				return
			}
			doExchange(c, service, attribute, strap.RequestWrite, data, 0)
		}),
	}

	// WriteReadCmd issues a write followed by a read in one request.
	WriteReadCmd = ishell.Cmd{
		Name:    "writeread",
		Aliases: []string{"wr"},
		Help:    "SERVICE ATTRIBUTE DATA [TIMEOUT]",
		Func: sh.MustBeAttached(func(c *ishell.Context) {
			service, attribute, err := parseTarget(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("DATA required"))
				return
			}
			data, err := parseData(c.Args[2])
			if err != nil {
				c.Err(err)
				return
			}
			timeout, err := parseTimeout(c.Args, 3)
			if err != nil {
				c.Err(err)
				return
			}
			doExchange(c, service, attribute, strap.RequestWriteRead, data, timeout)
		}),
	}
)

func parseTarget(args []string) (strap.ServiceID, strap.AttributeID, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("SERVICE and ATTRIBUTE required")
	}
	svc, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("Invalid SERVICE: %v", err)
	}
	attr, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("Invalid ATTRIBUTE: %v", err)
	}
	return strap.ServiceID(svc), strap.AttributeID(attr), nil
}

func parseTimeout(args []string, index int) (time.Duration, error) {
	if len(args) <= index {
		return 0, nil
	}
	timeout, err := time.ParseDuration(args[index])
	if err != nil {
		return 0, fmt.Errorf("Invalid TIMEOUT: %v", err)
	}
	return timeout, nil
}

func parseData(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		data, err := hex.DecodeString(arg[2:])
		if err != nil {
			return nil, fmt.Errorf("Invalid DATA: %v", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func doExchange(c *ishell.Context, service strap.ServiceID, attribute strap.AttributeID,
	kind strap.RequestKind, data []byte, timeout time.Duration) {
	a := sh.ShellFrom(c).Attachment
	h := a.Host
	if _, err := h.GetInfo(service, attribute); err != nil {
		size := DefaultBufferSize
		if len(data) > size {
			size = len(data)
		}
		if err = h.Register(service, attribute, size); err != nil {
			c.Err(err)
			return
		}
	}
	if kind.IsWrite() {
		if err := h.Write(service, attribute, data); err != nil {
			c.Err(err)
			return
		}
	}
	waiter := a.Expect()
	if err := h.DoRequest(service, attribute, kind, timeout); err != nil {
		c.Err(err)
		return
	}
	wait := timeout
	if wait <= 0 {
		wait = time.Second
	}
	ev, err := waiter.Wait(wait + 2*time.Second)
	if err != nil {
		c.Err(err)
		return
	}
	if ev.Result != strap.ResultOk {
		c.Err(fmt.Errorf("request failed: %s", ev.Result))
		return
	}
	if ev.Kind == strap.EventDataReceived && kind.IsRead() {
		payload, err := h.Data(service, attribute)
		if err != nil {
			c.Err(err)
			return
		}
		c.Printf("%d bytes\n", len(payload))
		c.Println(hex.Dump(payload))
		h.EventProcessed(service, attribute)
		return
	}
	c.Println("OK")
}

func init() {
	sh.AddCmds(
		&StatusCmd,
		&ServicesCmd,
		&ReadCmd,
		&WriteCmd,
		&WriteReadCmd,
	)
}

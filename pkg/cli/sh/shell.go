package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/genie.go/pkg/config"
	fx "github.com/robotalks/genie.go/pkg/framework"
	"github.com/robotalks/genie.go/pkg/genie/client"
	"github.com/robotalks/genie.go/pkg/genie/link"
	"github.com/robotalks/genie.go/pkg/genie/serial"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// CommandTimeout bounds a single display command.
	CommandTimeout time.Duration

	Shell  *ishell.Shell
	Config *config.Config
	Conn   *Conn
}

// Conn is a running client on an opened port.
type Conn struct {
	Device string
	Client *client.Client
	Runner *fx.Runner
}

// Opener opens the transport to the display.
type Opener func(conf *config.Config) (link.Transport, io.Closer, error)

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&PortsCmd,
		&ReadCmd,
		&WriteCmd,
		&ContrastCmd,
		&StringCmd,
		&UnicodeStringCmd,
		&EventsCmd,
		&ResyncCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds adds more commands, must be called before New.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive:    !evalOnly,
		OutputJSON:     outputJSON,
		CommandTimeout: 5 * time.Second,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// OpenSerial is the default Opener.
func OpenSerial(conf *config.Config) (link.Transport, io.Closer, error) {
	port, closer, err := conf.OpenPort()
	if err != nil {
		return nil, nil, err
	}
	return port, closer, nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens the display on device, or the configured one if empty.
func (s *Shell) Connect(device string) error {
	return s.ConnectWith(device, OpenSerial)
}

// ConnectWith connects the display using the opener.
// The current display is disconnected first as serial ports are opened exclusively.
func (s *Shell) ConnectWith(device string, open Opener) error {
	conf := *s.Config
	if device != "" {
		conf.Serial.Device = device
	}
	s.Disconnect()
	t, closer, err := open(&conf)
	if err != nil {
		return err
	}
	conn := &Conn{Device: conf.Serial.Device, Client: conf.NewClient(t)}
	run := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if r, ok := t.(fx.Runnable); ok {
		run = r.Run
	}
	conn.Runner = fx.NewRunner().Go(
		fx.NamedRun("port", fx.RunFunc(func(ctx context.Context) error {
			return fx.RunWithContextCloser(ctx, closer, func() error { return run(ctx) })
		})),
		fx.NamedRun("client", conn.Client),
	)
	s.Conn = conn
	s.setPrompt(fmt.Sprintf("%s > ", conn.Device))
	return nil
}

// Disconnect disconnects current display.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Runner.Stop()
		s.Conn.Runner.Wait()
		s.Conn = nil
		s.setPrompt(unconnectedPrompt)
	}
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Context creates the context for a single command.
func (s *Shell) Context() (context.Context, func()) {
	return context.WithTimeout(context.Background(), s.CommandTimeout)
}

// Print prints v in JSON if requested, otherwise the text.
func (s *Shell) Print(c *ishell.Context, v interface{}, text string) {
	if !s.OutputJSON {
		c.Println(text)
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Serial.Device)
		}
		if err := s.Connect(""); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Serial.Device, err)
		}
	}
	defer s.Disconnect()

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

// ObjectValue is the output of reading an object.
type ObjectValue struct {
	Object byte   `json:"object"`
	Type   string `json:"type"`
	Index  byte   `json:"index"`
	Value  uint16 `json:"value"`
}

// String formats as type[index]=value.
func (v ObjectValue) String() string {
	return fmt.Sprintf("%s[%d]=%d", v.Type, v.Index, v.Value)
}

// FrameValue converts a frame from the display.
func FrameValue(f link.Frame) ObjectValue {
	return ObjectValue{
		Object: f.Object(),
		Type:   link.ObjectType(f.Object()).String(),
		Index:  f.Index(),
		Value:  f.Data(),
	}
}

// ParseObjectArgs parses OBJ IDX at the beginning of args.
func ParseObjectArgs(args []string) (object, index byte, err error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("OBJ IDX expected")
	}
	typ, err := link.ParseObjectType(args[0])
	if err != nil {
		return 0, 0, err
	}
	if index, err = ParseByte(args[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid index %q", args[1])
	}
	return byte(typ), index, nil
}

// ParseByte parses a decimal or prefixed number into a byte.
func ParseByte(s string) (byte, error) {
	val, err := strconv.ParseUint(s, 0, 8)
	return byte(val), err
}

// JoinText joins the remaining args as the text of a string command.
func JoinText(args []string) string {
	return strings.Join(args, " ")
}

func doCommand(c *ishell.Context, fn func(ctx context.Context, cl *client.Client) error) {
	s := ShellFrom(c)
	ctx, cancel := s.Context()
	defer cancel()
	if err := fn(ctx, s.Conn.Client); err != nil {
		c.Err(err)
		return
	}
	s.Print(c, map[string]bool{"ok": true}, "OK")
}

var (
	// ConnectCmd connects a display.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[DEVICE]",
		Func: func(c *ishell.Context) {
			var device string
			if len(c.Args) > 0 {
				device = c.Args[0]
			}
			if err := ShellFrom(c).Connect(device); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current display.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			ports, err := serial.Ports()
			if err != nil {
				c.Err(err)
				return
			}
			if ports == nil {
				ports = []string{}
			}
			if len(ports) == 0 && !s.OutputJSON {
				c.Println("No serial ports found")
				return
			}
			s.Print(c, ports, strings.Join(ports, "\n"))
		},
	}

	// ReadCmd reads an object.
	ReadCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "OBJ IDX",
		Func: MustBeConnected(func(c *ishell.Context) {
			object, index, err := ParseObjectArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			ctx, cancel := s.Context()
			defer cancel()
			val, err := s.Conn.Client.ReadObject(ctx, object, index)
			if err != nil {
				c.Err(err)
				return
			}
			v := FrameValue(link.NewFrame(link.ReportObject, object, index, val))
			s.Print(c, v, v.String())
		}),
	}

	// WriteCmd writes an object.
	WriteCmd = ishell.Cmd{
		Name:    "write",
		Aliases: []string{"w"},
		Help:    "OBJ IDX VALUE",
		Func: MustBeConnected(func(c *ishell.Context) {
			object, index, err := ParseObjectArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) != 3 {
				c.Err(fmt.Errorf("VALUE expected"))
				return
			}
			val, err := strconv.ParseUint(c.Args[2], 0, 16)
			if err != nil {
				c.Err(fmt.Errorf("invalid value %q", c.Args[2]))
				return
			}
			doCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.WriteObject(ctx, object, index, uint16(val))
			})
		}),
	}

	// ContrastCmd sets the contrast.
	ContrastCmd = ishell.Cmd{
		Name:    "contrast",
		Aliases: []string{"ct"},
		Help:    "VALUE",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("VALUE expected"))
				return
			}
			val, err := ParseByte(c.Args[0])
			if err != nil || val > 15 {
				c.Err(fmt.Errorf("invalid contrast %q", c.Args[0]))
				return
			}
			doCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.WriteContrast(ctx, val)
			})
		}),
	}

	// StringCmd writes an ASCII string.
	StringCmd = ishell.Cmd{
		Name:    "str",
		Aliases: []string{"s"},
		Help:    "IDX TEXT...",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("IDX expected"))
				return
			}
			index, err := ParseByte(c.Args[0])
			if err != nil {
				c.Err(fmt.Errorf("invalid index %q", c.Args[0]))
				return
			}
			doCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.WriteString(ctx, index, JoinText(c.Args[1:]))
			})
		}),
	}

	// UnicodeStringCmd writes a Unicode string.
	UnicodeStringCmd = ishell.Cmd{
		Name:    "ustr",
		Aliases: []string{"u"},
		Help:    "IDX TEXT...",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("IDX expected"))
				return
			}
			index, err := ParseByte(c.Args[0])
			if err != nil {
				c.Err(fmt.Errorf("invalid index %q", c.Args[0]))
				return
			}
			doCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.WriteStringUnicode(ctx, index, JoinText(c.Args[1:]))
			})
		}),
	}

	// EventsCmd prints received events, optionally waiting for more.
	EventsCmd = ishell.Cmd{
		Name:    "events",
		Aliases: []string{"e"},
		Help:    "[WAIT]",
		Func: MustBeConnected(func(c *ishell.Context) {
			var wait time.Duration
			if len(c.Args) > 0 {
				var err error
				if wait, err = time.ParseDuration(c.Args[0]); err != nil {
					c.Err(err)
					return
				}
			}
			s := ShellFrom(c)
			timeout := time.After(wait)
			for {
				select {
				case f := <-s.Conn.Client.EventChan():
					v := FrameValue(f)
					s.Print(c, v, v.String())
					continue
				default:
				}
				select {
				case f := <-s.Conn.Client.EventChan():
					v := FrameValue(f)
					s.Print(c, v, v.String())
				case <-timeout:
					return
				}
			}
		}),
	}

	// ResyncCmd resyncs the link.
	ResyncCmd = ishell.Cmd{
		Name: "resync",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			doCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.Resync(ctx)
			})
		}),
	}

	// StatusCmd prints the link status.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			ctx, cancel := s.Context()
			defer cancel()
			st, err := s.Conn.Client.Status(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, st, FormatStatus(st))
		}),
	}
)

// FormatStatus prints Status into friendly string for display.
func FormatStatus(st client.Status) string {
	return fmt.Sprintf("state=%s error=%s timeouts=%d fatals=%d pending=%d overflows=%d",
		st.StateName, st.ErrorName, st.Timeouts, st.Fatals, st.Pending, st.Overflows)
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(config.MustLoad()).WithAutoConnect(true).Run(flag.Args()...)
}

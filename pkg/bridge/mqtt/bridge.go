package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/genie.go/pkg/genie/link"
)

// Topics relative to the topic prefix.
const (
	CommandTopics = "cmd/#"
	ErrorTopic    = "error"
	StatusTopic   = "status"
	EventTopic    = "event"
	ReportTopic   = "report"
)

// Status payloads published retained on StatusTopic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultCommandTimeout bounds a single display command.
const DefaultCommandTimeout = 5 * time.Second

const commandBuffer = 16

var errInvalidTopic = errors.New("invalid command topic")

// Display is what the bridge needs from a display client.
type Display interface {
	ReadObject(ctx context.Context, object, index byte) (uint16, error)
	WriteObject(ctx context.Context, object, index byte, value uint16) error
	WriteContrast(ctx context.Context, value byte) error
	WriteString(ctx context.Context, index byte, s string) error
	WriteStringUnicode(ctx context.Context, index byte, s string) error
	EventChan() <-chan link.Frame
}

// FrameMessage is the JSON form of a frame from the display.
type FrameMessage struct {
	Cmd    string `json:"cmd"`
	Object byte   `json:"object"`
	Type   string `json:"type"`
	Index  byte   `json:"index"`
	Value  uint16 `json:"value"`
}

// ErrorMessage is published when a command fails.
type ErrorMessage struct {
	Topic string `json:"topic"`
	Error string `json:"error"`
}

// NewFrameMessage converts a frame.
func NewFrameMessage(f link.Frame) FrameMessage {
	msg := FrameMessage{
		Cmd:    "report",
		Object: f.Object(),
		Type:   link.ObjectType(f.Object()).String(),
		Index:  f.Index(),
		Value:  f.Data(),
	}
	if f.IsEvent() {
		msg.Cmd = "event"
	}
	return msg
}

// ClientID generates a client id stable on this machine.
func ClientID() string {
	id, err := machineid.ProtectedID("genie")
	if err != nil {
		glog.Warningf("machine id unavailable: %v", err)
		return ""
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "genie-" + id
}

type message struct {
	topic   string
	payload []byte
}

// Bridge publishes display events to MQTT and executes commands
// received from MQTT on the display.
type Bridge struct {
	Queue          *Queue
	Display        Display
	CommandTimeout time.Duration

	cmdCh   chan message
	offline atomic.Bool
	dropped atomic.Int64
}

// NewBridge creates a Bridge connecting to the broker at brokerURL.
// clientID is used when the URL doesn't specify one.
func NewBridge(brokerURL, clientID string, display Display) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}
	if opts.ClientID == "" {
		if clientID == "" {
			clientID = ClientID()
		}
		opts.SetClientID(clientID)
	}
	opts.SetBinaryWill(topicPrefix+StatusTopic, []byte(StatusOffline), 1, true)
	return NewBridgeWithQueue(NewQueue(opts, topicPrefix), display), nil
}

// NewBridgeWithQueue creates a Bridge on an existing Queue.
func NewBridgeWithQueue(q *Queue, display Display) *Bridge {
	b := &Bridge{
		Queue:          q,
		Display:        display,
		CommandTimeout: DefaultCommandTimeout,
		cmdCh:          make(chan message, commandBuffer),
	}
	q.OnConnect = func(q *Queue) {
		b.offline.Store(false)
		if n := b.dropped.Swap(0); n > 0 {
			glog.Warningf("%d frames dropped while disconnected", n)
		}
		q.PubWith(StatusTopic, []byte(StatusOnline), 1, true)
	}
	q.OnDisconnect = func(*Queue) {
		b.offline.Store(true)
	}
	return b
}

// Run implements Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer b.Queue.Close()
	sub := b.Queue.Sub(CommandTopics, b.enqueue)
	defer sub.Close()

	events := b.Display.EventChan()
	for {
		select {
		case <-ctx.Done():
			b.Queue.PubWith(StatusTopic, []byte(StatusOffline), 1, true).Wait()
			return ctx.Err()
		case f := <-events:
			b.PublishFrame(f)
		case msg := <-b.cmdCh:
			b.HandleCommand(ctx, msg.topic, msg.payload)
		}
	}
}

// enqueue is called from the MQTT client, commands are executed in Run
// so the client is never blocked by the display.
func (b *Bridge) enqueue(topic string, payload []byte) {
	select {
	case b.cmdCh <- message{topic: topic, payload: payload}:
	default:
		glog.Warningf("command queue full, drop %q", topic)
		b.publishError(topic, errors.New("busy"))
	}
}

// PublishFrame publishes a frame from the display.
// Frames are dropped while the broker connection is lost.
func (b *Bridge) PublishFrame(f link.Frame) {
	if b.offline.Load() {
		b.dropped.Add(1)
		glog.V(1).Infof("mqtt disconnected, drop %s", f)
		return
	}
	topic := ReportTopic
	if f.IsEvent() {
		topic = EventTopic
	}
	b.publishJSON(frameTopic(topic, f.Object(), f.Index()), NewFrameMessage(f))
}

// HandleCommand executes a command received on topic.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) {
	if b.CommandTimeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, b.CommandTimeout)
		defer cancel()
	}
	if err := b.execute(ctx, topic, payload); err != nil {
		glog.Warningf("command %q failed: %v", topic, err)
		b.publishError(topic, err)
	}
}

func (b *Bridge) execute(ctx context.Context, topic string, payload []byte) error {
	args := strings.Split(topic, "/")
	if len(args) < 2 || args[0] != "cmd" {
		return errInvalidTopic
	}
	cmd, args := args[1], args[2:]
	text := strings.TrimSpace(string(payload))
	switch cmd {
	case "read":
		object, index, err := parseObjectRef(args)
		if err != nil {
			return err
		}
		val, err := b.Display.ReadObject(ctx, object, index)
		if err != nil {
			return err
		}
		b.PublishFrame(link.NewFrame(link.ReportObject, object, index, val))
		return nil
	case "write":
		object, index, err := parseObjectRef(args)
		if err != nil {
			return err
		}
		val, err := strconv.ParseUint(text, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		return b.Display.WriteObject(ctx, object, index, uint16(val))
	case "contrast":
		if len(args) != 0 {
			return errInvalidTopic
		}
		val, err := strconv.ParseUint(text, 0, 8)
		if err != nil || val > 15 {
			return fmt.Errorf("invalid contrast %q", text)
		}
		return b.Display.WriteContrast(ctx, byte(val))
	case "string", "ustring":
		if len(args) != 1 {
			return errInvalidTopic
		}
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		if cmd == "ustring" {
			return b.Display.WriteStringUnicode(ctx, index, string(payload))
		}
		return b.Display.WriteString(ctx, index, string(payload))
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (b *Bridge) publishJSON(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("encode %s: %v", topic, err)
		return
	}
	b.Queue.Pub(topic, payload)
}

func (b *Bridge) publishError(topic string, err error) {
	b.publishJSON(ErrorTopic, &ErrorMessage{Topic: topic, Error: err.Error()})
}

func frameTopic(prefix string, object, index byte) string {
	return prefix + "/" + link.ObjectType(object).String() + "/" + strconv.Itoa(int(index))
}

func parseObjectRef(args []string) (object, index byte, err error) {
	if len(args) != 2 {
		return 0, 0, errors.New("object and index expected")
	}
	typ, err := link.ParseObjectType(args[0])
	if err != nil {
		return 0, 0, err
	}
	index, err = parseIndex(args[1])
	return byte(typ), index, err
}

func parseIndex(s string) (byte, error) {
	val, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return byte(val), nil
}

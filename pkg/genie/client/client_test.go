package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/genie.go/pkg/genie/link"
)

type objKey struct {
	object, index byte
}

// fakeDisplay answers commands like a display would.
type fakeDisplay struct {
	lock     sync.Mutex
	in       []byte
	cmd      []byte
	values   map[objKey]uint16
	strs     map[byte][]byte
	contrast byte
	nak      bool
	silent   bool
	before   []link.Frame
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		values: make(map[objKey]uint16),
		strs:   make(map[byte][]byte),
	}
}

func (d *fakeDisplay) TryReadByte() (byte, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.in) == 0 {
		return 0, false
	}
	b := d.in[0]
	d.in = d.in[1:]
	return b, true
}

func (d *fakeDisplay) WriteByte(b byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.cmd = append(d.cmd, b)
	if n := d.cmdLen(); n > 0 && len(d.cmd) == n {
		cmd := d.cmd
		d.cmd = nil
		d.handle(cmd)
	}
	return nil
}

func (d *fakeDisplay) cmdLen() int {
	switch d.cmd[0] {
	case link.ReadObject:
		return 4
	case link.WriteObject:
		return 6
	case link.WriteContrast:
		return 3
	case link.WriteString, link.WriteStringUnicode:
		if len(d.cmd) < 3 {
			return 0
		}
		n := int(d.cmd[2])
		if d.cmd[0] == link.WriteStringUnicode {
			n *= 2
		}
		return n + 4
	}
	return 1
}

func (d *fakeDisplay) handle(cmd []byte) {
	for _, f := range d.before {
		d.in = append(d.in, f[:]...)
	}
	d.before = nil
	if d.silent {
		return
	}
	if link.Checksum(cmd...) != 0 {
		d.in = append(d.in, link.Nak)
		return
	}
	switch cmd[0] {
	case link.ReadObject:
		f := link.NewFrame(link.ReportObject, cmd[1], cmd[2], d.values[objKey{cmd[1], cmd[2]}])
		d.in = append(d.in, f[:]...)
		return
	case link.WriteObject:
		d.values[objKey{cmd[1], cmd[2]}] = uint16(cmd[3])<<8 | uint16(cmd[4])
	case link.WriteContrast:
		d.contrast = cmd[1]
	case link.WriteString, link.WriteStringUnicode:
		d.strs[cmd[1]] = append([]byte(nil), cmd[3:len(cmd)-1]...)
	}
	if d.nak {
		d.in = append(d.in, link.Nak)
	} else {
		d.in = append(d.in, link.Ack)
	}
}

func (d *fakeDisplay) emit(f link.Frame) {
	d.lock.Lock()
	d.in = append(d.in, f[:]...)
	d.lock.Unlock()
}

func (d *fakeDisplay) with(fn func(*fakeDisplay)) {
	d.lock.Lock()
	fn(d)
	d.lock.Unlock()
}

type clientTestEnv struct {
	display *fakeDisplay
	client  *Client
	cancel  func()
	errCh   chan error
}

func newClientTestEnv(t *testing.T) *clientTestEnv {
	env := &clientTestEnv{display: newFakeDisplay(), errCh: make(chan error, 1)}
	drv := link.NewDriver(env.display)
	drv.Timeout = 50 * time.Millisecond
	drv.ResyncPeriod = time.Millisecond
	env.client = New(drv)
	var ctx context.Context
	ctx, env.cancel = context.WithCancel(context.Background())
	go func() { env.errCh <- env.client.Run(ctx) }()
	t.Cleanup(env.stop)
	return env
}

func (e *clientTestEnv) stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.errCh
		e.cancel = nil
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientReadObject(t *testing.T) {
	env := newClientTestEnv(t)
	env.display.with(func(d *fakeDisplay) {
		d.values[objKey{byte(link.ObjMeter), 0}] = 300
	})
	val, err := env.client.ReadObject(testContext(t), byte(link.ObjMeter), 0)
	require.NoError(t, err)
	require.Equal(t, uint16(300), val)
}

func TestClientWriteThenRead(t *testing.T) {
	env := newClientTestEnv(t)
	ctx := testContext(t)
	require.NoError(t, env.client.WriteObject(ctx, byte(link.ObjGauge), 1, 42))
	val, err := env.client.ReadObject(ctx, byte(link.ObjGauge), 1)
	require.NoError(t, err)
	require.Equal(t, uint16(42), val)
}

func TestClientNak(t *testing.T) {
	env := newClientTestEnv(t)
	env.display.with(func(d *fakeDisplay) { d.nak = true })
	err := env.client.WriteObject(testContext(t), byte(link.ObjLed), 0, 1)
	require.True(t, errors.Is(err, link.ErrorNak))
}

func TestClientTimeout(t *testing.T) {
	env := newClientTestEnv(t)
	env.display.with(func(d *fakeDisplay) { d.silent = true })
	_, err := env.client.ReadObject(testContext(t), byte(link.ObjMeter), 0)
	require.True(t, errors.Is(err, link.ErrorTimeout))
	st, err := env.client.Status(testContext(t))
	require.NoError(t, err)
	require.Equal(t, 1, st.Timeouts)
	require.Equal(t, link.StateIdle, st.State)
}

func TestClientTimeoutsCountOnce(t *testing.T) {
	env := newClientTestEnv(t)
	ctx := testContext(t)
	env.display.with(func(d *fakeDisplay) { d.silent = true })
	for i := 0; i < 3; i++ {
		err := env.client.WriteObject(ctx, byte(link.ObjLed), 0, 1)
		require.True(t, errors.Is(err, link.ErrorTimeout))
	}
	st, err := env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, st.Timeouts)
	require.Equal(t, 3, st.Fatals)

	env.display.with(func(d *fakeDisplay) { d.silent = false })
	require.NoError(t, env.client.WriteObject(ctx, byte(link.ObjLed), 0, 1))
	st, err = env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.Fatals)
}

func TestClientEvents(t *testing.T) {
	env := newClientTestEnv(t)
	event := link.NewFrame(link.ReportEvent, byte(link.ObjWinButton), 3, 1)
	env.display.emit(event)
	select {
	case f := <-env.client.EventChan():
		require.Equal(t, event, f)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestClientEventBeforeReport(t *testing.T) {
	env := newClientTestEnv(t)
	event := link.NewFrame(link.ReportEvent, byte(link.ObjSlider), 0, 9)
	env.display.with(func(d *fakeDisplay) {
		d.values[objKey{byte(link.ObjMeter), 2}] = 77
		d.before = []link.Frame{event}
	})
	val, err := env.client.ReadObject(testContext(t), byte(link.ObjMeter), 2)
	require.NoError(t, err)
	require.Equal(t, uint16(77), val)
	select {
	case f := <-env.client.EventChan():
		require.Equal(t, event, f)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestClientWriteStrings(t *testing.T) {
	env := newClientTestEnv(t)
	ctx := testContext(t)
	require.NoError(t, env.client.WriteString(ctx, 0, "hello"))
	require.NoError(t, env.client.WriteStringUnicode(ctx, 1, "hé"))
	require.NoError(t, env.client.WriteContrast(ctx, 15))
	require.Equal(t, link.ErrStringTooLong, env.client.WriteString(ctx, 0, string(make([]byte, 300))))
	env.display.with(func(d *fakeDisplay) {
		require.Equal(t, []byte("hello"), d.strs[0])
		require.Equal(t, []byte{0, 'h', 0, 0xe9}, d.strs[1])
		require.Equal(t, byte(15), d.contrast)
	})
}

func TestClientResync(t *testing.T) {
	env := newClientTestEnv(t)
	ctx := testContext(t)
	env.display.with(func(d *fakeDisplay) { d.silent = true })
	require.Error(t, env.client.WriteContrast(ctx, 1))
	require.NoError(t, env.client.Resync(ctx))
	st, err := env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, link.StateIdle, st.State)
	require.Equal(t, link.ErrorResync, st.Error)
	require.Equal(t, "idle", st.StateName)
	require.Equal(t, 0, st.Timeouts)
}

func TestClientCanceled(t *testing.T) {
	env := newClientTestEnv(t)
	env.stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.client.ReadObject(ctx, 1, 0)
	require.Equal(t, context.Canceled, err)
}

type closingTransport struct {
	*fakeDisplay
	doneCh chan struct{}
}

func (c *closingTransport) Done() <-chan struct{} {
	return c.doneCh
}

func TestClientTransportClosed(t *testing.T) {
	tr := &closingTransport{fakeDisplay: newFakeDisplay(), doneCh: make(chan struct{})}
	c := New(link.NewDriver(tr))
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	close(tr.doneCh)
	select {
	case err := <-errCh:
		require.Equal(t, ErrTransportClosed, err)
	case <-time.After(time.Second):
		t.Fatal("Run didn't stop")
	}
}

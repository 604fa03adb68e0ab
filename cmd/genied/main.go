package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/genie.go/pkg/config"
	fx "github.com/robotalks/genie.go/pkg/framework"
	"github.com/robotalks/genie.go/pkg/genie/link"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := config.MustLoad()
	port, closer, err := conf.OpenPort()
	if err != nil {
		glog.Exit(err)
	}
	cl := conf.NewClient(port)
	cl.Driver.AttachErrorHandler(link.HandleErrorFunc(func(d *link.Driver, code link.ErrorCode) {
		if code == link.ErrorNoDisplay {
			glog.Error("display not responding, resync")
			d.Resync()
		}
	}))
	bridge, err := conf.NewBridge(cl)
	if err != nil {
		closer.Close()
		glog.Exit(err)
	}

	err = fx.NewRunner().HandleSignals().Go(
		fx.NamedRun("port", fx.RunFunc(func(ctx context.Context) error {
			return fx.RunWithContextCloser(ctx, closer, func() error { return port.Run(ctx) })
		})),
		fx.NamedRun("client", cl),
		fx.NamedRun("mqtt", bridge),
	).Wait()
	if err != nil {
		glog.Exit(err)
	}
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mossy-p/peercam/config"
	"github.com/mossy-p/peercam/internal/logger"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/mossy-p/peercam/internal/transport"
	"go.uber.org/zap"
)

var devices = []transport.Device{
	{ID: "synthetic-0", Label: "Synthetic camera (front)"},
	{ID: "synthetic-1", Label: "Synthetic camera (back)"},
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: peercam <command> [flags]

commands:
  camera            register and wait for viewers
  viewer <id>       call the camera with the given id
  devices           list capture devices
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	signalURL := fs.String("signal", cfg.SignalURL, "signaling WebSocket URL")
	deviceID := fs.String("device", cfg.DeviceID, "capture device id")
	fs.Parse(os.Args[2:])

	if err := logger.Init(cfg.Log, "production"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := transport.NewSyntheticSource(logger.Named("capture"), devices...)

	switch os.Args[1] {
	case "devices":
		list, _ := source.Devices(ctx)
		for _, d := range list {
			fmt.Printf("%s\t%s\n", d.ID, d.Label)
		}
		return
	case "camera":
		err = runCamera(ctx, cfg, *signalURL, *deviceID, source)
	case "viewer":
		if fs.NArg() != 1 {
			usage()
		}
		err = runViewer(ctx, cfg, *signalURL, fs.Arg(0), source)
	default:
		usage()
	}
	if err != nil {
		logger.Error("peercam failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *config.ClientConfig, url string, source *transport.SyntheticSource) (*transport.Adapter, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sig, err := transport.Dial(dialCtx, url, logger.Named("signaler"))
	if err != nil {
		return nil, err
	}
	newPeer, err := transport.NewPionFactory(transport.PionConfig{
		STUNURLs: cfg.STUNURLs,
		Logger:   logger.Lg,
	})
	if err != nil {
		sig.Close()
		return nil, err
	}

	a := transport.NewAdapter(transport.Options{
		Signaler: sig,
		Source:   source,
		NewPeer:  newPeer,
		Logger:   logger.Named("adapter"),
	})
	a.OnStatusChange(func(call *transport.Call, state models.SessionState) {
		fmt.Printf("[%s] %s\n", call.RemoteID, state)
	})
	a.OnError(func(call *transport.Call, err error) {
		if call == nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Printf("[%s] error: %v\n", call.RemoteID, err)
	})
	a.OnClose(func(call *transport.Call) {
		fmt.Printf("[%s] call ended (%s)\n", call.RemoteID, call.Reason())
	})
	return a, nil
}

func runCamera(ctx context.Context, cfg *config.ClientConfig, url, deviceID string, source *transport.SyntheticSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := connect(ctx, cfg, url, source)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.StartLocalMedia(ctx, deviceID); err != nil {
		return err
	}

	a.OnIncoming(func(call *transport.Call) {
		fmt.Printf("[%s] incoming call\n", call.RemoteID)
		if err := a.AnswerIncoming(call, a.Local()); err != nil {
			fmt.Printf("[%s] answer failed: %v\n", call.RemoteID, err)
		}
	})

	fmt.Printf("Camera ID: %s\n", a.ID())
	fmt.Println(`Type "switch <device>" to change device, "quit" to exit.`)

	go readCommands(ctx, a, cancel)
	<-ctx.Done()
	return nil
}

// readCommands handles stdin until quit, then cancels the camera.
func readCommands(ctx context.Context, a *transport.Adapter, quit context.CancelFunc) {
	defer quit()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "switch":
			if len(fields) != 2 {
				fmt.Println("usage: switch <device>")
				continue
			}
			if _, err := a.StartLocalMedia(ctx, fields[1]); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Printf("Switched to %s\n", fields[1])
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func runViewer(ctx context.Context, cfg *config.ClientConfig, url, cameraID string, source *transport.SyntheticSource) error {
	a, err := connect(ctx, cfg, url, source)
	if err != nil {
		return err
	}
	defer a.Close()

	ended := make(chan struct{}, 1)
	a.OnClose(func(call *transport.Call) {
		fmt.Printf("[%s] call ended (%s)\n", call.RemoteID, call.Reason())
		select {
		case ended <- struct{}{}:
		default:
		}
	})
	a.OnRemoteStream(func(call *transport.Call, track transport.RemoteTrack) {
		fmt.Printf("[%s] receiving %s stream %s\n", call.RemoteID, track.Kind(), track.StreamID())
	})

	fmt.Printf("Viewer ID: %s, calling %s\n", a.ID(), cameraID)
	call, err := a.PlaceCall(ctx, cameraID, nil)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return a.Teardown(call)
	case <-ended:
		return nil
	}
}

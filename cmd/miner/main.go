package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"aud_miner/config"
	"aud_miner/device"
	"aud_miner/device/devhdr"
	"aud_miner/log"
	"aud_miner/system"
	"aud_miner/util"
	"aud_miner/version"
)

var (
	configPath = flag.String("config", "/etc/aud_miner/miner.yaml", "settings file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	store, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	board := store.Board()
	if err := log.Init(board.LogFile, *debug); err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer log.Sync()

	log.Infof("=============== %s ===============", version.Banner())
	if sysinfo, err := system.GetSystemInfo(); err != nil {
		log.Infof("Failed to read system information %v", err)
	} else {
		log.Infof("Host %s, %s, kernel %s (%s)", sysinfo.Hostname, sysinfo.Platform, sysinfo.KernelVersion, sysinfo.KernelArch)
	}

	dev, err := devhdr.Resolve(board)
	if err != nil {
		log.Fatalf("resolve board: %v", err)
	}

	hw, err := device.OpenHardware(board, dev, util.RealClock{})
	if err != nil {
		log.Fatalf("open hardware: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devMgr := device.NewDeviceManager(store, dev, hw, util.RealClock{})
	devFunc := devMgr.Init(ctx)

	// No pool client yet: results are only logged.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-devFunc.Results:
				log.Infof("Nonce: %s", r)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-devMgr.Done():
	}
	devMgr.Fini()

	if err := devMgr.Err(); err != nil {
		log.Fatalf("device stopped: %v", err)
	}
	log.Info("=============== aud_miner stop ===============")
}

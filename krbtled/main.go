package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/btle"
	"krypt.co/krbtle/common/config"
	log2 "krypt.co/krbtle/common/log"
	. "krypt.co/krbtle/common/persistance"
	"krypt.co/krbtle/common/socket"
	"krypt.co/krbtle/daemon/control"
	"krypt.co/krbtle/hw/bluez"
	"krypt.co/krbtle/hw/gattdev"
	"krypt.co/krbtle/hw/sim"
)

func useSyslog(cfg *config.Config) bool {
	env := os.Getenv(log2.LOG_SYSLOG_ENV)
	if env != "" {
		return env == "true"
	}
	return cfg.Syslog
}

func hardwareFactory(cfg *config.Config, log *logging.Logger) btle.HardwareFactory {
	switch cfg.Backend {
	case config.BACKEND_SIM:
		return func() (btle.Central, btle.Peripheral, error) {
			radio := sim.New()
			radio.Loopback = true
			radio.PowerOn()
			return radio.Hardware()
		}
	case config.BACKEND_BLUEZ:
		return func() (btle.Central, btle.Peripheral, error) {
			return bluez.Hardware(cfg.LocalName, log)
		}
	}
	return func() (btle.Central, btle.Peripheral, error) {
		return gattdev.Hardware(cfg.LocalName, log)
	}
}

func main() {
	configPath, err := config.DefaultPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "krbtled:", err)
		os.Exit(1)
	}

	log := log2.SetupLogging("krbtled", cfg.Level(), useSyslog(cfg))

	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	btle.SetLogger(log)
	opts := btle.DefaultOptions()
	opts.RotateDelay = cfg.RotateDelay
	opts.ServicesPerCycle = cfg.ServicesPerCycle
	btle.SetOptions(&opts)
	btle.SetHardwareFactory(hardwareFactory(cfg, log))

	var persister Persister
	if cfg.Persist {
		krDir, err := socket.KrDir()
		if err != nil {
			log.Fatal(err)
		}
		persister = FilePersister{Dir: krDir}
	}

	daemonSocket, err := socket.DaemonListen()
	if err != nil {
		log.Fatal(err)
	}
	defer daemonSocket.Close()

	controlServer := control.NewControlServer(boundary.DefaultAdapter(), persister, log)
	go func() {
		if err := controlServer.Start(); err != nil {
			log.Error("restoring state:", err)
		}
		err := controlServer.HandleControlHTTP(daemonSocket)
		if err != nil {
			log.Error("controlServer return:", err)
		}
	}()

	log.Notice("krbtled launched with", cfg.Backend, "backend and listening on UNIX socket")

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, os.Kill, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	sig, ok := <-stopSignal
	controlServer.Stop()
	btle.Shutdown()
	if ok {
		log.Notice("stopping with signal", sig)
	}
}

package main

/*
* CLI to control krbtled
 */

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/urfave/cli"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/btle"
	. "krypt.co/krbtle/common/util"
	"krypt.co/krbtle/common/version"
	krbtleclient "krypt.co/krbtle/daemon/client"
	"krypt.co/krbtle/daemon/control"
)

func PrintFatal(stderr io.Writer, msg string, args ...interface{}) {
	if len(args) == 0 {
		PrintErr(stderr, msg)
	} else {
		PrintErr(stderr, msg, args...)
	}
	os.Exit(1)
}

func PrintErr(stderr io.Writer, msg string, args ...interface{}) {
	stderr.Write([]byte(fmt.Sprintf(msg, args...) + "\n"))
}

func fatalOnResult(result boundary.Result, err error) {
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	if !result.OK {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+result.Err().Error()))
	}
}

func firstArgOrFatal(c *cli.Context, what string) string {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		PrintFatal(os.Stderr, Red("krbtle ▶ missing "+what))
	}
	return arg
}

// parses uuid=hexvalue pairs
func parseCharacteristics(pairs []string) (characteristics map[string][]byte, err error) {
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			err = fmt.Errorf("characteristic %q must look like uuid=hexvalue", pair)
			return
		}
		var value []byte
		value, err = hex.DecodeString(parts[1])
		if err != nil {
			err = fmt.Errorf("characteristic %q: %s", pair, err.Error())
			return
		}
		if characteristics == nil {
			characteristics = map[string][]byte{}
		}
		characteristics[parts[0]] = value
	}
	return
}

// a bare name is hashed into the Vanadium service range
func serviceUUIDArg(c *cli.Context) string {
	arg := firstArgOrFatal(c, "service uuid or name")
	if _, err := btle.ParseUUID(arg); err == nil {
		return arg
	}
	return btle.ServiceUUID(arg).String()
}

func advertiseCommand(c *cli.Context) (err error) {
	service := serviceUUIDArg(c)
	characteristics, err := parseCharacteristics(c.StringSlice("char"))
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	fatalOnResult(krbtleclient.RequestAddService(service, characteristics))
	PrintErr(os.Stderr, "Advertising "+Cyan(service)+".")
	if c.Bool("qr") {
		qr, err := QREncode([]byte(service))
		if err != nil {
			PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
		}
		os.Stdout.Write([]byte("\r\n"))
		os.Stdout.Write([]byte(qr.Terminal))
		os.Stdout.Write([]byte("\r\n"))
	}
	return
}

func unadvertiseCommand(c *cli.Context) (err error) {
	service := serviceUUIDArg(c)
	if err = krbtleclient.RequestRemoveService(service); err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	PrintErr(os.Stderr, "Stopped advertising "+Cyan(service)+".")
	return
}

func countCommand(c *cli.Context) (err error) {
	count, err := krbtleclient.RequestCount()
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	fmt.Println(count)
	return
}

func writeCommand(c *cli.Context) (err error) {
	arg := firstArgOrFatal(c, "data")
	data := []byte(arg)
	if c.Bool("hex") {
		data, err = hex.DecodeString(arg)
		if err != nil {
			PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
		}
	}
	fatalOnResult(krbtleclient.RequestWrite(data))
	PrintErr(os.Stderr, "Wrote %d bytes.", len(data))
	return
}

func rotateCommand(c *cli.Context) (err error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		seconds, err := krbtleclient.RequestRotateDelay()
		if err != nil {
			PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
		}
		fmt.Println(strconv.FormatFloat(seconds, 'f', -1, 64))
		return nil
	}
	seconds, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ rotate delay must be a number of seconds"))
	}
	fatalOnResult(krbtleclient.RequestSetRotateDelay(seconds))
	PrintErr(os.Stderr, "Rotating advertised services every "+Cyan(arg+"s")+".")
	return
}

// scanCommand prints discoveries until interrupted, then stops the scan
func scanCommand(c *cli.Context) (err error) {
	request := control.ScanRequest{
		UUIDs: c.StringSlice("uuid"),
		Base:  c.String("base"),
		Mask:  c.String("mask"),
	}
	fatalOnResult(krbtleclient.RequestStartScan(request))
	PrintErr(os.Stderr, Green("Scanning.")+" Press Ctrl-C to stop.")

	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		cancel()
	}()
	err = krbtleclient.StreamDiscoveries(ctx, func(discovery boundary.Discovery) {
		fmt.Println(discovery.String())
	})
	if err == context.Canceled {
		err = nil
	}
	if stopErr := krbtleclient.RequestStopScan(); stopErr != nil {
		PrintErr(os.Stderr, Yellow("krbtle ▶ "+stopErr.Error()))
	}
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	return
}

func stopScanCommand(c *cli.Context) (err error) {
	if err = krbtleclient.RequestStopScan(); err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	return
}

func seenCommand(c *cli.Context) (err error) {
	service := serviceUUIDArg(c)
	discovery, err := krbtleclient.RequestLastSeen(service)
	if err == krbtleclient.ErrNotSeen {
		PrintFatal(os.Stderr, Yellow("krbtle ▶ "+service+" has not been seen"))
	}
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	fmt.Println(discovery.String())
	return
}

func listenCommand(c *cli.Context) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		cancel()
	}()
	PrintErr(os.Stderr, Green("Listening for messages.")+" Press Ctrl-C to stop.")
	err = krbtleclient.StreamMessages(ctx, func(message []byte) {
		if c.Bool("hex") {
			fmt.Println(hex.EncodeToString(message))
			return
		}
		fmt.Println(string(message))
	})
	if err != nil && err != context.Canceled {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	return nil
}

func debugCommand(c *cli.Context) (err error) {
	debug, err := krbtleclient.RequestDebug()
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	fmt.Println(debug)
	if c.Bool("copy") {
		if err = clipboard.WriteAll(debug); err != nil {
			PrintErr(os.Stderr, Yellow("krbtle ▶ could not copy to clipboard: "+err.Error()))
			return nil
		}
		PrintErr(os.Stderr, "Driver state "+Cyan("copied to clipboard")+".")
	}
	return
}

func shutdownCommand(c *cli.Context) (err error) {
	if err = krbtleclient.RequestShutdown(); err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	PrintErr(os.Stderr, "Bluetooth driver shut down.")
	return
}

func versionCommand(c *cli.Context) (err error) {
	fmt.Println("krbtle", version.CURRENT_VERSION.String())
	daemonVersion, err := krbtleclient.RequestVersion()
	if err != nil {
		PrintFatal(os.Stderr, Red("krbtle ▶ "+err.Error()))
	}
	fmt.Println("krbtled", daemonVersion.String())
	if !version.Compatible(daemonVersion) {
		PrintErr(os.Stderr, Yellow("krbtle ▶ krbtled version differs, run \"krbtle restart\""))
	}
	return nil
}

func restartCommand(c *cli.Context) (err error) {
	restartDaemon()
	PrintErr(os.Stderr, "Restarted krbtled.")
	return
}

func main() {
	initTerminal()
	app := cli.NewApp()
	app.Name = "krbtle"
	app.Usage = "advertise and scan for Bluetooth LE services through krbtled"
	app.Version = version.CURRENT_VERSION.String()
	app.Flags = []cli.Flag{}
	app.Commands = []cli.Command{
		cli.Command{
			Name:      "advertise",
			Usage:     "Add a service to the advertising rotation",
			ArgsUsage: "<uuid or name>",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "char, c",
					Usage: "Static characteristic as uuid=hexvalue, may be repeated",
				},
				cli.BoolFlag{
					Name:  "qr",
					Usage: "Print the service uuid as a QR code",
				},
			},
			Action: advertiseCommand,
		},
		cli.Command{
			Name:      "unadvertise",
			Usage:     "Remove a service from the advertising rotation",
			ArgsUsage: "<uuid or name>",
			Action:    unadvertiseCommand,
		},
		cli.Command{
			Name:   "count",
			Usage:  "Print the number of advertised services",
			Action: countCommand,
		},
		cli.Command{
			Name:      "write",
			Usage:     "Notify subscribed centrals with data",
			ArgsUsage: "<data>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "hex",
					Usage: "Decode data from hex",
				},
			},
			Action: writeCommand,
		},
		cli.Command{
			Name:      "rotate",
			Usage:     "Print or set the advertising rotation delay in seconds",
			ArgsUsage: "[seconds]",
			Action:    rotateCommand,
		},
		cli.Command{
			Name:  "scan",
			Usage: "Scan for services and print discoveries until interrupted",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "uuid, u",
					Usage: "Only report this service uuid, may be repeated",
				},
				cli.StringFlag{
					Name:  "base",
					Usage: "Base uuid of the masked range to report",
				},
				cli.StringFlag{
					Name:  "mask",
					Usage: "Mask applied to base and to discovered uuids",
				},
			},
			Action: scanCommand,
		},
		cli.Command{
			Name:   "stop-scan",
			Usage:  "Stop the active scan",
			Action: stopScanCommand,
		},
		cli.Command{
			Name:      "seen",
			Usage:     "Print the last discovery of a service in the current scan",
			ArgsUsage: "<uuid or name>",
			Action:    seenCommand,
		},
		cli.Command{
			Name:  "listen",
			Usage: "Print messages written by remote centrals",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "hex",
					Usage: "Print messages as hex",
				},
			},
			Action: listenCommand,
		},
		cli.Command{
			Name:  "debug",
			Usage: "Print the driver's debug state",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "copy",
					Usage: "Also copy the debug state to the clipboard",
				},
			},
			Action: debugCommand,
		},
		cli.Command{
			Name:   "shutdown",
			Usage:  "Stop scanning and advertising and release the radio",
			Action: shutdownCommand,
		},
		cli.Command{
			Name:   "version",
			Usage:  "Print krbtle and krbtled versions",
			Action: versionCommand,
		},
		cli.Command{
			Name:   "restart",
			Usage:  "Restart krbtled",
			Action: restartCommand,
		},
	}
	app.Run(os.Args)
}

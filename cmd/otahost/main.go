package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelfield/smartball"
)

const appVersion = "0.1.0"

// commands are subcommands that need an open transport to a device. Most
// ignore the device profile; upload uses it to sanity-check the image
// against the staging area size before spending time transferring it.
var commands = map[string]func(*transport, []string, smartball.DeviceProfile){
	"upload":  processUpload,
	"status":  func(t *transport, args []string, _ smartball.DeviceProfile) { processStatus(t, args) },
	"confirm": func(t *transport, args []string, _ smartball.DeviceProfile) { processConfirm(t, args) },
	"abort":   func(t *transport, args []string, _ smartball.DeviceProfile) { processAbort(t, args) },
	"log":     func(t *transport, args []string, _ smartball.DeviceProfile) { processGetLog(t, args) },
	"id":      func(t *transport, args []string, _ smartball.DeviceProfile) { processID(t, args) },
}

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	profilePath := flag.String("profile", "", "Device profile YAML file (see smartball.DeviceProfile). Falls back to the built-in defaults.")
	flag.Parse()

	if *version {
		log.Infof("otahost %s", appVersion)
		return
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	smartball.SetLogger(log.StandardLogger())

	profile := smartball.DefaultProfile()
	if *profilePath != "" {
		f, err := os.Open(*profilePath)
		if err != nil {
			log.Fatalf("failed to open profile file: %v", err)
		}
		defer f.Close()
		profile, err = smartball.LoadProfile(f)
		if err != nil {
			log.Fatalf("failed to parse profile file: %v", err)
		}
	}

	args := flag.Args()
	if len(args) < 1 {
		log.Fatalf("usage: otahost [-port PORT] [-baud BAUD] [-profile FILE] <pack|upload|status|confirm|abort|log|id> ...")
	}
	cmdName, cmdArgs := args[0], args[1:]

	if cmdName == "pack" {
		processPack(cmdArgs, profile)
		return
	}

	f, ok := commands[cmdName]
	if !ok {
		log.Fatalf("invalid command %v", cmdName)
	}
	if *port == "" {
		log.Fatalf("must specify -port")
	}

	t, err := openTransport(*port, *baud, 2*time.Second)
	if err != nil {
		log.Fatalf("failed to open transport: %v", err)
	}
	defer t.Close()

	f(t, cmdArgs, profile)
}

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig      string
	flagListen      string
	flagDatabase    string
	flagWidth       int
	flagHeight      int
	flagQuality     int
	flagMaxAttempts int
	flagRetryDelay  time.Duration
	flagFPS         float64
	flagProbe       bool
	flagLogLevel    string
	flagAdd         []string
	flagList        bool
	flagEnable      []uint
	flagDisable     []uint
	flagRemove      []uint
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagListen, "listen", "l", "", "HTTP listen address")
	flag.StringVarP(&flagDatabase, "db", "d", "", "Stream database file")
	flag.IntVarP(&flagWidth, "width", "x", 0, "Frame width")
	flag.IntVarP(&flagHeight, "height", "y", 0, "Frame height")
	flag.IntVarP(&flagQuality, "quality", "q", 0, "JPEG quality")
	flag.IntVarP(&flagMaxAttempts, "max-attempts", "", 0, "Consecutive failures before giving up")
	flag.DurationVarP(&flagRetryDelay, "retry-delay", "", 0, "Pause between reconnection attempts")
	flag.Float64VarP(&flagFPS, "fps", "", 0, "Maximum frames per second per stream")
	flag.BoolVarP(&flagProbe, "probe", "", false, "Probe sources for their resolution")
	flag.StringVarP(&flagLogLevel, "log-level", "", "", "Logging directives, as in LOGLEVEL")
	flag.StringArrayVarP(&flagAdd, "add", "a", nil, "Register an active stream, NAME=URL")
	flag.BoolVarP(&flagList, "list", "", false, "List registered streams and exit")
	flag.UintSliceVarP(&flagEnable, "enable", "", nil, "Activate streams by ID and exit")
	flag.UintSliceVarP(&flagDisable, "disable", "", nil, "Deactivate streams by ID and exit")
	flag.UintSliceVarP(&flagRemove, "remove", "", nil, "Delete streams by ID and exit")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Relay RTSP cameras to websocket viewers as JPEG frames

Usage: rtsprelayd [OPTION]...

Server:
  -c, --config=FILE        YAML configuration file
  -l, --listen=ADDR        HTTP listen address (default: :8000)
  -d, --db=FILE            Stream database (default: streams.db)
  -a, --add=NAME=URL       Register an active stream, then serve. Repeatable.

Streams:
      --list               List registered streams and exit
      --enable=ID[,ID...]  Activate streams and exit
      --disable=ID[,ID...] Deactivate streams and exit
      --remove=ID[,ID...]  Delete streams and exit

  These edit the database directly. A running relay serves the same
  operations under /api/streams/, which also stop affected sessions.

Video:
  -x, --width=NUM          Frame width (default: 1920)
  -y, --height=NUM         Frame height (default: 1080)
  -q, --quality=NUM        JPEG quality, 1-100 (default: 80)
      --fps=NUM            Maximum frames per second per stream (default: 30)
      --probe              Ask each source for its resolution before decoding

Reconnection:
      --max-attempts=NUM   Consecutive failures before giving up (default: 5)
      --retry-delay=DUR    Pause between attempts, e.g. 5s (default: 5s)

Miscellaneous:
      --log-level=SPEC     Logging directives, e.g. info,session=debug
  -h, --help               Prints this help message and exits
  -v, --version            Prints version information and exits

The LOGLEVEL environment variable is read before --log-level.`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//       _                  _
	//  _ __| |_ ___ _ __  _ __| |___ _  _
	// | '_ \  _(_-< '_ \| '_/ / -_) || |
	// |_|  \__/__/ .__/|_| |_\___|\_, |
	//            |_|              |__/

	r.Printf("      _  ")
	y.Printf("        ")
	b.Println("        _")

	r.Printf(" _ __| |_ ")
	y.Printf("___ _ __ ")
	b.Println(" _ __| |___ _  _")

	r.Printf("| '_ \\  _|")
	y.Printf("(_-< '_ \\")
	b.Println("| '_/ / -_) || |")

	r.Printf("|_| |_\\__|")
	y.Printf("/__/ .__/")
	b.Println("|_| |_\\___|\\_, |")

	r.Printf("          ")
	y.Printf("    |_|  ")
	b.Println("           |__/")

	fmt.Println(helpString)
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	_ "net/http/pprof"

	statsd "github.com/etsy/statsd/examples/go"
	"github.com/rcp-official/rcp/libs/rcp"
	"github.com/vharitonsky/iniflags"

	log "github.com/sirupsen/logrus"
)

var listenPort int
var connectTo string
var statsAddr string
var statsdAddr string
var congestion string
var window int
var ackTimeout time.Duration
var maxRetrans int

var statClient *statsd.StatsdClient
var hostname string

// GitVersion is the build version
var GitVersion string

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: false,
	})
	log.SetLevel(log.DebugLevel)
	flag.IntVar(&listenPort, "listen", 0, "run an echo server on this port")
	flag.StringVar(&connectTo, "connect", "", "connect to an echo server at host:port and echo stdin lines")
	flag.StringVar(&statsAddr, "statsAddr", "localhost:9809", "address of the HTTP stats/pprof endpoint")
	flag.StringVar(&statsdAddr, "statsdAddr", "", "address of StatsD for gathering statistics")
	flag.StringVar(&congestion, "cc", "reno", "congestion control algorithm (stopandwait, sliding, reno)")
	flag.IntVar(&window, "window", 8, "in-flight packet budget")
	flag.DurationVar(&ackTimeout, "ackTimeout", 200*time.Millisecond, "base retransmission timeout")
	flag.IntVar(&maxRetrans, "maxRetrans", 8, "retransmission ceiling")
	iniflags.Parse()
	if GitVersion == "" {
		GitVersion = "NOVER"
	}
	log.Infof("rcp-echo %v starting", GitVersion)
	if listenPort == 0 && connectTo == "" {
		log.Fatal("must give -listen or -connect")
	}

	go func() {
		http.HandleFunc("/debug/rcpstats", handleStats)
		log.Println(http.ListenAndServe(statsAddr, nil))
	}()
	if statsdAddr != "" {
		z, e := net.ResolveUDPAddr("udp", statsdAddr)
		if e != nil {
			panic(e)
		}
		statClient = statsd.New(z.IP.String(), z.Port)
		hostname, _ = os.Hostname()
		go statsdLoop()
	}

	cfg := &rcp.Config{
		AckTimeout:         ackTimeout,
		MaxRetransmissions: maxRetrans,
		Window:             window,
		Congestion:         congestion,
	}
	if listenPort != 0 {
		mainServer(uint16(listenPort), cfg)
	}
	mainClient(connectTo, cfg)
}

func mainServer(port uint16, cfg *rcp.Config) {
	listener, err := rcp.Listen(port, cfg)
	if err != nil {
		panic(err)
	}
	log.Infof("echo server on UDP %v", port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Warnln("accept:", err)
			continue
		}
		log.Infoln("accepted", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			buf := make([]byte, rcp.MaxPayloadSize)
			for {
				n, err := conn.Recv(buf)
				if err != nil {
					log.Debugln(conn.RemoteAddr(), "gone:", err)
					return
				}
				if err := conn.Send(buf[:n]); err != nil {
					log.Debugln(conn.RemoteAddr(), "send failed:", err)
					return
				}
			}
		}()
	}
}

func mainClient(dialto string, cfg *rcp.Config) {
	conn, err := rcp.Dial(dialto, cfg)
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	log.Infoln("connected to", dialto)
	buf := make([]byte, rcp.MaxPayloadSize)
	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := stdin.Bytes()
		if len(line) > rcp.MaxPayloadSize {
			line = line[:rcp.MaxPayloadSize]
		}
		start := time.Now()
		if err := conn.Send(line); err != nil {
			panic(err)
		}
		n, err := conn.Recv(buf)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%v\t(%v)\n", string(buf[:n]), time.Since(start))
	}
}

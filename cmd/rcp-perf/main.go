package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gops/agent"
	"github.com/rcp-official/rcp/libs/fastudp"
	"github.com/rcp-official/rcp/libs/rcp"
	"golang.org/x/time/rate"
)

func main() {
	var flagClient string
	var flagServer int
	var flagConAlgo string
	var flagLimit int
	var flagBatch bool
	flag.StringVar(&flagClient, "c", "", "client connect (host:port)")
	flag.IntVar(&flagServer, "s", 0, "server listen port")
	flag.StringVar(&flagConAlgo, "cc", "reno", "congestion control algorithm")
	flag.IntVar(&flagLimit, "l", -1, "speed limit (KiB/s)")
	flag.BoolVar(&flagBatch, "batch", false, "batch UDP syscalls (Linux only)")
	flag.Parse()
	go func() {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatal(err)
		}
	}()

	cfg := &rcp.Config{Congestion: flagConAlgo, Window: 14}
	if flagClient == "" && flagServer == 0 {
		log.Fatal("must give -c or -s")
	}
	if flagClient != "" && flagServer != 0 {
		log.Fatal("cannot give both -c and -s")
	}
	if flagServer != 0 {
		mainServer(flagServer, flagLimit, flagBatch, cfg)
	}
	mainClient(flagClient, flagBatch, cfg)
}

func openSocket(port int, batch bool, cfg *rcp.Config) *rcp.Socket {
	if !batch {
		sock, err := rcp.OpenSocket(uint16(port), cfg)
		if err != nil {
			panic(err)
		}
		return sock
	}
	udpsock, err := net.ListenPacket("udp4", fmt.Sprintf(":%v", port))
	if err != nil {
		panic(err)
	}
	return rcp.NewSocket(fastudp.NewConn(udpsock.(*net.UDPConn), rcp.PacketSize), cfg)
}

func mainClient(dialto string, batch bool, cfg *rcp.Config) {
	servAddr, err := net.ResolveUDPAddr("udp", dialto)
	if err != nil {
		panic(err)
	}
	sock := openSocket(0, batch, cfg)
	defer sock.Close()
	conn, err := sock.Connect(servAddr)
	if err != nil {
		panic(err)
	}
	if err := conn.Handshake(); err != nil {
		panic(err)
	}
	conn.Send([]byte("HELLO"))
	var kbs uint64
	go func() {
		buf := make([]byte, rcp.MaxPayloadSize)
		for {
			n, err := conn.Recv(buf)
			if err != nil {
				panic(err)
			}
			atomic.AddUint64(&kbs, uint64(n)/1024)
		}
	}()
	last := uint64(0)
	for {
		time.Sleep(time.Second)
		rn := atomic.LoadUint64(&kbs)
		snap := rcp.DefaultStats.Copy()
		log.Println("Current speed:", rn-last, "KiB/s //", snap.Retrans, "retrans //", snap.FastRetrans, "fast")
		last = rn
	}
}

func mainServer(port int, klimit int, batch bool, cfg *rcp.Config) {
	var limiter *rate.Limiter
	if klimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(klimit*1024), 1024*1024)
	}
	sock := openSocket(port, batch, cfg)
	listener, err := sock.Bind(uint16(port))
	if err != nil {
		panic(err)
	}
	log.Println("RCP perf listener spinned up on", port)
	for {
		client, err := listener.Accept()
		if err != nil {
			panic(err)
		}
		log.Println("accepted client from", client.RemoteAddr())
		go func() {
			defer client.Close()
			buf := make([]byte, rcp.MaxPayloadSize)
			client.Recv(buf)
			payload := make([]byte, rcp.MaxPayloadSize)
			for {
				if limiter != nil {
					limiter.WaitN(context.Background(), rcp.MaxPayloadSize)
				}
				if err := client.Send(payload); err != nil {
					return
				}
			}
		}()
	}
}

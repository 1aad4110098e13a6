//go:build ignore

// Backend is a TCP echo server used to exercise the load balancer.
// Every connection first receives a greeting line naming the backend and
// the connection, then everything the client sends is echoed back.
//
// Usage:
//
//	go run backend.go -port 8081 -name b1
//
// Put "127.0.0.1:8081" in hosts.txt to route to it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "", "name sent in the greeting (default: listen address)")
	delay := flag.Duration("delay", 0, "wait before greeting each connection")
	flag.Parse()

	addr := fmt.Sprintf(":%d", *port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	if *name == "" {
		*name = ln.Addr().String()
	}
	log.Printf("starting backend %s on %s", *name, addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept failed: %v", err)
			continue
		}
		go serve(conn, *name, *delay)
	}
}

func serve(conn net.Conn, name string, delay time.Duration) {
	defer conn.Close()

	id := uuid.NewString()
	start := time.Now()

	if delay > 0 {
		time.Sleep(delay)
	}

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "%s %s\n", name, id)
	if err := w.Flush(); err != nil {
		log.Printf("conn=%s from=%s greeting failed: %v", id, conn.RemoteAddr(), err)
		return
	}

	n, err := io.Copy(conn, conn)
	if err != nil {
		log.Printf("conn=%s from=%s echoed=%d err=%v", id, conn.RemoteAddr(), n, err)
		return
	}
	log.Printf("conn=%s from=%s echoed=%d duration=%v", id, conn.RemoteAddr(), n, time.Since(start))
}

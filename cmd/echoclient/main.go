package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rudp/pkg/conn"
	"rudp/pkg/echoproto"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

const version = "1.0.0"

type config struct {
	ServerHost string
	ServerPort int
	BurstCount int
}

func loadConfig() config {
	return config{
		ServerHost: "127.0.0.1",
		ServerPort: 7777,
		BurstCount: 20,
	}
}

func main() {
	logger.Banner("RUDP Echo Client", version)

	cfg := loadConfig()
	remote := &net.UDPAddr{IP: net.ParseIP(cfg.ServerHost), Port: cfg.ServerPort}

	var wg sync.WaitGroup
	wg.Add(1)

	connected := make(chan struct{})
	factory := echoproto.Factory{}

	c := conn.New(factory, transport.ConnHooks{
		HandleConnected: func(status transport.ConnectStatus) {
			if status == transport.StatusSuccess {
				logger.Success("connected to %s", remote)
				close(connected)
				return
			}
			logger.Fatal("connect failed: %s", status)
		},
		HandleDisconnect: func() {
			logger.Warn("disconnected from server")
			wg.Done()
		},
		HandlePacket: func(pkt transport.Packet) {
			switch p := pkt.(type) {
			case *echoproto.Chat:
				logger.Info("chat echo: %s: %s", p.From, p.Text)
			case *echoproto.Ping:
				logger.Info("ping echo: nonce=%d", p.Nonce)
			}
		},
	})

	c.SetPacketChannel(echoproto.IDChat, c.NewOrderedReliableChannel(0, 0))
	c.SetPacketChannel(echoproto.IDPing, c.NewReliableChannel(0))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := c.Connect(remote); err != nil {
		logger.Fatal("connect failed: %v", err)
	}

	select {
	case <-connected:
	case sig := <-sigChan:
		logger.Warn("received signal before connecting: %v", sig)
		return
	case <-time.After(5 * time.Second):
		logger.Fatal("timed out waiting to connect")
	}

	go burst(c, cfg.BurstCount)

	select {
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		c.Disconnect()
	case <-c.Done():
	}
	wg.Wait()
	logger.Success("client stopped")
}

// burst sends a handful of packets across all three channel kinds to
// exercise the full reliability stack.
func burst(c *conn.Connection, count int) {
	for i := 0; i < count; i++ {
		if err := c.Send(&echoproto.Chat{From: "client", Text: fmt.Sprintf("message %d", i)}); err != nil {
			logger.Warn("send chat failed: %v", err)
		}
		if err := c.Send(&echoproto.Ping{Nonce: uint32(i)}); err != nil {
			logger.Warn("send ping failed: %v", err)
		}
		if err := c.Send(&echoproto.Bulk{Seq: uint32(i), Payload: make([]byte, 64)}); err != nil {
			logger.Warn("send bulk failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

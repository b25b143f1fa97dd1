package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"rudp/pkg/acceptor"
	"rudp/pkg/conn"
	"rudp/pkg/echoproto"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

const (
	version = "1.0.0"
)

type config struct {
	Host       string
	Port       int
	MaxClients int
}

func loadConfig() config {
	return config{
		Host:       "0.0.0.0",
		Port:       7777,
		MaxClients: 100,
	}
}

func main() {
	logger.Banner("RUDP Echo Server", version)

	cfg := loadConfig()
	logger.Info("Host: %s", cfg.Host)
	logger.Info("Port: %d", cfg.Port)
	logger.Info("Max clients: %d", cfg.MaxClients)
	logger.Success("Configuration loaded successfully")

	factory := echoproto.Factory{}

	a := acceptor.New(cfg.Host, cfg.Port, cfg.MaxClients, factory, handleConnection)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		if err := a.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Fatal("acceptor error: %v", err)
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		a.Stop()
		time.Sleep(500 * time.Millisecond)
		logger.Success("server stopped")
		os.Exit(0)
	}
}

// handleConnection wires up a freshly accepted Connection: echo every
// Chat and Ping packet back to its sender, log disconnects.
func handleConnection(c *conn.Connection) transport.ConnHooks {
	remote := c.RemoteAddr()
	logger.Success("client connected from %s (port %d)", remote, c.LocalPort())

	c.SetPacketChannel(echoproto.IDChat, c.NewOrderedReliableChannel(0, 0))
	c.SetPacketChannel(echoproto.IDPing, c.NewReliableChannel(0))

	return transport.ConnHooks{
		HandleDisconnect: func() {
			logger.Warn("client %s disconnected", remote)
		},
		HandlePacket: func(pkt transport.Packet) {
			switch p := pkt.(type) {
			case *echoproto.Chat:
				logger.Info("chat from %s: %s: %s", remote, p.From, p.Text)
				if err := c.Send(&echoproto.Chat{From: "server", Text: p.Text}); err != nil {
					logger.Warn("echo chat failed: %v", err)
				}
			case *echoproto.Ping:
				if err := c.Send(&echoproto.Ping{Nonce: p.Nonce}); err != nil {
					logger.Warn("echo ping failed: %v", err)
				}
			case *echoproto.Bulk:
				logger.Debug("bulk seq=%d (%d bytes) from %s", p.Seq, len(p.Payload), remote)
			}
		},
	}
}

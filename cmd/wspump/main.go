package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wspump/configs"
	"wspump/internal/bus"
	"wspump/internal/bus/nats"
	"wspump/internal/bus/noop"
	"wspump/internal/bus/redis"
	"wspump/internal/metrics"
	"wspump/internal/socket"
	"wspump/server"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "应用程序配置文件路径")
	listenAddr = flag.String("addr", "", "覆盖配置中的监听地址")
)

func main() {
	flag.Parse()

	cfg, err := configs.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}

	messageBus, err := createMessageBus(cfg.Cluster)
	if err != nil {
		slog.Error("failed to create message bus", "error", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(&server.Options{
		Address:        cfg.Server.Addr,
		Socket:         cfg.Server.Socket,
		EnableAuth:     cfg.Auth.Enabled,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		JWTSecretKey:   cfg.Auth.SecretKey,
		JWTIssuer:      cfg.Auth.Issuer,
		LogLevel:       cfg.Log.Level,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// 原样回显：消息钩子里缓冲区随后会被复用，异步发送前必须拷贝
	srv.HandleSocket("/ws/echo", func(map[string]string) socket.Handler {
		return socket.HandlerFuncs{
			Message: func(c *socket.Conn, data []byte, kind socket.MessageKind) {
				cp := make([]byte, len(data))
				copy(cp, data)
				c.Send(cp, kind, true)
				metrics.MessageSent()
			},
		}
	})

	// 房间聊天：入站消息经总线转发给同房间的所有订阅者（跨节点）
	srv.HandleSocket("/ws/rooms/{room}", func(args map[string]string) socket.Handler {
		return newRoomHandler(messageBus, args["room"])
	})

	if err := srv.Start(); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := messageBus.Close(); err != nil {
		slog.Error("message bus close error", "error", err)
	}
	slog.Info("wspump stopped")
}

func createMessageBus(cluster configs.Cluster) (bus.MessageBus, error) {
	if !cluster.Enabled {
		return noop.New(), nil
	}
	switch cluster.BusType {
	case "nats":
		return nats.New(cluster.NATS)
	case "redis":
		return redis.New(cluster.Redis)
	case "noop":
		return noop.New(), nil
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cluster.BusType)
	}
}

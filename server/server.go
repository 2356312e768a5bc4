// Package server 是核心消息泵的宿主协作层：
// 负责HTTP升级协商、URI模式路由与路径参数提取、连接登记和进程装配。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"wspump/configs"
	"wspump/internal/auth"
	"wspump/internal/metrics"
	"wspump/internal/socket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlerFactory 为每条新连接生成生命周期钩子实现。
// args是路由从URI模式提取的路径参数。
type HandlerFactory func(args map[string]string) socket.Handler

// Options 服务器配置选项
type Options struct {
	// HTTP服务器地址，默认 ":8080"
	Address string

	// 连接配置（接收缓冲区容量、读写超时）
	Socket socket.Config

	// JWT认证配置
	EnableAuth     bool   // 是否启用认证，默认 false
	AllowAnonymous bool   // 是否允许匿名连接，默认 true
	JWTSecretKey   string // JWT密钥
	JWTIssuer      string // JWT签发者

	// 日志级别: "debug", "info", "warn", "error"，默认 "info"
	LogLevel string

	Upgrader *websocket.Upgrader
}

type Server struct {
	config      *configs.Config
	authService *auth.JWTService
	upgrader    *websocket.Upgrader
	mux         *http.ServeMux
	httpServer  *http.Server
	conns       sync.Map // key=id, value=*socket.Conn
}

// NewServer 创建一个新的wspump服务器
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = defaultOptions()
	} else {
		fillDefaults(opts)
	}
	config := buildConfig(opts)
	setupLogging(config.Log.Level)

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
	}

	if opts.Upgrader != nil {
		s.upgrader = opts.Upgrader
	} else {
		s.upgrader = &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		}
	}

	if config.Auth.Enabled {
		s.authService = auth.NewJWTService(config.Auth.SecretKey, config.Auth.Issuer)
	}

	metrics.Default()
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/health", s.handleHealth)

	return s, nil
}

// HandleSocket 在pattern上挂载WebSocket入口。
// pattern支持ServeMux的{name}通配段，匹配到的段作为路径参数
// 传给factory生成的连接。
func (s *Server) HandleSocket(pattern string, factory HandlerFactory) {
	names := wildcardNames(pattern)
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(w, r, names, factory)
	})
}

// Handler 返回含全部路由的http.Handler，便于测试和自定义装配
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start 启动服务器
func (s *Server) Start() error {
	slog.Info("Starting wspump server", "address", s.config.Server.Addr)

	s.httpServer = &http.Server{
		Addr:    s.config.Server.Addr,
		Handler: s.mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Shutdown 关闭所有连接并停止HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down wspump server...")

	s.conns.Range(func(_, value any) bool {
		c := value.(*socket.Conn)
		c.Close(socket.StatusGoingAway, "server shutting down")
		return true
	})

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Broadcast 向本节点的所有连接提交一次发送
func (s *Server) Broadcast(data []byte, kind socket.MessageKind) {
	s.conns.Range(func(_, value any) bool {
		value.(*socket.Conn).Send(data, kind, true)
		metrics.MessageSent()
		return true
	})
}

// ConnCount 返回本节点当前登记的连接数
func (s *Server) ConnCount() int {
	count := 0
	s.conns.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// handleUpgrade 认证、升级并把协商完成的传输交给核心
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, names []string, factory HandlerFactory) {
	if ok := s.authenticate(w, r); !ok {
		return // 错误已发送
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket", "error", err, "remoteAddr", r.RemoteAddr)
		metrics.RecordTransportError()
		return
	}

	args := pathArguments(r, names)
	transport := socket.NewGorillaTransport(conn, s.config.Server.Socket)

	id := uuid.New().String()
	handler := &trackedHandler{server: s, inner: factory(args)}

	if _, err := socket.Accept(context.Background(), transport, socket.Options{
		ID:        id,
		Arguments: args,
		Handler:   handler,
		Config:    s.config.Server.Socket,
	}); err != nil {
		slog.Error("Failed to accept connection", "error", err, "remoteAddr", r.RemoteAddr)
		_ = conn.Close()
		return
	}

	slog.Info("Client connected", "id", id, "remoteAddr", r.RemoteAddr, "args", args)
}

// authenticate 对升级请求进行认证
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if s.authService == nil {
		return true
	}

	token := extractToken(r)
	if token == "" {
		if !s.config.Auth.AllowAnonymous {
			slog.Warn("WebSocket connection attempt without token", "remoteAddr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Token required", http.StatusUnauthorized)
			metrics.RecordAuthFailure()
			return false
		}
		return true // 允许匿名
	}

	if _, err := s.authService.Authenticate(r.Context(), token); err != nil {
		slog.Warn("WebSocket authentication failed", "error", err, "remoteAddr", r.RemoteAddr)
		http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
		metrics.RecordAuthFailure()
		return false
	}

	metrics.RecordAuthSuccess()
	return true
}

// trackedHandler 在应用钩子外层登记连接并记录指标
type trackedHandler struct {
	server *Server
	inner  socket.Handler
}

func (t *trackedHandler) OnOpen(c *socket.Conn) {
	t.server.conns.Store(c.ID(), c)
	metrics.ConnectionOpened()
	t.inner.OnOpen(c)
}

func (t *trackedHandler) OnMessage(c *socket.Conn, data []byte, kind socket.MessageKind) {
	metrics.MessageReceived(float64(len(data)))
	t.inner.OnMessage(c, data, kind)
}

func (t *trackedHandler) OnClose(c *socket.Conn) {
	t.server.conns.Delete(c.ID())
	metrics.ConnectionClosed()

	if err := c.Err(); err != nil {
		if errors.Is(err, socket.ErrMessageTooLarge) {
			metrics.RecordOverflow()
		} else {
			metrics.RecordTransportError()
		}
		slog.Warn("Client disconnected with error", "id", c.ID(), "error", err)
	} else {
		slog.Info("Client disconnected", "id", c.ID())
	}

	t.inner.OnClose(c)
}

// handleHealth 处理健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"status":      "ok",
		"version":     s.config.Version,
		"connections": s.ConnCount(),
		"time":        time.Now().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// wildcardNames 提取ServeMux模式里的通配段名称
func wildcardNames(pattern string) []string {
	var names []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			name = strings.TrimSuffix(name, "...")
			if name != "" && name != "$" {
				names = append(names, name)
			}
		}
	}
	return names
}

// pathArguments 把请求里匹配到的通配段装进路径参数表
func pathArguments(r *http.Request, names []string) map[string]string {
	args := make(map[string]string, len(names))
	for _, name := range names {
		args[name] = r.PathValue(name)
	}
	return args
}

func extractToken(r *http.Request) string {
	// 从查询参数获取
	token := r.URL.Query().Get("token")
	if token != "" {
		return token
	}

	// 从Authorization头获取
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}

	return ""
}

func defaultOptions() *Options {
	return &Options{
		Address:        ":8080",
		Socket:         socket.DefaultConfig(),
		AllowAnonymous: true,
		LogLevel:       "info",
	}
}

func fillDefaults(opts *Options) {
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.Socket.MaxMessageSize == 0 {
		opts.Socket = socket.DefaultConfig()
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	if opts.JWTIssuer == "" {
		opts.JWTIssuer = "wspump"
	}
}

func buildConfig(opts *Options) *configs.Config {
	config := configs.NewDefaultConfig()

	config.Server.Addr = opts.Address
	config.Server.Socket = opts.Socket

	config.Auth.Enabled = opts.EnableAuth
	config.Auth.AllowAnonymous = opts.AllowAnonymous
	config.Auth.SecretKey = opts.JWTSecretKey
	config.Auth.Issuer = opts.JWTIssuer

	config.Log.Level = opts.LogLevel
	config.Version = "1.0.0"

	return &config
}

func setupLogging(level string) {
	logLevel := configs.ParseLogLevel(level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

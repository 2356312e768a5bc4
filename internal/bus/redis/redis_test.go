package redis

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"wspump/internal/bus"

	"github.com/alicebob/miniredis/v2"
)

// setupTestRedis 创建一个miniredis服务器实例用于测试
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("无法启动miniredis: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Addrs = []string{s.Addr()}
	cfg.OpTimeout = 100 * time.Millisecond

	rb, err := New(cfg)
	if err != nil {
		s.Close()
		t.Fatalf("无法创建RedisBus: %v", err)
	}

	return s, rb
}

func TestRedisBusPublish(t *testing.T) {
	s, rb := setupTestRedis(t)
	defer s.Close()
	defer rb.Close()

	if err := rb.Publish(context.Background(), "room/lobby", []byte("hello")); err != nil {
		t.Fatalf("发布消息失败: %v", err)
	}

	if got := rb.formatKey("room/lobby"); got != rb.cfg.KeyPrefix+"room/lobby" {
		t.Errorf("主题格式不正确，期望 %s 实际 %s", rb.cfg.KeyPrefix+"room/lobby", got)
	}
}

func TestRedisBusPublishEmptyTopic(t *testing.T) {
	s, rb := setupTestRedis(t)
	defer s.Close()
	defer rb.Close()

	if err := rb.Publish(context.Background(), "", []byte("x")); !errors.Is(err, bus.ErrTopicEmpty) {
		t.Fatalf("空主题应返回ErrTopicEmpty，实际: %v", err)
	}
}

func TestRedisBusSubscribeReceives(t *testing.T) {
	s, rb := setupTestRedis(t)
	defer s.Close()
	defer rb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rb.Subscribe(ctx, "room/lobby")
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}

	// 等待订阅建立后再发布
	time.Sleep(50 * time.Millisecond)

	payload := []byte("hello subscribers")
	if err := rb.Publish(context.Background(), "room/lobby", payload); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	select {
	case got := <-ch:
		if !bytes.Equal(got, payload) {
			t.Errorf("收到的消息不符，期望 %q 实际 %q", payload, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待订阅消息超时")
	}
}

func TestRedisBusSubscribeContextCancel(t *testing.T) {
	s, rb := setupTestRedis(t)
	defer s.Close()
	defer rb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := rb.Subscribe(ctx, "room/lobby")
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("ctx取消后不应再收到消息")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ctx取消后channel应关闭")
	}
}

func TestRedisBusClosed(t *testing.T) {
	s, rb := setupTestRedis(t)
	defer s.Close()

	rb.Close()

	if err := rb.Publish(context.Background(), "room/lobby", nil); !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("关闭后发布应返回ErrBusClosed，实际: %v", err)
	}
	if _, err := rb.Subscribe(context.Background(), "room/lobby"); !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("关闭后订阅应返回ErrBusClosed，实际: %v", err)
	}
}

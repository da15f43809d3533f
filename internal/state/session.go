package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 会话状态常量
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
)

// 事件常量
const (
	EventConnect    = "connect"
	EventInvalidate = "invalidate"
)

// Session 账号登录会话状态机
// 状态只有连接/未连接两种，认证失败时作废并重新建立
type Session struct {
	mu       sync.RWMutex
	deviceID string
	fsm      *fsm.FSM
	since    time.Time
	onChange func(deviceID, from, to string)
}

// NewSession 创建会话状态机，初始为未连接
func NewSession(deviceID string, onChange func(deviceID, from, to string)) *Session {
	s := &Session{
		deviceID: deviceID,
		since:    time.Now(),
		onChange: onChange,
	}

	s.fsm = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateDisconnected}, Dst: StateConnected},
			{Name: EventInvalidate, Src: []string{StateConnected}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if s.onChange != nil && e.Src != e.Dst {
					s.onChange(s.deviceID, e.Src, e.Dst)
				}
			},
		},
	)

	return s
}

// Current 当前状态
func (s *Session) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fsm.Current()
}

// Connected 是否已连接
func (s *Session) Connected() bool {
	return s.Current() == StateConnected
}

// Since 进入当前状态的时间
func (s *Session) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

// MarkConnected 标记已连接，重复调用无副作用
func (s *Session) MarkConnected() error {
	return s.trigger(EventConnect)
}

// Invalidate 作废会话，未连接时无副作用
func (s *Session) Invalidate() error {
	return s.trigger(EventInvalidate)
}

func (s *Session) trigger(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fsm.Can(event) {
		return nil
	}
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	s.since = time.Now()
	return nil
}

package service

import (
	"context"
	"sync"

	"github.com/langchou/scalegazer/internal/api/tuya"
	"github.com/langchou/scalegazer/internal/scale"
)

// fakeSource 可控的数据源
type fakeSource struct {
	mu      sync.Mutex
	mode    tuya.Mode
	data    map[string]scale.Record
	err     error
	info    *tuya.DeviceInfo
	infoErr error
	fetches int
	closed  bool

	fetching       int  // 进行中的 Fetch
	closedMidFetch bool // Fetch 未结束时被 Close

	started chan struct{} // 每次 Fetch 开始时发送
	release chan struct{} // 非 nil 时 Fetch 等待放行
}

func newFakeSource(data map[string]scale.Record) *fakeSource {
	return &fakeSource{mode: tuya.ModeSelfSigned, data: data}
}

func (f *fakeSource) set(data map[string]scale.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.err = data, err
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) wasClosedMidFetch() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedMidFetch
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSource) Authenticate(ctx context.Context) error {
	return nil
}

func (f *fakeSource) Fetch(ctx context.Context) (map[string]scale.Record, error) {
	f.mu.Lock()
	f.fetches++
	f.fetching++
	started, release := f.started, f.release
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.fetching--
		f.mu.Unlock()
	}()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]scale.Record, len(f.data))
	for k, v := range f.data {
		out[k] = v.Clone()
	}
	return out, nil
}

func (f *fakeSource) DeviceInfo(ctx context.Context) (*tuya.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if f.info == nil {
		return &tuya.DeviceInfo{ID: "dev1"}, nil
	}
	return f.info, nil
}

func (f *fakeSource) Mode() tuya.Mode {
	return f.mode
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetching > 0 {
		f.closedMidFetch = true
	}
	f.closed = true
	return nil
}

func aliceRecords() map[string]scale.Record {
	return map[string]scale.Record{
		"1": {
			"id":                    "r0",
			"user_id":               "1",
			"wegith":                "72.5",
			"height":                "175",
			scale.KeyNickname:       "Alice",
			scale.KeyAnalysisReport: scale.Record{"body_type": 2},
		},
	}
}

package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"txfeed-sol/internal/alert"
	"txfeed-sol/internal/config"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestBuildSubscribeRequest(t *testing.T) {
	chainCfg := config.ChainConfig{
		Commitment: "finalized",
		Filters: []config.FeedFilterConfig{
			{
				Label:           "dex",
				AccountInclude:  []string{"prog1", "prog2"},
				AccountExclude:  []string{"spam"},
				AccountRequired: []string{"vault"},
			},
			{Label: "mints", AccountInclude: []string{"mint1"}},
		},
	}

	req := buildSubscribeRequest(chainCfg)
	require.Len(t, req.Transactions, 2)
	require.NotNil(t, req.Commitment)
	assert.Equal(t, pb.CommitmentLevel_FINALIZED, *req.Commitment)

	dex := req.Transactions["dex"]
	require.NotNil(t, dex)
	// failed / vote 固定排除
	require.NotNil(t, dex.Failed)
	assert.False(t, *dex.Failed)
	require.NotNil(t, dex.Vote)
	assert.False(t, *dex.Vote)
	assert.Equal(t, []string{"prog1", "prog2"}, dex.AccountInclude)
	assert.Equal(t, []string{"spam"}, dex.AccountExclude)
	assert.Equal(t, []string{"vault"}, dex.AccountRequired)

	require.NotNil(t, req.Transactions["mints"])
}

func TestCommitmentLevel(t *testing.T) {
	assert.Equal(t, pb.CommitmentLevel_PROCESSED, commitmentLevel("processed"))
	assert.Equal(t, pb.CommitmentLevel_CONFIRMED, commitmentLevel("confirmed"))
	assert.Equal(t, pb.CommitmentLevel_FINALIZED, commitmentLevel("FINALIZED"))
	// 未配置或未知取默认
	assert.Equal(t, pb.CommitmentLevel_CONFIRMED, commitmentLevel(""))
	assert.Equal(t, pb.CommitmentLevel_CONFIRMED, commitmentLevel("whatever"))
}

// fakeGeyserClient 记录每次 Subscribe 的时刻并始终拒绝连接。
// 嵌入接口兜底其余方法（测试里不会被调到）。
type fakeGeyserClient struct {
	pb.GeyserClient
	calls chan time.Time
}

func (f *fakeGeyserClient) Subscribe(ctx context.Context, opts ...grpc.CallOption) (pb.Geyser_SubscribeClient, error) {
	f.calls <- time.Now()
	return nil, errors.New("connection refused")
}

func newBackoffTestStream(interval time.Duration) (*GrpcStream, *fakeGeyserClient) {
	fake := &fakeGeyserClient{calls: make(chan time.Time, 8)}
	m := &GrpcStream{
		chainCfg:          config.ChainConfig{ListenerID: "test", Filters: []config.FeedFilterConfig{{Label: "all"}}},
		client:            fake,
		reconnectInterval: interval,
		pingInterval:      time.Minute,
		sendTimeout:       time.Second,
		alerter:           alert.LogAlerter{},
	}
	return m, fake
}

func TestReconnect_WaitsFixedBackoff(t *testing.T) {
	m, fake := newBackoffTestStream(150 * time.Millisecond)
	defer m.Stop()

	// 断流后的重建路径：首次重拨前也必须等满固定间隔
	start := time.Now()
	m.reconnect()

	select {
	case at := <-fake.calls:
		assert.GreaterOrEqual(t, at.Sub(start), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never dialed")
	}
}

func TestStart_DialsImmediately(t *testing.T) {
	m, fake := newBackoffTestStream(2 * time.Second)
	defer m.Stop()

	// 进程启动路径不等退避，立即拨号
	start := time.Now()
	go m.mustConnect(false)

	select {
	case at := <-fake.calls:
		assert.Less(t, at.Sub(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("startup never dialed")
	}
}

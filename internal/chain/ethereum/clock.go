package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach the EVM node supplying the global clock.
type Config struct {
	Name   string
	RPCURL string
}

// Clock reads block heights from an EVM compatible chain. Observed heights
// are clamped so the value never decreases across short reorgs; the ledger
// core requires a monotonically increasing clock.
type Clock struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	mu   sync.Mutex
	last uint64
}

// NewClock dials the configured RPC endpoint and returns a ready-to-use clock.
func NewClock(ctx context.Context, cfg Config) (*Clock, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return &Clock{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Height returns the latest block height reported by the node.
func (c *Clock) Height(ctx context.Context) (uint64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的以太坊时钟")
	}
	height, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < c.last {
		height = c.last
	}
	c.last = height
	return height, nil
}

// Close releases the underlying RPC connection.
func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

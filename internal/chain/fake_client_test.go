package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1)}
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errc) })
}

// fakeClient serves FilterLogs from an in-memory history and hands the test
// the sinks of its subscriptions.
type fakeClient struct {
	mu      sync.Mutex
	head    uint64
	history []types.Log
	queries []ethereum.FilterQuery

	logSub     *fakeSub
	logSink    chan<- types.Log
	subscribed chan struct{}

	headSub  *fakeSub
	headSink chan<- *types.Header
	latest   *types.Header
}

func newFakeClient(head uint64, history ...types.Log) *fakeClient {
	return &fakeClient{
		head:       head,
		history:    history,
		subscribed: make(chan struct{}, 4),
	}
}

func (c *fakeClient) setHead(head uint64, more ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
	c.history = append(c.history, more...)
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)

	var out []types.Log
	for _, l := range c.history {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	c.logSub = newFakeSub()
	c.logSink = ch
	sub := c.logSub
	c.mu.Unlock()
	c.subscribed <- struct{}{}
	return sub, nil
}

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.latest, nil
}

func (c *fakeClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.mu.Lock()
	c.headSub = newFakeSub()
	c.headSink = ch
	sub := c.headSub
	c.mu.Unlock()
	c.subscribed <- struct{}{}
	return sub, nil
}

func (c *fakeClient) push(l types.Log) {
	c.mu.Lock()
	sink := c.logSink
	c.mu.Unlock()
	sink <- l
}

func (c *fakeClient) queryRanges() [][2]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]uint64, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
	}
	return out
}

package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

type fakeChainClient struct {
	ledgers    []uint32
	ledgerIdx  int
	eventsPage map[string]interface{}
	eventsErr  error
}

func (f *fakeChainClient) GetLatestLedger(ctx context.Context) (uint32, error) {
	if f.ledgerIdx >= len(f.ledgers) {
		return f.ledgers[len(f.ledgers)-1], nil
	}
	l := f.ledgers[f.ledgerIdx]
	f.ledgerIdx++
	return l, nil
}

func (f *fakeChainClient) GetEvents(ctx context.Context, startLedger uint32, filters interface{}, cursor string, limit int) (interface{}, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.eventsPage, nil
}

func (f *fakeChainClient) GetLedgerEntries(ctx context.Context, keys []string) (interface{}, error) {
	return nil, nil
}

func (f *fakeChainClient) SimulateTransaction(ctx context.Context, tx interface{}) (interface{}, error) {
	return nil, nil
}

func (f *fakeChainClient) SendTransaction(ctx context.Context, tx interface{}) (string, string, error) {
	return "", "", nil
}

func (f *fakeChainClient) GetTransaction(ctx context.Context, hash string) (uint32, string, string, string, error) {
	return 0, "", "", "", nil
}

func TestChannelSinkPublishAndDrain(t *testing.T) {
	sink := NewChannelSink(2)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, auction.Event{Kind: auction.EventLedger, Payload: uint32(5)}))
	require.NoError(t, sink.Publish(ctx, auction.Event{Kind: auction.EventLedger, Payload: uint32(6)}))

	ev := <-sink.Events()
	require.Equal(t, uint32(5), ev.Payload)
}

func TestChannelSinkPublishRespectsContextCancel(t *testing.T) {
	sink := NewChannelSink(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, sink.Publish(ctx, auction.Event{Kind: auction.EventLedger, Payload: uint32(1)}))
	cancel()
	err := sink.Publish(ctx, auction.Event{Kind: auction.EventLedger, Payload: uint32(2)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectorRunPublishesLedgerAdvance(t *testing.T) {
	client := &fakeChainClient{ledgers: []uint32{10, 10, 11}}
	sink := NewChannelSink(8)
	c := New(client, sink, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 9) }()

	var seen []uint32
	for {
		select {
		case ev := <-sink.Events():
			if l, ok := ev.Payload.(uint32); ok {
				seen = append(seen, l)
			}
		case <-ctx.Done():
			<-done
			require.Contains(t, seen, uint32(10))
			return
		}
	}
}

func TestCollectorPollEventsDecodesPage(t *testing.T) {
	client := &fakeChainClient{
		eventsPage: map[string]interface{}{
			"cursor": "abc",
			"events": []interface{}{
				map[string]interface{}{"type": string(auction.EventOracleScan)},
			},
		},
	}
	c := New(client, NewChannelSink(1), time.Second, nil)

	events, cursor, err := c.pollEvents(context.Background(), 1, "")
	require.NoError(t, err)
	require.Equal(t, "abc", cursor)
	require.Len(t, events, 1)
	require.Equal(t, auction.EventOracleScan, events[0].Kind)
}

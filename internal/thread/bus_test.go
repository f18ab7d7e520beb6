package thread

import (
	"context"
	"testing"
	"time"
)

// linkRequester sends a LinkThreadRequest for targetRole as soon as it
// starts, then waits for the LinkThread envelope carrying its endpoint and
// reports the received port over gotPort.
func linkRequester(targetRole Role, gotPort chan<- *Endpoint) func() WorkerFunc {
	return func() WorkerFunc {
		return func(ctx context.Context, role Role, index int, conn Endpoint) error {
			conn.Send(Envelope{Kind: KindLinkThreadRequest, Payload: LinkRequest{TargetRole: targetRole}})
			for {
				select {
				case msg := <-conn.Recv():
					if msg.Kind == KindLinkThread {
						gotPort <- msg.Port
						<-ctx.Done()
						return nil
					}
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func linkTarget(gotPort chan<- *Endpoint) func() WorkerFunc {
	return func() WorkerFunc {
		return func(ctx context.Context, role Role, index int, conn Endpoint) error {
			for {
				select {
				case msg := <-conn.Recv():
					if msg.Kind == KindLinkThread {
						gotPort <- msg.Port
						<-ctx.Done()
						return nil
					}
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func TestCreateLinkBetweenThreads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sourcePort := make(chan *Endpoint, 1)
	targetPort := make(chan *Endpoint, 1)

	bus := NewBus()
	source := NewFabric(ctx, RoleIndexer, 4, linkRequester(RoleP2P, sourcePort))
	target := NewFabric(ctx, RoleP2P, 4, linkTarget(targetPort))
	bus.Register(source)
	bus.Register(target)

	source.Spawn(1)
	target.Spawn(1)
	waitForLive(t, source, 1)
	waitForLive(t, target, 1)

	select {
	case ep := <-sourcePort:
		if ep == nil {
			t.Fatalf("source received nil endpoint")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for source endpoint")
	}
	select {
	case ep := <-targetPort:
		if ep == nil {
			t.Fatalf("target received nil endpoint")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for target endpoint")
	}
}

package thread

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/pkg/logging"
)

// LinkRequest is the payload of a LinkThreadRequest envelope: a worker
// asking the fabric to establish a direct duplex channel to a worker of a
// different role (§4.2 "createLinkBetweenThreads").
type LinkRequest struct {
	TargetRole Role
}

// Bus aggregates the per-role Fabrics of a process and brokers
// createLinkBetweenThreads requests between them.
type Bus struct {
	mu      sync.Mutex
	fabrics map[Role]*Fabric
	logger  *logrus.Entry
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{fabrics: make(map[Role]*Fabric), logger: logging.For("thread-bus")}
}

// Register attaches a Fabric to the bus under its role, enabling
// cross-fabric linking.
func (b *Bus) Register(f *Fabric) {
	b.mu.Lock()
	b.fabrics[f.role] = f
	f.bus = b
	b.mu.Unlock()
}

// Fabric looks up a registered fabric by role.
func (b *Bus) Fabric(role Role) (*Fabric, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fabrics[role]
	return f, ok
}

// handleLinkRequest builds a direct duplex channel between the requesting
// worker and a worker picked (round-robin) from the target role's fabric,
// then hands one endpoint to each via a LinkThread envelope (§4.2 step 2-3).
func (b *Bus) handleLinkRequest(source *WorkerHandle, msg Envelope) {
	req, ok := msg.Payload.(LinkRequest)
	if !ok {
		b.logger.WithField("kind", msg.Kind).Warn("malformed LinkThreadRequest payload")
		return
	}
	target, ok := b.Fabric(req.TargetRole)
	if !ok {
		b.logger.WithField("target", req.TargetRole).Warn("link request for unknown role")
		return
	}
	targetHandle, ok := target.pickWorker()
	if !ok {
		b.logger.WithField("target", req.TargetRole).Warn("link request: no live worker in target role")
		return
	}

	rx, tx := NewChannelPair(16)
	source.Send(Envelope{Kind: KindLinkThread, Port: &rx})
	targetHandle.Send(Envelope{Kind: KindLinkThread, Port: &tx})
}

// Shutdown drains every registered fabric, stopping at the first error or
// once all fabrics report done.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	fabrics := make([]*Fabric, 0, len(b.fabrics))
	for _, f := range b.fabrics {
		fabrics = append(fabrics, f)
	}
	b.mu.Unlock()

	for _, f := range fabrics {
		if err := f.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

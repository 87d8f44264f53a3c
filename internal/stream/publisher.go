// Package stream pushes tracking results to remote viewers over a gRPC
// server stream. The Publisher is a sonar.CycleSink: the tracking loop hands
// it every cycle and it fans them out to connected clients without blocking.
package stream

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

// Config holds publisher settings.
type Config struct {
	// ListenAddr is the gRPC listen address (e.g. "localhost:50051").
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients.
	MaxClients int

	// ClientBuffer is the number of cycles queued per client before
	// further cycles are dropped for that client.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   8,
		ClientBuffer: 16,
	}
}

// Publisher manages the gRPC server and cycle fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	cycleCh   chan sonar.Cycle
	clients   map[uint64]*client
	clientsMu sync.RWMutex
	nextID    uint64

	published atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type client struct {
	id      uint64
	cycleCh chan sonar.Cycle
}

// NewPublisher creates a Publisher. Call Start to serve over the network or
// Serve to use an existing listener.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	p := &Publisher{
		config:  cfg,
		cycleCh: make(chan sonar.Cycle, 64),
		clients: make(map[uint64]*client),
		stopCh:  make(chan struct{}),
	}
	p.server = grpc.NewServer()
	RegisterPositionStreamServer(p.server, NewServer(p))
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the position stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		log.Printf("[stream] gRPC position stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[stream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server and ends every client stream.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	log.Printf("[stream] gRPC position stream stopped")
}

// HandleCycle queues c for every connected client. It never blocks; when the
// broadcast queue is full the cycle is dropped.
func (p *Publisher) HandleCycle(c sonar.Cycle) {
	if !p.running.Load() {
		return
	}
	select {
	case p.cycleCh <- c:
		p.published.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case c := <-p.cycleCh:
			p.clientsMu.RLock()
			for _, cl := range p.clients {
				select {
				case cl.cycleCh <- c:
				default:
					// slow client, drop for this client only
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (*client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	p.nextID++
	cl := &client{id: p.nextID, cycleCh: make(chan sonar.Cycle, p.config.ClientBuffer)}
	p.clients[cl.id] = cl
	log.Printf("[stream] client %d connected (total: %d)", cl.id, len(p.clients))
	return cl, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		log.Printf("[stream] client %d disconnected (remaining: %d)", id, len(p.clients))
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int    `json:"clients"`
	Running   bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   n,
		Running:   p.running.Load(),
	}
}

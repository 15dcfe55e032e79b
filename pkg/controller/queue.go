package controller

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/videograce/confcore/pkg/logger"
)

// sendPriority orders outbound signalling frames: session-critical
// commands (join/leave, device bring-up, ping) must not queue behind
// chat or contact-list traffic on a congested link. Grounded on
// pkg/nest/queue.go's CommandType priority split, generalized from two
// tiers to three since this protocol's command catalogue is wider than
// the Nest API's extend/generate pair.
type sendPriority int

const (
	priorityControl sendPriority = iota // ping, disconnect, change_server replies
	prioritySession                     // connect_to_conference_*, device_params, device_connect
	priorityBulk                        // chat, contact/group/conference lists
)

func (p sendPriority) String() string {
	switch p {
	case priorityControl:
		return "control"
	case prioritySession:
		return "session"
	case priorityBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// sendTicket is one outbound frame waiting for its turn on the wire.
type sendTicket struct {
	priority  sendPriority
	timestamp time.Time
	payload   []byte
	index     int
}

type sendTicketHeap []*sendTicket

func (h sendTicketHeap) Len() int { return len(h) }

func (h sendTicketHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].timestamp.Before(h[j].timestamp)
}

func (h sendTicketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *sendTicketHeap) Push(x any) {
	t := x.(*sendTicket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *sendTicketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// sendQueue paces outbound signalling frames through one WebSocket
// connection, highest priority first, FIFO within a priority tier.
// Grounded on pkg/nest/queue.go's CommandQueue: a container/heap
// priority queue drained by one worker goroutine under a
// golang.org/x/time/rate limiter, except here the limiter exists to
// smooth bursts of bulk traffic rather than satisfy an external API
// quota — session/control frames are never held up behind it since they
// sit in a higher-priority bucket the worker always drains first.
type sendQueue struct {
	log     *logger.Logger
	limiter *rate.Limiter
	send    func(payload []byte) error

	mu   sync.Mutex
	heap sendTicketHeap

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newSendQueue constructs a queue that calls send for every dequeued
// frame, rate-limiting bulk-tier traffic to bulkPerSecond frames/sec
// (session/control traffic is unlimited).
func newSendQueue(send func(payload []byte) error, bulkPerSecond float64, log *logger.Logger) *sendQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &sendQueue{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(bulkPerSecond), 1),
		send:    send,
		ctx:     ctx,
		cancel:  cancel,
	}
	heap.Init(&q.heap)
	return q
}

func (q *sendQueue) start() {
	q.wg.Add(1)
	go q.workerLoop()
}

func (q *sendQueue) stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *sendQueue) enqueue(priority sendPriority, payload []byte) {
	q.mu.Lock()
	heap.Push(&q.heap, &sendTicket{priority: priority, timestamp: time.Now(), payload: payload})
	q.mu.Unlock()
}

func (q *sendQueue) workerLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.drainOne()
		}
	}
}

func (q *sendQueue) drainOne() {
	q.mu.Lock()
	if q.heap.Len() == 0 {
		q.mu.Unlock()
		return
	}
	next := q.heap[0]
	if next.priority == priorityBulk && !q.limiter.Allow() {
		q.mu.Unlock()
		return
	}
	ticket := heap.Pop(&q.heap).(*sendTicket)
	q.mu.Unlock()

	if err := q.send(ticket.payload); err != nil {
		q.log.Warn("signalling send failed", "priority", ticket.priority.String(), "error", err)
	}
}

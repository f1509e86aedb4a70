package admission

import (
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard releases a slot or lock. Release is safe to call more than once and
// must be called on every exit path.
type Guard struct {
	once    sync.Once
	release func()
}

// Release returns the held slot or lock exactly once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.release != nil {
			g.release()
		}
	})
}

// Gate bounds concurrent in-flight uploads per client and serializes
// submissions for the same logical document. The in-process implementation
// assumes a single intake instance; a lease-based implementation can replace
// it behind this interface when the tier scales out.
type Gate interface {
	AcquireSlot(clientID int64) (*Guard, error)
	LockKey(key string) (*Guard, error)
}

// InProcessGate holds slot counts and lock membership in process memory.
type InProcessGate struct {
	slotsPerClient int64

	mu    sync.Mutex
	slots map[int64]*semaphore.Weighted
	keys  map[string]struct{}
}

func NewInProcessGate(slotsPerClient int) *InProcessGate {
	if slotsPerClient <= 0 {
		slotsPerClient = 1
	}
	return &InProcessGate{
		slotsPerClient: int64(slotsPerClient),
		slots:          make(map[int64]*semaphore.Weighted),
		keys:           make(map[string]struct{}),
	}
}

// AcquireSlot takes one of the client's upload slots, failing fast when all
// are in use.
func (g *InProcessGate) AcquireSlot(clientID int64) (*Guard, error) {
	g.mu.Lock()
	sem, ok := g.slots[clientID]
	if !ok {
		sem = semaphore.NewWeighted(g.slotsPerClient)
		g.slots[clientID] = sem
	}
	g.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, ErrTooManyUploads
	}
	return &Guard{release: func() { sem.Release(1) }}, nil
}

// LockKey takes the exclusive lock for one logical document key.
func (g *InProcessGate) LockKey(key string) (*Guard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.keys[key]; held {
		return nil, ErrDuplicateInFlight
	}
	g.keys[key] = struct{}{}
	return &Guard{release: func() {
		g.mu.Lock()
		delete(g.keys, key)
		g.mu.Unlock()
	}}, nil
}

// LockKeyFor derives the composite lock key for a submission. The idempotency
// key wins when present; otherwise the (tenant, property, filename) tuple
// identifies the logical document.
func LockKeyFor(tenant, idempotencyKey, propertyRef, filename string) string {
	tenant = strings.TrimSpace(tenant)
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		return tenant + "|idem|" + key
	}
	return tenant + "|doc|" + strings.TrimSpace(propertyRef) + "|" + strings.TrimSpace(filename)
}

// UploadLockKeyFor derives the composite lock key for an upload issuance.
// Uploads own a separate namespace so a submission whose property reference
// happens to be "upload" cannot contend with them.
func UploadLockKeyFor(tenant, idempotencyKey, filename string) string {
	tenant = strings.TrimSpace(tenant)
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		return tenant + "|upload-idem|" + key
	}
	return tenant + "|upload|" + strings.TrimSpace(filename)
}

var _ Gate = (*InProcessGate)(nil)

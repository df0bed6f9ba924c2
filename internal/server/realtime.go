package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ingest"
)

const (
	RealtimeEventMintProcessed = "mint-processed"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "puzzlemint-backend"
	realtimeHeartbeatInterval  = 15 * time.Second
)

// MintNotice is the payload of a mint-processed event.
type MintNotice struct {
	TxHash     string   `json:"txHash"`
	XPGranted  int64    `json:"xpGranted"`
	LifetimeXP int64    `json:"lifetimeXp"`
	MonthlyXP  int64    `json:"monthlyXp"`
	SeasonXP   int64    `json:"seasonXp"`
	Tier       string   `json:"tier"`
	StreakDays int      `json:"streakDays"`
	MysteryBox *BoxDrop `json:"mysteryBox,omitempty"`
	NewBadges  []string `json:"newBadges"`
}

// BoxDrop describes a mystery box found by a mint.
type BoxDrop struct {
	ID     string `json:"id"`
	Rarity string `json:"rarity"`
}

type RealtimeMessage struct {
	Address   string
	EventType string
	Notice    MintNotice
	Timestamp time.Time
}

// RealtimeDispatcher fans mint notifications out to the SSE subscribers of each wallet. Slow
// subscribers drop messages rather than block ingestion.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, address string) (<-chan RealtimeMessage, func()) {
	if address == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(address, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(address, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Address == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Address]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyMintProcessed publishes a committed ingestion to the minter's subscribers.
func (d *RealtimeDispatcher) NotifyMintProcessed(address string, outcome ingest.Outcome) {
	d.Publish(RealtimeMessage{
		Address:   address,
		EventType: RealtimeEventMintProcessed,
		Notice:    noticeFromOutcome(outcome),
		Timestamp: d.clock().UTC(),
	})
}

func noticeFromOutcome(outcome ingest.Outcome) MintNotice {
	notice := MintNotice{
		TxHash:     outcome.TxHash,
		XPGranted:  outcome.XPGranted,
		LifetimeXP: outcome.LifetimeXP,
		MonthlyXP:  outcome.MonthlyXP,
		SeasonXP:   outcome.SeasonXP,
		Tier:       string(outcome.Tier),
		StreakDays: outcome.StreakDays,
		NewBadges:  outcome.NewBadges,
	}
	if notice.NewBadges == nil {
		notice.NewBadges = []string{}
	}
	if outcome.Box != nil {
		notice.MysteryBox = &BoxDrop{ID: outcome.Box.ID, Rarity: string(outcome.Box.BoxType)}
	}
	return notice
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(address string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[address]; !ok {
		d.subscribers[address] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[address][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(address string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[address]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, address)
		}
	}
	d.mu.Unlock()
}

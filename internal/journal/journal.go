// Package journal appends engine events to MongoDB so pollers can read
// history that predates the running process.
package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const Collection = "events"

// RegistryStream is the stream name of game_created events.
const RegistryStream = "registry"

// Store is the part of *mongo.Collection the journal uses.
type Store interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type record struct {
	Stream   string      `bson:"stream"`
	GameID   string      `bson:"game_id"`
	Seq      int64       `bson:"seq"`
	Type     string      `bson:"type"`
	At       time.Time   `bson:"at"`
	Player   string      `bson:"player,omitempty"`
	Number   *int32      `bson:"number,omitempty"`
	Amount   string      `bson:"amount"`
	Duration int64       `bson:"duration,omitempty"`
	Line     *bingo.Line `bson:"line,omitempty"`
}

func streamOf(ev bingo.Event) string {
	if ev.Type == bingo.EventGameCreated {
		return RegistryStream
	}
	return string(ev.GameID)
}

func toRecord(ev bingo.Event) record {
	r := record{
		Stream:   streamOf(ev),
		GameID:   string(ev.GameID),
		Seq:      int64(ev.Seq),
		Type:     string(ev.Type),
		At:       ev.At,
		Player:   string(ev.Player),
		Amount:   ev.Amount.String(),
		Duration: int64(ev.Duration),
		Line:     ev.Line,
	}
	if ev.Number != nil {
		n := int32(*ev.Number)
		r.Number = &n
	}
	return r
}

func (r record) event() (bingo.Event, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return bingo.Event{}, fmt.Errorf("event %s/%d amount: %w", r.Stream, r.Seq, err)
	}
	ev := bingo.Event{
		GameID:   bingo.GameID(r.GameID),
		Seq:      uint64(r.Seq),
		Type:     bingo.EventType(r.Type),
		At:       r.At,
		Player:   bingo.Identity(r.Player),
		Amount:   amount,
		Duration: time.Duration(r.Duration),
		Line:     r.Line,
	}
	if r.Number != nil {
		n := uint8(*r.Number)
		ev.Number = &n
	}
	return ev, nil
}

// Journal is a bingo.Notifier that writes events on its own goroutine.
// When the buffer is full Notify waits up to the configured wait for room,
// then drops the event and counts it. A dropped event is missing from
// history, so pollers that fall back to the journal see a gap.
type Journal struct {
	store   Store
	ch      chan bingo.Event
	done    chan struct{}
	dropped atomic.Int64
	timeout time.Duration
	wait    time.Duration
}

func New(store Store, buffer int) *Journal {
	return &Journal{
		store:   store,
		ch:      make(chan bingo.Event, buffer),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
		wait:    2 * time.Second,
	}
}

func (j *Journal) Notify(ev bingo.Event) {
	select {
	case j.ch <- ev:
		return
	default:
	}

	timer := time.NewTimer(j.wait)
	defer timer.Stop()
	select {
	case j.ch <- ev:
	case <-timer.C:
		j.dropped.Add(1)
		log.Errorf("journal buffer full for %s, dropped %s %s/%d", j.wait, ev.Type, ev.GameID, ev.Seq)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Run writes events until ctx is cancelled, then flushes what is buffered.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case ev := <-j.ch:
			j.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-j.ch:
					j.write(ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (j *Journal) Done() <-chan struct{} { return j.done }

func (j *Journal) write(ev bingo.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.store.InsertOne(ctx, toRecord(ev))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		log.Errorf("journal insert %s %s/%d: %s", ev.Type, ev.GameID, ev.Seq, err)
	}
}

// Since reads the events of stream with Seq > after in order. Use
// RegistryStream for game_created events or a game id for a game's events.
func (j *Journal) Since(ctx context.Context, stream string, after uint64) ([]bingo.Event, error) {
	filter := bson.D{
		{Key: "stream", Value: stream},
		{Key: "seq", Value: bson.D{{Key: "$gt", Value: int64(after)}}},
	}
	cur, err := j.store.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	var records []record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]bingo.Event, 0, len(records))
	for _, r := range records {
		ev, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

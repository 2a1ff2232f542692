// Package pipeline is the trade pipeline (C5): for each decoded event it
// enriches, threshold-filters, deduplicates, and enqueues persistence,
// updating per-mint running aggregates under a fine-grained per-mint lock,
// per spec.md §4.5.
package pipeline

import (
	"sync"
	"time"

	"github.com/anselmolaurindo/chainindexer/internal/decode"
	"github.com/anselmolaurindo/chainindexer/internal/models"
	"github.com/anselmolaurindo/chainindexer/internal/router"
)

// Topics published by the pipeline, part of the pub/sub fan-out contract.
const (
	TopicBCTrade          = "bc:trade"
	TopicAMMTrade         = "amm:trade"
	TopicTokenDiscovered  = "token:discovered"
	TopicThresholdCrossed = "token:threshold_crossed"
	TopicTradeProcessed   = "monitor:trade_processed"
	TopicTradeObserved    = "monitor:trade_observed"
)

// mintAggregate is the pipeline's running per-mint state.
type mintAggregate struct {
	mu               sync.Mutex
	tracked          bool // true once market cap has crossed the save threshold
	thresholdFired   bool
	totalTrades      int64
	volume24hUSD     float64
	peakMarketCapUSD float64
	windowStart      time.Time
}

// SeenSignatures is the minimal dedup interface the pipeline needs; the
// durability layer's signature-keyed UPSERT is the durable source of truth,
// this is only a fast in-memory pre-filter to avoid redundant enqueues
// within a single process lifetime.
type SeenSignatures interface {
	SeenOrMark(signature string) (alreadySeen bool)
}

// Persister accepts a trade for durable, idempotent persistence.
type Persister interface {
	EnqueueTrade(t models.Trade)
}

// MintResolver looks up (or lazily creates) the Mint row backing a mint
// address, returning its durable ID. wasCreated is true the first time an
// address is seen, driving the TokenDiscovered publication.
type MintResolver interface {
	ResolveMintID(address string) (mintID string, wasCreated bool)
}

// Pipeline wires together threshold filtering, dedup, aggregation, and
// publication for decoded trade events.
type Pipeline struct {
	router    *router.Router
	persister Persister
	seen      SeenSignatures
	resolver  MintResolver

	bcThresholdUSD  float64
	ammThresholdUSD float64

	mu    sync.Mutex
	mints map[string]*mintAggregate
}

// New builds a Pipeline.
func New(r *router.Router, persister Persister, seen SeenSignatures, resolver MintResolver, bcThresholdUSD, ammThresholdUSD float64) *Pipeline {
	return &Pipeline{
		router:          r,
		persister:       persister,
		seen:            seen,
		resolver:        resolver,
		bcThresholdUSD:  bcThresholdUSD,
		ammThresholdUSD: ammThresholdUSD,
		mints:           make(map[string]*mintAggregate),
	}
}

func (p *Pipeline) aggregateFor(mint string) *mintAggregate {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.mints[mint]
	if !ok {
		a = &mintAggregate{windowStart: time.Now()}
		p.mints[mint] = a
	}
	return a
}

// Process handles one decoded trade: threshold filter, dedup, aggregate
// update, persistence enqueue, and topic publication.
func (p *Pipeline) Process(ev decode.TradeEvent, priceUSD, marketCapUSD float64, confidence models.ParseConfidence, possibleSandwich bool) {
	if p.seen.SeenOrMark(ev.Signature) {
		return // already processed this process lifetime; durable store still dedupes on disk
	}

	mintID, discovered := p.resolver.ResolveMintID(ev.Mint)
	if discovered {
		p.router.EmitAsync(router.Event{Topic: TopicTokenDiscovered, Payload: ev.Mint})
	}

	agg := p.aggregateFor(ev.Mint)

	agg.mu.Lock()
	threshold := p.bcThresholdUSD
	if ev.Venue == decode.VenueAMM {
		threshold = p.ammThresholdUSD
	}

	crossedNow := false
	if !agg.tracked {
		if marketCapUSD >= threshold {
			agg.tracked = true
			if !agg.thresholdFired {
				agg.thresholdFired = true
				crossedNow = true
			}
		}
	}
	shouldPersist := agg.tracked

	if shouldPersist {
		agg.totalTrades++
		agg.volume24hUSD += marketCapUSD // running sum of each persisted trade's market cap; nothing resets or trims it
		if marketCapUSD > agg.peakMarketCapUSD {
			agg.peakMarketCapUSD = marketCapUSD
		}
	}
	agg.mu.Unlock()

	if !shouldPersist {
		p.router.EmitAsync(router.Event{Topic: TopicTradeObserved, Payload: ev})
		return
	}

	trade := models.Trade{
		MintID:           mintID,
		Signature:        ev.Signature,
		Side:             ev.Side,
		Trader:           ev.Trader,
		BaseAmount:       ev.BaseAmount,
		QuoteAmount:      ev.QuoteAmount,
		PriceUsd:         priceUSD,
		MarketCapUsd:     marketCapUSD,
		ParseConfidence:  confidence,
		PossibleSandwich: possibleSandwich,
		Slot:             ev.Slot,
	}
	if ev.Venue == decode.VenueAMM {
		trade.Venue = models.TradeVenueAMM
	} else {
		trade.Venue = models.TradeVenueBC
	}

	p.persister.EnqueueTrade(trade)

	topic := TopicBCTrade
	if ev.Venue == decode.VenueAMM {
		topic = TopicAMMTrade
	}
	p.router.EmitAsync(router.Event{Topic: topic, Payload: trade})
	p.router.EmitAsync(router.Event{Topic: TopicTradeProcessed, Payload: trade})

	if crossedNow {
		p.router.EmitAsync(router.Event{Topic: TopicThresholdCrossed, Payload: ev.Mint})
	}
}

// DetectSandwich flags a passive possible_sandwich annotation (spec.md §4
// FULL supplemental feature): buy->sell (or sell->buy) of the same mint by
// different traders within the same slot with opposing reserve movement
// beyond ratioThreshold. This never blocks or rejects a trade.
func DetectSandwich(prior, current decode.TradeEvent, ratioThreshold float64) bool {
	if prior.Mint != current.Mint || prior.Slot != current.Slot {
		return false
	}
	if prior.Trader == current.Trader {
		return false
	}
	if prior.Side == current.Side {
		return false
	}
	if prior.QuoteAmount == 0 || current.QuoteAmount == 0 {
		return false
	}
	ratio := float64(current.QuoteAmount) / float64(prior.QuoteAmount)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio >= ratioThreshold
}

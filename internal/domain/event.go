package domain

import "time"

// EventType names a protocol event.
type EventType string

const (
	EventProtocolInitialized EventType = "protocol_initialized"
	EventConfigUpdated       EventType = "config_updated"
	EventPauseChanged        EventType = "protocol_paused"
	EventAssetConfigured     EventType = "asset_configured"
	EventAdminProposed       EventType = "admin_proposed"
	EventAdminTransferred    EventType = "admin_transferred"
	EventMarketCreated       EventType = "market_created"
	EventMarketResolved      EventType = "market_resolved"
	EventWeightsFinalized    EventType = "weights_finalized"
	EventBetPlaced           EventType = "bet_placed"
	EventBetDelegated        EventType = "bet_delegated"
	EventBetRevealed         EventType = "bet_revealed"
	EventBetUpdated          EventType = "bet_updated"
	EventBetUndelegated      EventType = "bet_undelegated"
	EventOutcomeCalculated   EventType = "outcome_calculated"
	EventRewardClaimed       EventType = "reward_claimed"
	EventBetRefunded         EventType = "bet_refunded"
)

// Event channels on the signal bus.
const (
	EventChannelPrefix = "events:"
	EventStream        = "stream:events"
)

// Event is a protocol event. Attrs never carries revealed predictions.
type Event struct {
	ID       string            `json:"id"`
	Type     EventType         `json:"type"`
	MarketID string            `json:"market_id,omitempty"`
	BetID    string            `json:"bet_id,omitempty"`
	Actor    Identity          `json:"actor"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	At       time.Time         `json:"at"`
}

// Channel is the pub/sub channel the event is published on.
func (e Event) Channel() string { return EventChannelPrefix + string(e.Type) }

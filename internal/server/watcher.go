package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"ircdb/internal/metrics"
	"ircdb/internal/protocol"
	"ircdb/internal/store"
)

// DefaultPollPeriod is how often a delivery watcher re-reads its channel's
// message slot. Fan-out latency and the lost-update window are both bounded
// by it.
const DefaultPollPeriod = 500 * time.Millisecond

// Watchers starts delivery watchers: one goroutine per active channel
// membership, created on JOIN, polling the channel's message slot and
// forwarding new content to the owning connection.
type Watchers struct {
	store   *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	period  time.Duration
}

// NewWatchers builds a watcher factory. period <= 0 selects the default.
func NewWatchers(st *store.Store, log *slog.Logger, m *metrics.Metrics, period time.Duration) *Watchers {
	if log == nil {
		log = slog.Default()
	}
	if period <= 0 {
		period = DefaultPollPeriod
	}
	return &Watchers{store: st, log: log, metrics: m, period: period}
}

// StartWatcher implements protocol.WatcherStarter.
func (w *Watchers) StartWatcher(sess *protocol.Session, membershipID, channelID uint, ownerNick string) {
	go w.run(sess, membershipID, channelID, ownerNick)
}

// run is the delivery loop for one membership. It holds no lock and shares
// nothing with the connection goroutine except the session's Send; all state
// it reads comes from the store on every tick.
//
// Termination paths: the owner's own PART for this channel
// observed in the slot, a failed Send (socket gone), or the channel row
// vanishing. Nothing cancels it from outside, and it never deletes the
// membership row itself.
func (w *Watchers) run(sess *protocol.Session, membershipID, channelID uint, ownerNick string) {
	w.metrics.WatcherStarted()
	defer w.metrics.WatcherStopped()

	log := w.log.With("membership", membershipID, "channel", channelID, "owner", ownerNick)

	channel, err := w.store.GetChannelByID(channelID)
	if err != nil {
		log.Error("watcher could not resolve channel", "err", err)
		return
	}

	// Seed from the slot's current value: a new member does not replay
	// whatever was said before they joined.
	lastSeen, err := w.store.GetChannelContent(channelID)
	if err != nil {
		log.Error("watcher could not seed message slot", "err", err)
		return
	}

	// Broadcast lines start ":<nick>!<nick>@<ip>"; the bang keeps a short
	// nick from matching a longer one's lines.
	selfPrefix := ":" + ownerNick + "!"
	selfPart := " PART " + channel.Name

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for range ticker.C {
		current, err := w.store.GetChannelContent(channelID)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			log.Error("watcher poll failed", "err", err)
			continue
		}

		if current == lastSeen {
			continue
		}

		// Never echo the owner's own lines back, but watch for the owner
		// leaving this channel through this same membership.
		if strings.HasPrefix(current, selfPrefix) {
			lastSeen = current
			if strings.Contains(current, selfPart) {
				log.Debug("watcher saw own PART, stopping")
				return
			}
			continue
		}

		if err := sess.Send(current); err != nil {
			// Socket is gone. The owner's QUIT/PART path owns the
			// membership row; exit quietly.
			return
		}
		w.metrics.LineDelivered()
		lastSeen = current
	}
}

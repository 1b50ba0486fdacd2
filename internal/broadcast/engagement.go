package broadcast

import (
	"math/rand"
	"sync"
	"time"
)

// Simulated engagement: viewer/like counters are perturbed and synthetic
// chat lines injected on a fixed interval while watching a live session.
// Pure presentation decoration; not part of the signaling protocol.

var chatAuthors = []string{"mia_s", "deals4days", "krista.v", "tomo", "lena_shops", "arjun_k", "sofia.m"}

var chatLines = []string{
	"this looks amazing 😍",
	"how much is shipping?",
	"just ordered one!",
	"can you show the back?",
	"love this color",
	"is there a discount code?",
	"been waiting for this restock",
	"🔥🔥🔥",
}

type engagementSim struct {
	done chan struct{}
	once sync.Once
}

func (s *engagementSim) stop() {
	s.once.Do(func() { close(s.done) })
}

func (o *Orchestrator) startEngagement() {
	if o.cfg.EngagementInterval <= 0 {
		return
	}
	o.mu.Lock()
	if o.engagement != nil || o.isHost || o.closed || o.session == nil || !o.session.IsLive() {
		o.mu.Unlock()
		return
	}
	sim := &engagementSim{done: make(chan struct{})}
	o.engagement = sim
	viewers := o.session.ViewerCount
	likes := o.session.Likes
	o.mu.Unlock()

	go o.runEngagement(sim, viewers, likes)
}

func (o *Orchestrator) runEngagement(sim *engagementSim, viewers, likes int) {
	ticker := time.NewTicker(o.cfg.EngagementInterval)
	defer ticker.Stop()
	tick := 0
	for {
		select {
		case <-sim.done:
			return
		case <-ticker.C:
			tick++
			viewers += rand.Intn(5) - 1
			if viewers < 1 {
				viewers = 1
			}
			likes += rand.Intn(4)

			o.mu.Lock()
			if o.session != nil {
				o.session.ViewerCount = viewers
				o.session.Likes = likes
			}
			o.mu.Unlock()

			if o.cfg.Events.OnEngagement != nil {
				o.cfg.Events.OnEngagement(viewers, likes)
			}
			if tick%3 == 0 && o.cfg.Events.OnChat != nil {
				o.cfg.Events.OnChat(
					chatAuthors[rand.Intn(len(chatAuthors))],
					chatLines[rand.Intn(len(chatLines))],
				)
			}
		}
	}
}

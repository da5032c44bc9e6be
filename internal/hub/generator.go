package hub

import (
	"math/rand/v2"
	"time"
)

var (
	senders = []string{"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry"}
	phrases = []string{
		"Hey, how are you?",
		"Just checking in!",
		"Did you see the latest update?",
		"Let's catch up soon",
		"Thanks for the help!",
		"Great work on that project",
		"See you tomorrow",
		"Can we schedule a meeting?",
		"Perfect, thanks!",
		"Looking forward to it",
	}
)

// Draft is a message before it has an id and a timestamp.
type Draft struct {
	ChatID int64
	Sender string
	Body   string
}

// Generator produces the synthetic traffic the server emits.
type Generator interface {
	Next() Draft
	NextDelay() time.Duration
}

// RandomGenerator draws chats, senders and bodies uniformly.
type RandomGenerator struct {
	rnd       *rand.Rand
	chatCount int64
	minDelay  time.Duration
	maxDelay  time.Duration
}

// NewRandomGenerator returns a generator over chat ids [1, chatCount] with
// delays in [minDelay, maxDelay). A nil rnd uses a randomly seeded source.
func NewRandomGenerator(rnd *rand.Rand, chatCount int, minDelay, maxDelay time.Duration) *RandomGenerator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if chatCount < 1 {
		chatCount = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &RandomGenerator{
		rnd:       rnd,
		chatCount: int64(chatCount),
		minDelay:  minDelay,
		maxDelay:  maxDelay,
	}
}

// Next draws the next message.
func (g *RandomGenerator) Next() Draft {
	return Draft{
		ChatID: g.rnd.Int64N(g.chatCount) + 1,
		Sender: senders[g.rnd.IntN(len(senders))],
		Body:   phrases[g.rnd.IntN(len(phrases))],
	}
}

// NextDelay draws the pause before the following emission.
func (g *RandomGenerator) NextDelay() time.Duration {
	span := g.maxDelay - g.minDelay
	if span <= 0 {
		return g.minDelay
	}
	return g.minDelay + time.Duration(g.rnd.Int64N(int64(span)))
}

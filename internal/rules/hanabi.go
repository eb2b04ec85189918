package rules

import (
	"fmt"
	"strconv"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
)

// #region config

const colorChars = "RYGWB"

// HanabiConfig mirrors the game parameters the policy was trained with.
type HanabiConfig struct {
	Players              int
	Colors               int
	Ranks                int
	HandSize             int // 0 selects the standard size for the player count
	MaxInformationTokens int
	MaxLifeTokens        int
}

// DefaultHanabiConfig is the full two-player game.
func DefaultHanabiConfig() HanabiConfig {
	return HanabiConfig{
		Players:              2,
		Colors:               5,
		Ranks:                5,
		MaxInformationTokens: 8,
		MaxLifeTokens:        3,
	}
}

func (c HanabiConfig) validate() error {
	if c.Players < 2 || c.Players > 5 {
		return fmt.Errorf("players must be in [2,5], got %d", c.Players)
	}
	if c.Colors < 1 || c.Colors > len(colorChars) {
		return fmt.Errorf("colors must be in [1,%d], got %d", len(colorChars), c.Colors)
	}
	if c.Ranks < 1 || c.Ranks > 5 {
		return fmt.Errorf("ranks must be in [1,5], got %d", c.Ranks)
	}
	if c.HandSize < 0 {
		return fmt.Errorf("hand size must not be negative, got %d", c.HandSize)
	}
	if c.MaxInformationTokens < 1 || c.MaxLifeTokens < 1 {
		return fmt.Errorf("token limits must be positive")
	}
	return nil
}

// #endregion config

// #region moves

// MoveType enumerates the four Hanabi move kinds.
type MoveType int

const (
	MoveDiscard MoveType = iota
	MovePlay
	MoveRevealColor
	MoveRevealRank
)

// Move is one entry of the action table.
type Move struct {
	Type         MoveType
	CardIndex    int // discard and play
	TargetOffset int // reveal moves, relative to the acting player
	Color        int
	Rank         int // 0-based
}

func (m Move) String() string {
	switch m.Type {
	case MoveDiscard:
		return fmt.Sprintf("(Discard %d)", m.CardIndex)
	case MovePlay:
		return fmt.Sprintf("(Play %d)", m.CardIndex)
	case MoveRevealColor:
		return fmt.Sprintf("(Reveal player +%d color %c)", m.TargetOffset, colorChars[m.Color])
	default:
		return fmt.Sprintf("(Reveal player +%d rank %d)", m.TargetOffset, m.Rank+1)
	}
}

// #endregion moves

// #region layout

// layout holds section offsets of the observer-relative observation vector.
type layout struct {
	bitsPerCard  int
	hands        int
	missingCards int
	deck         int
	fireworks    int
	information  int
	life         int
	discards     int
	lastAction   int
	knowledge    int
	total        int
}

func newLayout(c HanabiConfig, handSize, maxDeck int) layout {
	var l layout
	l.bitsPerCard = c.Colors * c.Ranks
	l.hands = 0
	l.missingCards = l.hands + (c.Players-1)*handSize*l.bitsPerCard
	l.deck = l.missingCards + c.Players
	l.fireworks = l.deck + (maxDeck - c.Players*handSize)
	l.information = l.fireworks + c.Colors*c.Ranks
	l.life = l.information + c.MaxInformationTokens
	l.discards = l.life + c.MaxLifeTokens
	l.lastAction = l.discards + maxDeck

	// acting player, move type, target, color, rank, revealed cards,
	// played/discarded position, played card, success and token bits.
	lastActionBits := c.Players + 4 + c.Players + c.Colors + c.Ranks +
		handSize + handSize + l.bitsPerCard + 2
	l.knowledge = l.lastAction + lastActionBits
	l.total = l.knowledge + c.Players*handSize*(l.bitsPerCard+c.Colors+c.Ranks)
	return l
}

// #endregion layout

// #region hanabi

// Hanabi is the rule engine for the Hanabi Learning Environment action table
// and canonical observation encoding.
type Hanabi struct {
	config   HanabiConfig
	handSize int
	moves    []Move
	labels   []string
	layout   layout
}

// NewHanabi builds the move table and observation layout for cfg.
func NewHanabi(cfg HanabiConfig) (*Hanabi, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("hanabi config: %w", err)
	}
	handSize := cfg.HandSize
	if handSize == 0 {
		handSize = 5
		if cfg.Players >= 4 {
			handSize = 4
		}
	}

	var moves []Move
	for i := 0; i < handSize; i++ {
		moves = append(moves, Move{Type: MoveDiscard, CardIndex: i})
	}
	for i := 0; i < handSize; i++ {
		moves = append(moves, Move{Type: MovePlay, CardIndex: i})
	}
	for offset := 1; offset < cfg.Players; offset++ {
		for c := 0; c < cfg.Colors; c++ {
			moves = append(moves, Move{Type: MoveRevealColor, TargetOffset: offset, Color: c})
		}
	}
	for offset := 1; offset < cfg.Players; offset++ {
		for r := 0; r < cfg.Ranks; r++ {
			moves = append(moves, Move{Type: MoveRevealRank, TargetOffset: offset, Rank: r})
		}
	}

	labels := make([]string, len(moves))
	for i, m := range moves {
		labels[i] = m.String()
	}

	return &Hanabi{
		config:   cfg,
		handSize: handSize,
		moves:    moves,
		labels:   labels,
		layout:   newLayout(cfg, handSize, maxDeckSize(cfg)),
	}, nil
}

// maxDeckSize counts card instances: three of the lowest rank, one of the
// highest, two of every other rank.
func maxDeckSize(c HanabiConfig) int {
	perColor := 0
	for r := 0; r < c.Ranks; r++ {
		switch {
		case r == 0:
			perColor += 3
		case r == c.Ranks-1:
			perColor++
		default:
			perColor += 2
		}
	}
	return perColor * c.Colors
}

func (h *Hanabi) ObservationSize() int { return h.layout.total }

func (h *Hanabi) ActionCount() int { return len(h.moves) }

// HandSize is the number of cards dealt to each player.
func (h *Hanabi) HandSize() int { return h.handSize }

// Move returns the table entry for action.
func (h *Hanabi) Move(action int) (Move, bool) {
	if action < 0 || action >= len(h.moves) {
		return Move{}, false
	}
	return h.moves[action], true
}

// Label returns the move text for action, or the bare index when out of range.
func (h *Hanabi) Label(action int) string {
	if action < 0 || action >= len(h.labels) {
		return strconv.Itoa(action)
	}
	return h.labels[action]
}

// Labels returns a copy of the ordered label table.
func (h *Hanabi) Labels() []string {
	out := make([]string, len(h.labels))
	copy(out, h.labels)
	return out
}

// #endregion hanabi

// #region legality

// handView is what the observer can see of one other player's hand.
type handView struct {
	cards  int
	colors []bool
	ranks  []bool
}

// LegalMask recomputes the canonical legality mask from an observation vector:
// discards need a spent information token, plays need a card in the observer's
// hand, reveals need an information token and at least one matching card in
// the target's hand.
func (h *Hanabi) LegalMask(observation []int) ([]float64, error) {
	l := h.layout
	if len(observation) != l.total {
		return nil, &mask.ShapeError{Field: "observation", Got: len(observation), Want: l.total}
	}
	for i, v := range observation {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("observation cell %d is %d, want 0 or 1", i, v)
		}
	}

	ownCards := h.handSize
	if observation[l.missingCards] == 1 {
		ownCards--
	}

	others := make([]handView, h.config.Players)
	for offset := 1; offset < h.config.Players; offset++ {
		view := handView{
			colors: make([]bool, h.config.Colors),
			ranks:  make([]bool, h.config.Ranks),
		}
		base := l.hands + (offset-1)*h.handSize*l.bitsPerCard
		for slot := 0; slot < h.handSize; slot++ {
			start := base + slot*l.bitsPerCard
			for k := 0; k < l.bitsPerCard; k++ {
				if observation[start+k] == 1 {
					view.cards++
					view.colors[k/h.config.Ranks] = true
					view.ranks[k%h.config.Ranks] = true
					break
				}
			}
		}
		others[offset] = view
	}

	tokens := 0
	for i := 0; i < h.config.MaxInformationTokens; i++ {
		tokens += observation[l.information+i]
	}

	out := make([]float64, len(h.moves))
	for i, m := range h.moves {
		legal := false
		switch m.Type {
		case MoveDiscard:
			legal = m.CardIndex < ownCards && tokens < h.config.MaxInformationTokens
		case MovePlay:
			legal = m.CardIndex < ownCards
		case MoveRevealColor:
			legal = tokens > 0 && others[m.TargetOffset].colors[m.Color]
		case MoveRevealRank:
			legal = tokens > 0 && others[m.TargetOffset].ranks[m.Rank]
		}
		if legal {
			out[i] = mask.Legal
		} else {
			out[i] = mask.Illegal
		}
	}
	return out, nil
}

// #endregion legality

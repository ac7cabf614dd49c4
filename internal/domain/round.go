package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Non-numeric cards are stored as fixed negative sentinels. They are kept in
// the raw vote list and excluded from statistics.
const (
	CardUnknown float64 = -1
	CardBreak   float64 = -2

	MaxCardValue float64 = 1000
)

// ParseCard converts a card label ("5", "0.5", "?", "break") into its value.
func ParseCard(label string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "?", "unknown":
		return CardUnknown, nil
	case "break", "coffee", "☕":
		return CardBreak, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
	if err != nil {
		return 0, ErrInvalidVoteValue
	}
	return v, ValidateCard(v)
}

// ValidateCard accepts numeric cards in [0, MaxCardValue] and the sentinels.
func ValidateCard(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidVoteValue
	}
	if v == CardUnknown || v == CardBreak {
		return nil
	}
	if v < 0 || v > MaxCardValue {
		return ErrInvalidVoteValue
	}
	return nil
}

// IsNumericCard reports whether v counts towards statistics.
func IsNumericCard(v float64) bool { return v >= 0 }

type Vote struct {
	UserID   UserID    `json:"userId"`
	Username string    `json:"username"`
	Value    float64   `json:"value"`
	CastAt   time.Time `json:"castAt"`
}

type RoundState string

const (
	RoundNone      RoundState = "none"
	RoundOpen      RoundState = "open"
	RoundRevealed  RoundState = "revealed"
	RoundFinalized RoundState = "finalized"
)

type Stats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	// Count is the number of numeric votes, Total includes sentinels.
	Count int `json:"count"`
	Total int `json:"total"`
}

type Round struct {
	ID            string          `json:"id"`
	SessionID     SessionID       `json:"sessionId"`
	StoryID       string          `json:"storyId"`
	Number        int             `json:"number"`
	Votes         map[UserID]Vote `json:"-"`
	RevealedAt    *time.Time      `json:"revealedAt,omitempty"`
	FinalizedAt   *time.Time      `json:"finalizedAt,omitempty"`
	FinalEstimate *float64        `json:"finalEstimate,omitempty"`
	Stats         *Stats          `json:"stats,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func NewRound(id string, session SessionID, story string, number int, now time.Time) *Round {
	return &Round{
		ID:        id,
		SessionID: session,
		StoryID:   story,
		Number:    number,
		Votes:     make(map[UserID]Vote),
		CreatedAt: now,
	}
}

func (r *Round) State() RoundState {
	switch {
	case r == nil:
		return RoundNone
	case r.FinalizedAt != nil:
		return RoundFinalized
	case r.RevealedAt != nil:
		return RoundRevealed
	default:
		return RoundOpen
	}
}

func (r *Round) IsOpen() bool { return r.State() == RoundOpen }

// VoteList returns the votes ordered by cast time, then user id.
func (r *Round) VoteList() []Vote {
	out := make([]Vote, 0, len(r.Votes))
	for _, v := range r.Votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	c.Votes = make(map[UserID]Vote, len(r.Votes))
	for k, v := range r.Votes {
		c.Votes[k] = v
	}
	if r.RevealedAt != nil {
		t := *r.RevealedAt
		c.RevealedAt = &t
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		c.FinalizedAt = &t
	}
	if r.FinalEstimate != nil {
		v := *r.FinalEstimate
		c.FinalEstimate = &v
	}
	if r.Stats != nil {
		s := *r.Stats
		c.Stats = &s
	}
	return &c
}

// ComputeStats summarises the numeric subset of votes. It fails with
// ErrNoVotes when every vote is a sentinel or there are none.
func ComputeStats(votes []Vote) (Stats, error) {
	st := Stats{Total: len(votes)}
	var sum float64
	for _, v := range votes {
		if !IsNumericCard(v.Value) {
			continue
		}
		if st.Count == 0 || v.Value < st.Min {
			st.Min = v.Value
		}
		if st.Count == 0 || v.Value > st.Max {
			st.Max = v.Value
		}
		sum += v.Value
		st.Count++
	}
	if st.Count == 0 {
		return Stats{}, ErrNoVotes
	}
	st.Average = RoundHalfUp(sum/float64(st.Count), 1)
	return st, nil
}

// RoundHalfUp rounds x to the given number of decimals, halves rounding up.
func RoundHalfUp(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	// The epsilon absorbs binary representation error (6.05*10 = 60.4999...).
	return math.Floor(x*p+0.5+1e-9) / p
}

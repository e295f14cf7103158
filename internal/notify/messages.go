package notify

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/johndpope/erc20bet/internal/domain"
)

// Event types a Notifier can be configured with.
const (
	EventGameSettled = domain.ChannelGameSettled
	EventGameResult  = domain.ChannelGameResult
)

// Field is one labelled value of a game notification.
type Field struct {
	Name  string
	Value string
	// Inline fields may share a row when the channel lays them out.
	Inline bool
}

// Message is a game notification. Senders choose how to lay it out.
type Message struct {
	Event  string
	Title  string
	GameID *big.Int
	TxHash string
	Fields []Field
}

// Text renders the fields one per line as "name value".
func (m Message) Text() string {
	var b strings.Builder
	for i, f := range m.Fields {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s", f.Name, f.Value)
	}
	return b.String()
}

// GameSettled announces a reconstructed game.
func (n *Notifier) GameSettled(ctx context.Context, g domain.Game) error {
	return n.Notify(ctx, settledMessage(g))
}

// GameResolved announces the oracle result and the winning tickets.
func (n *Notifier) GameResolved(ctx context.Context, g domain.Game) error {
	return n.Notify(ctx, resolvedMessage(g))
}

func settledMessage(g domain.Game) Message {
	return Message{
		Event:  EventGameSettled,
		Title:  "Game settled",
		GameID: g.ID.Big(),
		TxHash: g.TxHash.Hex(),
		Fields: []Field{
			{Name: "game", Value: g.ID.Big().String()},
			{Name: "tx", Value: g.TxHash.Hex()},
			{Name: "bets", Value: strconv.Itoa(len(g.Bets)), Inline: true},
			{Name: "tickets", Value: strconv.Itoa(len(g.Tickets)), Inline: true},
			{Name: "outcomes", Value: strconv.Itoa(len(g.Ranges)), Inline: true},
			{Name: "root", Value: g.TicketsRoot.Hex()},
		},
	}
}

func resolvedMessage(g domain.Game) Message {
	m := Message{
		Event:  EventGameResult,
		Title:  "Game resolved",
		GameID: g.ID.Big(),
		TxHash: g.TxHash.Hex(),
		Fields: []Field{{Name: "game", Value: g.ID.Big().String()}},
	}
	if g.RandomNumber != nil {
		m.Fields = append(m.Fields, Field{Name: "random number", Value: g.RandomNumber.String()})
	}
	winners := g.Winners()
	if len(winners) == 0 {
		m.Fields = append(m.Fields, Field{Name: "winners", Value: "none"})
	}
	for _, t := range winners {
		m.Fields = append(m.Fields, Field{
			Name:  "winner",
			Value: fmt.Sprintf("%s wins %s", t.Owner.Hex(), FormatAmount(t.Payout)),
		})
	}
	return m
}

// FormatAmount renders a base-unit amount in whole tokens.
func FormatAmount(units *big.Int) string {
	if units == nil {
		return "0"
	}
	return domain.FromTokenAmount(units, domain.DefaultTokenDecimals).String()
}

package gamelog

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/domain"
)

// Decoder turns exchange contract logs into typed events.
type Decoder struct {
	exchange *chain.Exchange
}

// NewDecoder creates a Decoder over the exchange ABI.
func NewDecoder(x *chain.Exchange) *Decoder {
	return &Decoder{exchange: x}
}

// Decode converts logs in order. Logs whose topic is not an exchange event
// are skipped; a recognised log that does not decode fails the whole batch.
func (d *Decoder) Decode(logs []types.Log) ([]Event, error) {
	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		e, err := d.DecodeLog(l)
		if err != nil {
			return nil, fmt.Errorf("gamelog: log %d of tx %s: %w", l.Index, l.TxHash.Hex(), err)
		}
		if e != nil {
			events = append(events, e)
		}
	}
	return events, nil
}

// DecodeLog decodes a single log. It returns a nil Event for logs it does
// not recognise.
func (d *Decoder) DecodeLog(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return nil, nil
	}
	ev, ok := d.exchange.EventByTopic(l.Topics[0])
	if !ok {
		return nil, nil
	}

	a := make(args)
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(a, l.Data); err != nil {
		return nil, fmt.Errorf("%s data: %v: %w", ev.RawName, err, domain.ErrMalformedLog)
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(a, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%s topics: %v: %w", ev.RawName, err, domain.ErrMalformedLog)
	}
	return toEvent(ev.RawName, a)
}

package gamelog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
)

type jsonEvent struct {
	Event string                     `json:"event"`
	Args  map[string]json.RawMessage `json:"args"`
}

// ParseJSON reads an event log in the shape web3 clients print:
//
//	[{"event": "BetMatched", "args": {"betOwner": "0x..", "payout": "12", ...}}]
//
// Addresses are hex, integers decimal or 0x hex (string or number), byte
// strings 0x hex. Events the exchange does not emit are skipped.
func ParseJSON(r io.Reader, x *chain.Exchange) ([]Event, error) {
	var raw []jsonEvent
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("gamelog: parse json: %v: %w", err, domain.ErrMalformedLog)
	}

	events := make([]Event, 0, len(raw))
	for i, je := range raw {
		ev := matchEvent(x.ABI(), je)
		if ev == nil {
			continue
		}
		a := make(args, len(ev.Inputs))
		for _, in := range ev.Inputs {
			v, ok := je.Args[in.Name]
			if !ok {
				return nil, fmt.Errorf("gamelog: event %d %s: missing argument %q: %w", i, je.Event, in.Name, domain.ErrMalformedLog)
			}
			parsed, err := jsonValue(in.Type, v)
			if err != nil {
				return nil, fmt.Errorf("gamelog: event %d %s: argument %q: %w", i, je.Event, in.Name, err)
			}
			a[in.Name] = parsed
		}
		// Some oracle callbacks report the number inline even though the
		// event signature does not carry it.
		if v, ok := je.Args["generatedRandomNumber"]; ok {
			if _, have := a["generatedRandomNumber"]; !have {
				n, err := jsonInteger(v)
				if err != nil {
					return nil, fmt.Errorf("gamelog: event %d %s: generatedRandomNumber: %w", i, je.Event, err)
				}
				a["generatedRandomNumber"] = n
			}
		}
		e, err := toEvent(ev.RawName, a)
		if err != nil {
			return nil, fmt.Errorf("gamelog: event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// matchEvent picks the ABI event whose name matches and whose inputs are all
// present. Overloaded names such as BetMatched resolve by argument names.
func matchEvent(a *abi.ABI, je jsonEvent) *abi.Event {
	var fallback *abi.Event
	for _, ev := range a.Events {
		if ev.RawName != je.Event {
			continue
		}
		ev := ev
		if fallback == nil {
			fallback = &ev
		}
		complete := true
		for _, in := range ev.Inputs {
			if _, ok := je.Args[in.Name]; !ok {
				complete = false
				break
			}
		}
		if complete {
			return &ev
		}
	}
	return fallback
}

func jsonValue(t abi.Type, raw json.RawMessage) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, err := jsonString(raw)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q: %w", s, domain.ErrMalformedLog)
		}
		return common.HexToAddress(s), nil

	case abi.UintTy:
		n, err := jsonInteger(raw)
		if err != nil {
			return nil, err
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s does not fit uint%d: %w", n, t.Size, domain.ErrMalformedLog)
		}
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil

	case abi.FixedBytesTy:
		b, err := jsonBytes(raw)
		if err != nil {
			return nil, err
		}
		if len(b) != 32 || t.Size != 32 {
			return nil, fmt.Errorf("want 32 bytes, got %d: %w", len(b), domain.ErrMalformedLog)
		}
		return [32]byte(b), nil

	case abi.BytesTy:
		return jsonBytes(raw)

	case abi.SliceTy:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("want array: %v: %w", err, domain.ErrMalformedLog)
		}
		out := reflect.MakeSlice(t.GetType(), len(items), len(items))
		for i, item := range items {
			v, err := jsonValue(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(v))
		}
		return out.Interface(), nil
	}
	return nil, fmt.Errorf("unsupported abi type %s: %w", t.String(), domain.ErrMalformedLog)
}

func jsonString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("want string: %v: %w", err, domain.ErrMalformedLog)
	}
	return s, nil
}

func jsonInteger(raw json.RawMessage) (*big.Int, error) {
	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		s, err := jsonString(raw)
		if err != nil {
			return nil, err
		}
		text = s
	}
	n, ok := crypto.ParseInteger(text)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %s: %w", text, domain.ErrMalformedLog)
	}
	return n, nil
}

func jsonBytes(raw json.RawMessage) ([]byte, error) {
	s, err := jsonString(raw)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %v: %w", s, err, domain.ErrMalformedLog)
	}
	return b, nil
}

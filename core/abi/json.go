package abi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

// ErrInvalidJSON is returned by FromJSON for input that is not a JSON ABI.
var ErrInvalidJSON = errors.New("invalid json abi")

type jsonParam struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	InternalType string `json:"internalType,omitempty"`
	Indexed      bool   `json:"indexed,omitempty"`
}

type jsonEntry struct {
	Type            string      `json:"type"`
	Name            string      `json:"name,omitempty"`
	Inputs          []jsonParam `json:"inputs,omitempty"`
	Outputs         []jsonParam `json:"outputs,omitempty"`
	StateMutability string      `json:"stateMutability,omitempty"`
	Constant        *bool       `json:"constant,omitempty"`
	Payable         *bool       `json:"payable,omitempty"`
	Anonymous       *bool       `json:"anonymous,omitempty"`
	Signature       string      `json:"signature,omitempty"`
	Selector        string      `json:"selector,omitempty"`
}

func toJSONParams(ps []Param, event bool) []jsonParam {
	out := make([]jsonParam, len(ps))
	for i, p := range ps {
		out[i] = jsonParam{Name: p.Name, Type: p.Type, InternalType: p.InternalType}
		if event {
			out[i].Indexed = p.Indexed
		}
	}
	return out
}

// MarshalJSON renders the standard JSON ABI array: functions, then events,
// errors, constructor, fallback and receive. Function entries also carry
// their text signature and 0x selector.
func (d *DecompiledABI) MarshalJSON() ([]byte, error) {
	entries := make([]jsonEntry, 0, len(d.Functions)+len(d.Events)+len(d.Errors)+3)
	for i := range d.Functions {
		f := &d.Functions[i]
		constant, payable := f.Constant, f.Payable
		entries = append(entries, jsonEntry{
			Type:            "function",
			Name:            f.Name,
			Inputs:          toJSONParams(f.Inputs, false),
			Outputs:         toJSONParams(f.Outputs, false),
			StateMutability: f.StateMutability,
			Constant:        &constant,
			Payable:         &payable,
			Signature:       f.Signature(),
			Selector:        f.SelectorHex(),
		})
		// Keep empty lists explicit for consumers that require them.
		if entries[len(entries)-1].Inputs == nil {
			entries[len(entries)-1].Inputs = []jsonParam{}
		}
	}
	for i := range d.Events {
		e := &d.Events[i]
		anon := e.Anonymous
		entries = append(entries, jsonEntry{
			Type:      "event",
			Name:      e.Name,
			Inputs:    toJSONParams(e.Inputs, true),
			Anonymous: &anon,
		})
	}
	for i := range d.Errors {
		e := &d.Errors[i]
		entries = append(entries, jsonEntry{Type: "error", Name: e.Name, Inputs: toJSONParams(e.Inputs, false)})
	}
	special := func(typ string, s *Special) {
		if s == nil {
			return
		}
		payable := s.Payable
		entries = append(entries, jsonEntry{
			Type:            typ,
			Inputs:          toJSONParams(s.Inputs, false),
			StateMutability: s.StateMutability,
			Payable:         &payable,
		})
	}
	special("constructor", d.Constructor)
	special("fallback", d.Fallback)
	special("receive", d.Receive)
	return json.Marshal(entries)
}

// FromJSON parses a standard JSON ABI, either a bare array or an object
// with an "abi" member. Functions keep their order in the document.
func FromJSON(data []byte) (*DecompiledABI, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if len(wrapped.ABI) == 0 {
			return nil, fmt.Errorf("%w: no abi member", ErrInvalidJSON)
		}
		data = wrapped.ABI
	}
	parsed, err := gethabi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	var raw []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	out := &DecompiledABI{}
	methods := make(map[string]bool)
	events := make(map[string]bool)
	errs := make(map[string]bool)
	for _, r := range raw {
		switch r.Type {
		case "function", "":
			key := gethabi.ResolveNameConflict(r.Name, func(s string) bool { return methods[s] })
			methods[key] = true
			if m, ok := parsed.Methods[key]; ok {
				out.Functions = append(out.Functions, fromMethod(m))
			}
		case "event":
			key := gethabi.ResolveNameConflict(r.Name, func(s string) bool { return events[s] })
			events[key] = true
			if e, ok := parsed.Events[key]; ok {
				ev := Event{Name: e.RawName, Inputs: fromArgs(e.Inputs), Anonymous: e.Anonymous}
				copy(ev.Topic[:], e.ID[:])
				out.Events = append(out.Events, ev)
			}
		case "error":
			key := gethabi.ResolveNameConflict(r.Name, func(s string) bool { return errs[s] })
			errs[key] = true
			if e, ok := parsed.Errors[key]; ok {
				er := Error{Name: e.Name, Inputs: fromArgs(e.Inputs)}
				copy(er.Selector[:], e.ID[:4])
				out.Errors = append(out.Errors, er)
			}
		}
	}
	if parsed.Constructor.Type == gethabi.Constructor {
		out.Constructor = fromSpecial(parsed.Constructor)
	}
	if parsed.HasFallback() {
		out.Fallback = fromSpecial(parsed.Fallback)
	}
	if parsed.HasReceive() {
		out.Receive = fromSpecial(parsed.Receive)
	}
	return out, nil
}

func fromMethod(m gethabi.Method) FunctionABI {
	f := FunctionABI{
		Name:            m.RawName,
		Inputs:          fromArgs(m.Inputs),
		Outputs:         fromArgs(m.Outputs),
		Constant:        m.IsConstant(),
		Payable:         m.IsPayable(),
		StateMutability: m.StateMutability,
		Resolved:        true,
	}
	copy(f.Selector[:], m.ID)
	if f.StateMutability == "" {
		f.StateMutability = StateMutability(f.Constant, f.Payable, true)
	}
	return f
}

func fromSpecial(m gethabi.Method) *Special {
	s := &Special{Inputs: fromArgs(m.Inputs), Payable: m.IsPayable(), StateMutability: m.StateMutability}
	if s.StateMutability == "" {
		s.StateMutability = MutabilityNonPayable
		if s.Payable {
			s.StateMutability = MutabilityPayable
		}
	}
	return s
}

func fromArgs(args gethabi.Arguments) []Param {
	out := make([]Param, len(args))
	for i, a := range args {
		typ := a.Type.String()
		out[i] = Param{Name: a.Name, Type: typ, Position: i, InternalType: typ, Indexed: a.Indexed}
	}
	return out
}

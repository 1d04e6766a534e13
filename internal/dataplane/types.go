package dataplane

import "edgeless/internal/model"

// CallRet is the terminal value a Call awaits: a reply payload, an explicit
// "no reply", or an error (spec.md §4.3 "call(...) -> Reply(bytes) | NoReply | Err(reason)").
type CallRet struct {
	Kind      model.EventKind // KindCallRet, KindCallNoRet or KindErr
	Payload   []byte
	ErrReason string
}

// Reply builds a CallRet carrying a reply payload.
func Reply(payload []byte) CallRet { return CallRet{Kind: model.KindCallRet, Payload: payload} }

// NoReply builds a CallRet signaling the callee had nothing to return.
func NoReply() CallRet { return CallRet{Kind: model.KindCallNoRet} }

// Err builds a CallRet carrying a failure reason.
func Err(reason string) CallRet { return CallRet{Kind: model.KindErr, ErrReason: reason} }

func (r CallRet) IsErr() bool { return r.Kind == model.KindErr }

package replication

import "github.com/QYUbit/Replica/pkg/wire"

// Replica implements the state plumbing of Entity for fixed-layout params P and
// state S. Entities embed it and add behavior.
type Replica[P, S any] struct {
	Params P
	State  S

	pending    S
	updates    uint32
	reconciled uint32
}

func NewReplica[P, S any](params P, state S) Replica[P, S] {
	return Replica[P, S]{Params: params, State: state}
}

func (r *Replica[P, S]) ConstructionParams() []byte {
	return wire.Append(nil, r.Params)
}

func (r *Replica[P, S]) Serialize() []byte {
	return wire.Append(nil, r.State)
}

func (r *Replica[P, S]) ApplyDeserialized(state []byte) error {
	s, err := wire.Extract[S](state, 0)
	if err != nil {
		return err
	}
	r.pending = s
	r.updates++
	return nil
}

func (r *Replica[P, S]) Pending() bool {
	return r.updates != r.reconciled
}

// Updates counts the authoritative states received so far.
func (r *Replica[P, S]) Updates() uint32 {
	return r.updates
}

// ReconcileWith replaces State with the pending authoritative state. keep may
// copy fields the local side owns from predicted into auth first.
func (r *Replica[P, S]) ReconcileWith(keep func(predicted, auth *S)) bool {
	if !r.Pending() {
		return false
	}
	auth := r.pending
	if keep != nil {
		keep(&r.State, &auth)
	}
	r.State = auth
	r.reconciled = r.updates
	return true
}

// DecodeParams decodes construction params received on the wire.
func DecodeParams[P any](params []byte) (P, error) {
	return wire.Extract[P](params, 0)
}

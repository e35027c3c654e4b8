package server

import (
	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/wire"
)

// visibleSet picks the objects a session hears about this tick: its own
// objects first, then everything inside the view of its first viewer, in id
// order and capped at limit.
func visibleSet(sess *Session, snap Snapshot, limit int) []wire.ObjectID {
	out := make([]wire.ObjectID, 0, limit)

	var frustum *mathx.Frustum
	for _, id := range sess.Associated() {
		e, ok := snap.Get(id)
		if !ok {
			continue
		}
		if len(out) < limit {
			out = append(out, id)
		}
		if v, ok := e.(replication.Viewer); ok && frustum == nil {
			f := mathx.NewFrustum(v.View(), sess.Camera.FOV, sess.Camera.AspectRatio)
			frustum = &f
		}
	}

	for _, id := range snap.IDs() {
		if len(out) >= limit {
			break
		}
		if sess.IsAssociated(id) {
			continue
		}
		e, _ := snap.Get(id)
		if frustum == nil || frustum.Contains(e.Bounds()) {
			out = append(out, id)
		}
	}
	return out
}

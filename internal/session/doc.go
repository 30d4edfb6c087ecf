// Package session owns in-memory chat session state and its durable
// mirror: the session store, the debounced write scheduler, the per-image
// lifecycle controller, and the serializer producing the size-bounded
// persisted form.
package session

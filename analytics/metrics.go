package analytics

import (
	"context"

	"learnkit/core"
)

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Subscriber is the part of the engine hooks attach to.
type Subscriber interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

// Attach feeds every engine event to hook. The returned func detaches it.
func Attach(sub Subscriber, hook Hook) func() {
	unsubs := make([]func(), 0, len(core.EventTypes))
	for _, typ := range core.EventTypes {
		unsubs = append(unsubs, sub.Subscribe(typ, func(_ context.Context, e core.Event) { hook.OnEvent(e) }))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

package runtime

import "github.com/flowmesh/dagcore/pkg/network"

// cacheMonitor adapts leafcache.Cache onto the network.EditMonitor
// interface it is registered under. The cache only needs to react to
// connection changes and full clears — WillDeleteNode/DidAddNode never
// change which outputs are leaves by themselves, since a node gains or
// loses leaf status only through its connections changing — so this
// embeds network.NopMonitor and overrides just the three methods the
// cache's own API exposes — DidConnect, WillDeleteConnection, and
// WillClear mapped onto Clear (spec §4.7: "owns... the network-edit monitor
// that keeps C5 current").
type cacheMonitor struct {
	network.NopMonitor
	cache interface {
		DidConnect(network.Connection)
		WillDeleteConnection(network.Connection)
		Clear()
	}
}

func (m *cacheMonitor) DidConnect(c network.Connection)           { m.cache.DidConnect(c) }
func (m *cacheMonitor) WillDeleteConnection(c network.Connection) { m.cache.WillDeleteConnection(c) }
func (m *cacheMonitor) WillClear()                                { m.cache.Clear() }

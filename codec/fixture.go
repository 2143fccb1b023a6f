package codec

import "github.com/scitags/ntstat-go/types"

func (c *structCodec) EncodeSourceAdded(ctx uint64, provider ProviderID, ref SourceRef) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeSrcAdded, c.l.addedSize)}
	wb.u32(c.l.addedProvider, uint32(provider))
	c.writeRef(&wb, c.l.addedRef, ref)
	return wb.Bytes
}

func (c *structCodec) EncodeSourceRemoved(ctx uint64, ref SourceRef) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeSrcRemoved, c.l.refOnlySize)}
	c.writeRef(&wb, HeaderSize, ref)
	return wb.Bytes
}

// EncodeDescription lays d out as the kernel would. Descriptions for
// providers that aren't TCP or UDP get a UDP sized descriptor so they can
// be used to exercise decoding failures.
func (c *structCodec) EncodeDescription(ctx uint64, d *Description) []byte {
	dl := c.l.udp
	if prov, ok := c.l.providers[d.Provider]; ok && prov.proto == types.TCP {
		dl = c.l.tcp
	}

	base := c.l.descData
	wb := writeBuffer{newMessage(ctx, MsgTypeSrcDesc, base+dl.size)}
	c.writeRef(&wb, c.l.descRef, d.Ref)
	wb.u32(c.l.descProvider, uint32(d.Provider))

	wb.sockaddr(base+dl.local, d.Key.Local, d.Key.LocalPort)
	wb.sockaddr(base+dl.remote, d.Key.Remote, d.Key.RemotePort)
	wb.u32(base+dl.ifIndex, d.Key.IfIndex)

	wb.u32(base+dl.pid, d.Process.PID)
	wb.u64(base+dl.upid, d.Process.UPID)
	wb.cstring(base+dl.pname, pnameSize, d.Process.Name)

	wb.u32(base+dl.trafficClass, d.State.TrafficClass)
	if dl.state != absent {
		wb.u32(base+dl.state, uint32(d.State.TCPState))
		wb.u32(base+dl.txWindow, d.State.TxWindow)
		wb.u32(base+dl.txCWindow, d.State.TxCongestionWindow)
		wb.cstring(base+dl.ccAlgo, ccAlgoSize, d.State.CongestionAlgorithm)
	}

	return wb.Bytes
}

func (c *structCodec) EncodeCounts(ctx uint64, ref SourceRef, counters types.Counters) []byte {
	cl := c.l.counts
	base := c.l.countsData

	wb := writeBuffer{newMessage(ctx, MsgTypeSrcCounts, base+cl.size)}
	c.writeRef(&wb, c.l.countsRef, ref)

	wb.u64(base+cl.rxPackets, counters.RxPackets)
	wb.u64(base+cl.rxBytes, counters.RxBytes)
	wb.u64(base+cl.txPackets, counters.TxPackets)
	wb.u64(base+cl.txBytes, counters.TxBytes)

	wb.u64(base+cl.cellRxBytes, counters.CellRxBytes)
	wb.u64(base+cl.cellTxBytes, counters.CellTxBytes)
	wb.u64(base+cl.wifiRxBytes, counters.WifiRxBytes)
	wb.u64(base+cl.wifiTxBytes, counters.WifiTxBytes)
	wb.u64(base+cl.wiredRxBytes, counters.WiredRxBytes)
	wb.u64(base+cl.wiredTxBytes, counters.WiredTxBytes)

	wb.u32(base+cl.rxDuplicateBytes, counters.RxDuplicateBytes)
	wb.u32(base+cl.rxOutOfOrderBytes, counters.RxOutOfOrderBytes)
	wb.u32(base+cl.txRetransmitBytes, counters.TxRetransmitBytes)
	wb.u32(base+cl.connectAttempts, counters.ConnectAttempts)
	wb.u32(base+cl.connectSuccesses, counters.ConnectSuccesses)
	wb.u32(base+cl.minRTT, counters.MinRTT)
	wb.u32(base+cl.avgRTT, counters.AvgRTT)
	wb.u32(base+cl.varRTT, counters.VarRTT)

	return wb.Bytes
}

func (c *structCodec) EncodeError(ctx uint64, errno uint32) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeError, c.l.errorSize)}
	wb.u32(c.l.errorCode, errno)
	return wb.Bytes
}

func (c *structCodec) EncodeSuccess(ctx uint64) []byte {
	return newMessage(ctx, MsgTypeSuccess, HeaderSize)
}
